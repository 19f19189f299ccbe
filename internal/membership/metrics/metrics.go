package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "agencyhub/pkg/domain-errors"
)

// Metrics provides observability for the membership engine.
// Tracks per-operation outcomes and latency, cascade sizes and sweeps.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	AutoCancelled     prometheus.Counter
	ActiveConflicts   prometheus.Counter
	Swept             *prometheus.CounterVec
}

// New registers the membership metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agencyhub_membership_operations_total",
			Help: "Membership engine operations by outcome (ok or error code)",
		}, []string{"operation", "outcome"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agencyhub_membership_operation_duration_seconds",
			Help:    "Duration of membership engine operations including the ledger transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		AutoCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_membership_auto_cancelled_total",
			Help: "Pending requests auto-cancelled because the escort joined another agency",
		}),
		ActiveConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_membership_active_conflicts_total",
			Help: "Approvals or acceptances lost to a concurrent activation",
		}),
		Swept: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agencyhub_membership_swept_total",
			Help: "Rows expired by the sweeper",
		}, []string{"kind"}),
	}
}

// ObserveOperation records the outcome and latency of an operation.
// Call with time.Now() taken at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddAutoCancelled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AutoCancelled.Add(float64(n))
}

func (m *Metrics) IncActiveConflict() {
	if m == nil {
		return
	}
	m.ActiveConflicts.Inc()
}

func (m *Metrics) AddSwept(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Swept.WithLabelValues(kind).Add(float64(n))
}
