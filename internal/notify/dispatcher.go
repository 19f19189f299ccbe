package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agencyhub/pkg/platform/buffer"
	"agencyhub/pkg/platform/circuit"
	"agencyhub/pkg/requestcontext"
)

const (
	defaultWorkers        = 4
	defaultBufferSize     = 10000
	defaultBatchSize      = 50
	defaultMaxAttempts    = 3
	defaultAttemptTimeout = 2 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
	drainTimeout          = 5 * time.Second
)

// Dispatcher queues notifications in a bounded ring buffer and delivers them
// from a worker pool. When the buffer is full the oldest notification is
// dropped. Each delivery is retried with exponential backoff; consecutive
// failures trip a circuit breaker that reroutes to the fallback sink.
type Dispatcher struct {
	sink     Sink
	fallback Sink
	buf      *buffer.Ring[Notification]
	breaker  *circuit.Breaker
	wake     chan struct{}
	logger   *slog.Logger
	metrics  *Metrics

	workers        int
	batchSize      int
	maxAttempts    int
	attemptTimeout time.Duration
	pollInterval   time.Duration
	bufferSize     int
	newBackoff     func() backoff.BackOff
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithBufferSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithAttemptTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.attemptTimeout = t
		}
	}
}

// WithBackoff replaces the retry schedule between delivery attempts.
func WithBackoff(newBackoff func() backoff.BackOff) Option {
	return func(d *Dispatcher) {
		if newBackoff != nil {
			d.newBackoff = newBackoff
		}
	}
}

func WithFallback(s Sink) Option {
	return func(d *Dispatcher) {
		d.fallback = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher builds a dispatcher delivering to sink. Call Run to start the workers.
func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		logger:         slog.Default(),
		workers:        defaultWorkers,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		attemptTimeout: defaultAttemptTimeout,
		pollInterval:   defaultPollInterval,
		bufferSize:     defaultBufferSize,
		wake:           make(chan struct{}, 1),
		newBackoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.fallback == nil {
		d.fallback = NewLogSink(d.logger)
	}
	if d.breaker == nil {
		d.breaker = circuit.New("notifications")
	}
	d.buf = buffer.NewRing[Notification](d.bufferSize)
	return d
}

// Notify enqueues notifications without blocking. IDs and timestamps are
// filled in when missing.
func (d *Dispatcher) Notify(ctx context.Context, ns ...Notification) {
	now := requestcontext.Now(ctx)
	for _, n := range ns {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if dropped := d.buf.Enqueue(n); dropped {
			d.metrics.incDropped()
			d.logger.WarnContext(ctx, "notification buffer full, dropped oldest",
				"log_type", "side_effect",
				"dropped_total", d.buf.Dropped(),
			)
		}
		d.metrics.incEnqueued()
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many notifications are waiting for delivery.
func (d *Dispatcher) Pending() int { return d.buf.Len() }

// Run starts the worker pool and blocks until ctx is cancelled, then makes a
// bounded final attempt to deliver what is still queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	d.Drain(drainCtx)
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-ticker.C:
		}
		for _, n := range d.buf.DequeueBatch(d.batchSize) {
			d.deliver(ctx, n)
		}
		if d.buf.Len() > 0 {
			select {
			case d.wake <- struct{}{}:
			default:
			}
		}
	}
}

// Drain synchronously delivers everything queued and returns how many
// notifications it processed.
func (d *Dispatcher) Drain(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		batch := d.buf.DequeueBatch(d.batchSize)
		if len(batch) == 0 {
			break
		}
		for _, n := range batch {
			d.deliver(ctx, n)
		}
		total += len(batch)
	}
	return total
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) {
	if !d.breaker.Allow() {
		d.sendFallback(ctx, n)
		return
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(d.newBackoff(), uint64(d.maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		defer cancel()
		return d.sink.Send(attemptCtx, n)
	}, policy)
	if err == nil {
		d.metrics.incDelivered()
		if _, change := d.breaker.RecordSuccess(); change.Closed {
			d.logger.InfoContext(ctx, "notification sink recovered", "breaker", d.breaker.Name())
		}
		return
	}

	d.metrics.incFailed()
	d.logger.WarnContext(ctx, "notification delivery failed",
		"log_type", "side_effect",
		"notification_id", n.ID,
		"kind", n.Kind,
		"error", err,
	)
	if _, change := d.breaker.RecordFailure(); change.Opened {
		d.logger.WarnContext(ctx, "notification sink circuit opened", "breaker", d.breaker.Name())
	}
	d.sendFallback(ctx, n)
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return b
}

func (d *Dispatcher) sendFallback(ctx context.Context, n Notification) {
	d.metrics.incFallback()
	if err := d.fallback.Send(ctx, n); err != nil {
		d.logger.WarnContext(ctx, "notification fallback failed",
			"log_type", "side_effect",
			"notification_id", n.ID,
			"error", err,
		)
	}
}

// Metrics tracks notification throughput. A nil *Metrics is a no-op.
type Metrics struct {
	enqueued  prometheus.Counter
	dropped   prometheus.Counter
	delivered prometheus.Counter
	failed    prometheus.Counter
	fallback  prometheus.Counter
}

// NewMetrics registers the notification metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_notifications_enqueued_total",
			Help: "Notifications accepted into the dispatch buffer",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_notifications_dropped_total",
			Help: "Notifications evicted because the dispatch buffer was full",
		}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_notifications_delivered_total",
			Help: "Notifications delivered to the primary sink",
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_notifications_failed_total",
			Help: "Notifications whose primary delivery failed after retries",
		}),
		fallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "agencyhub_notifications_fallback_total",
			Help: "Notifications routed to the fallback sink",
		}),
	}
}

func (m *Metrics) incEnqueued() {
	if m != nil {
		m.enqueued.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) incFailed() {
	if m != nil {
		m.failed.Inc()
	}
}

func (m *Metrics) incFallback() {
	if m != nil {
		m.fallback.Inc()
	}
}
