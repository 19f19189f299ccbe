// Package service is the membership transition engine. Every mutating
// operation follows the same shape:
//
//  1. early, lock-free eligibility check for a friendly error
//  2. ledger transaction: lock the escort row, re-check, transition,
//     adjust agency counters, cascade auto-cancellations
//  3. commit, then detached fan-out (notifications, reputation)
//
// Step 2 is what keeps an escort to at most one ACTIVE membership when two
// agencies approve concurrently; step 3 never fails the operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agencyhub/internal/membership/metrics"
	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/store"
	"agencyhub/internal/notify"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
	"agencyhub/pkg/platform/sentinel"
	"agencyhub/pkg/requestcontext"
)

// Ledger is the storage port. All methods must honour the transaction bound
// to ctx by LedgerTx.
type Ledger interface {
	LockEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error)
	FindEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error)
	UpdateEscortVerification(ctx context.Context, e *models.Escort) error

	FindAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error)
	AdjustAgencyCounters(ctx context.Context, agencyID id.AgencyID, delta models.CounterDelta, now time.Time) error

	FindMembership(ctx context.Context, membershipID id.MembershipID) (*models.Membership, error)
	FindMembershipByPair(ctx context.Context, escortID id.EscortID, agencyID id.AgencyID) (*models.Membership, error)
	FindActiveMembership(ctx context.Context, escortID id.EscortID) (*models.Membership, error)
	CountPendingMemberships(ctx context.Context, escortID id.EscortID) (int, error)
	ListMemberships(ctx context.Context, agencyID id.AgencyID, status models.MembershipStatus) ([]*models.Membership, error)
	CreateMembership(ctx context.Context, m *models.Membership) error
	UpdateMembership(ctx context.Context, m *models.Membership) error
	RejectPendingMemberships(ctx context.Context, escortID id.EscortID, exceptID id.MembershipID, cause models.RejectionCause, reason string, now time.Time) ([]*models.Membership, error)

	FindInvitation(ctx context.Context, invitationID id.InvitationID) (*models.Invitation, error)
	FindLiveInvitation(ctx context.Context, escortID id.EscortID, agencyID id.AgencyID, now time.Time) (*models.Invitation, error)
	CreateInvitation(ctx context.Context, inv *models.Invitation) error
	UpdateInvitation(ctx context.Context, inv *models.Invitation) error
	ExpireInvitations(ctx context.Context, now time.Time) (int, error)

	CreateVerification(ctx context.Context, v *models.Verification) error
	RevokeVerifications(ctx context.Context, escortID id.EscortID) (int, error)
	ExpireVerifications(ctx context.Context, escortID id.EscortID, now time.Time) (int, error)
	ListExpiringVerifications(ctx context.Context, agencyID id.AgencyID, from, to time.Time) ([]*models.Verification, error)
	ListLapsedEscorts(ctx context.Context, now time.Time, limit int) ([]id.EscortID, error)
}

// LedgerTx provides the transactional boundary for ledger mutations.
// Implementations may wrap a database transaction or, in-memory, a coarse lock.
type LedgerTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Catalog resolves verification pricing tiers.
type Catalog interface {
	ActiveTiers(ctx context.Context) ([]models.PricingTier, error)
	Tier(ctx context.Context, tierID id.PricingTierID) (*models.PricingTier, error)
}

// Notifier accepts notifications for asynchronous delivery. It must not block.
type Notifier interface {
	Notify(ctx context.Context, ns ...notify.Notification)
}

// TrustBumper adjusts an escort's reputation score.
type TrustBumper interface {
	Bump(ctx context.Context, escortID id.EscortID, delta float64) (float64, error)
}

const (
	sideEffectTimeout = 2 * time.Second
	maxMessageLength  = 1000
	maxBenefits       = 20
	maxExpiringDays   = 365
)

// Service orchestrates membership, invitation and verification transitions.
type Service struct {
	ledger   Ledger
	tx       LedgerTx
	catalog  Catalog
	notifier Notifier
	trust    TrustBumper
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	clock    func(ctx context.Context) time.Time

	sweepBatch int
	background sync.WaitGroup
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithReputation(t TrustBumper) Option {
	return func(s *Service) {
		s.trust = t
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithClock pins the service clock. Without it the request-scoped time from
// requestcontext is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = func(context.Context) time.Time { return now() }
		}
	}
}

// WithSweepBatch bounds how many lapsed escorts one ExpireStale call handles.
func WithSweepBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// New constructs a Service. The ledger, its transaction runner and the
// pricing catalog are required.
func New(ledger Ledger, tx LedgerTx, catalog Catalog, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("ledger transaction runner is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("pricing catalog is required")
	}
	s := &Service{
		ledger:     ledger,
		tx:         tx,
		catalog:    catalog,
		logger:     slog.Default(),
		tracer:     otel.Tracer("agencyhub/membership"),
		clock:      requestcontext.Now,
		sweepBatch: store.DefaultSweepBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Wait blocks until detached side effects started so far have finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// begin starts a span and returns a finish func recording outcome metrics.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "membership."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
			if reason := dErrors.ReasonOf(err); reason != "" {
				span.SetAttributes(attribute.String("error.reason", reason))
			}
			if dErrors.ReasonOf(err) == models.ReasonAcceptedElsewhere {
				s.metrics.IncActiveConflict()
			}
		}
		span.End()
		s.metrics.ObserveOperation(op, start, err)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	if actor := requestcontext.Actor(ctx); !actor.UserID.IsNil() {
		attributes = append(attributes, "actor_id", actor.UserID.String())
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// fanOut hands notifications to the notifier. The notifier only enqueues,
// so this never delays the caller.
func (s *Service) fanOut(ctx context.Context, ns ...notify.Notification) {
	if s.notifier == nil || len(ns) == 0 {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), ns...)
}

// detach runs fn after the response path with its own deadline; failures are
// logged as side-effect warnings and otherwise ignored.
func (s *Service) detach(ctx context.Context, name string, fn func(ctx context.Context) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := fn(bg); err != nil {
			s.logger.WarnContext(bg, "side effect failed",
				"log_type", "side_effect",
				"side_effect", name,
				"error", err,
			)
		}
	}()
}

// ledgerErr translates store errors into domain errors. Domain errors pass
// through untouched so in-transaction checks keep their codes.
func ledgerErr(err error, notFoundReason, message string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrActiveMembershipExists):
		return dErrors.WrapReason(err, dErrors.CodeConflict, models.ReasonAcceptedElsewhere,
			"escort has already been accepted by another agency")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.WrapReason(err, dErrors.CodeNotFound, notFoundReason, message+": not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, message+": conflict")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, message+": storage unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, message)
	}
}

// optional converts a not-found into (nil, nil).
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (s *Service) lockEscort(ctx context.Context, escortID id.EscortID) (*models.Escort, error) {
	escort, err := s.ledger.LockEscort(ctx, escortID)
	if err != nil {
		return nil, ledgerErr(err, models.ReasonEscortNotFound, "failed to lock escort")
	}
	return escort, nil
}

func (s *Service) findAgency(ctx context.Context, agencyID id.AgencyID) (*models.Agency, error) {
	agency, err := s.ledger.FindAgency(ctx, agencyID)
	if err != nil {
		return nil, ledgerErr(err, models.ReasonAgencyNotFound, "failed to load agency")
	}
	return agency, nil
}

func (s *Service) activeMembership(ctx context.Context, escortID id.EscortID) (*models.Membership, error) {
	active, err := optional(s.ledger.FindActiveMembership(ctx, escortID))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to load active membership")
	}
	return active, nil
}

// cascade rejects every other PENDING row of the escort and returns them.
func (s *Service) cascade(ctx context.Context, escortID id.EscortID, keep id.MembershipID, now time.Time) ([]*models.Membership, error) {
	cancelled, err := s.ledger.RejectPendingMemberships(ctx, escortID, keep, models.CauseAutoCancelled,
		"escort joined another agency", now)
	if err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to cancel competing requests")
	}
	return cancelled, nil
}

func acceptedElsewhere() error {
	return dErrors.NewReason(dErrors.CodeConflict, models.ReasonAcceptedElsewhere,
		"escort has already been accepted by another agency")
}

func validateMessage(field, msg string) error {
	if len(msg) > maxMessageLength {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s must be at most %d characters", field, maxMessageLength))
	}
	return nil
}

func validateCommission(rate float64) error {
	if rate < 0 || rate > 100 {
		return dErrors.New(dErrors.CodeValidation, "commission rate must be between 0 and 100")
	}
	return nil
}

func requireID(name string, isNil bool) error {
	if isNil {
		return dErrors.New(dErrors.CodeValidation, name+" is required")
	}
	return nil
}
