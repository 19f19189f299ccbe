// Package sweeper periodically expires stale invitations and lapsed
// verifications. Reads already treat both as expired, so the sweep only
// catches the stored state and the agency counters up.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"agencyhub/internal/membership/models"
	"agencyhub/pkg/requestcontext"
)

// DefaultInterval is how often the sweep runs when not configured.
const DefaultInterval = 15 * time.Minute

// Expirer performs one sweep pass.
type Expirer interface {
	ExpireStale(ctx context.Context) (*models.SweepResult, error)
}

type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(expirer Expirer, opts ...Option) *Sweeper {
	s := &Sweeper{
		expirer:  expirer,
		interval: DefaultInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "expiry sweeper started", "interval", s.interval.String())
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep with one clock reading shared by the whole
// batch. Failures are logged; the next tick retries.
func (s *Sweeper) RunOnce(ctx context.Context) *models.SweepResult {
	ctx = requestcontext.WithTime(ctx, s.now())
	res, err := s.expirer.ExpireStale(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
	}
	if res != nil && (res.InvitationsExpired > 0 || res.VerificationsExpired > 0) {
		s.logger.InfoContext(ctx, "expiry sweep completed",
			"invitations_expired", res.InvitationsExpired,
			"verifications_expired", res.VerificationsExpired,
		)
	}
	return res
}
