// Package pricing serves the verification pricing catalog: the active tiers
// agencies can purchase, read from the tier source through an optional cache
// and backed by a fixed fallback list so verification never stalls on an
// empty or unreachable catalog.
package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"agencyhub/internal/membership/models"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
)

// loadTimeout bounds a shared source load, which outlives any single caller.
const loadTimeout = 5 * time.Second

// TierSource loads active tiers from durable storage.
type TierSource interface {
	ActiveTiers(ctx context.Context) ([]models.PricingTier, error)
}

// Cache holds the last loaded tier list. A miss returns ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context) (tiers []models.PricingTier, ok bool, err error)
	Set(ctx context.Context, tiers []models.PricingTier) error
}

// Catalog resolves pricing tiers.
type Catalog struct {
	source TierSource
	cache  Cache
	logger *slog.Logger
	group  singleflight.Group
}

type Option func(*Catalog)

func WithCache(c Cache) Option {
	return func(cat *Catalog) {
		cat.cache = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cat *Catalog) {
		cat.logger = logger
	}
}

// New constructs a Catalog. A nil source serves the fallback tiers only.
func New(source TierSource, opts ...Option) *Catalog {
	c := &Catalog{source: source, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveTiers returns the active tiers ordered by ascending cost. An empty or
// failing source yields the fallback tiers instead of an error.
func (c *Catalog) ActiveTiers(ctx context.Context) ([]models.PricingTier, error) {
	if c.cache != nil {
		tiers, ok, err := c.cache.Get(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "pricing cache read failed",
				"error", err,
			)
		} else if ok && len(tiers) > 0 {
			return tiers, nil
		}
	}

	v, _, _ := c.group.Do("active", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.load(loadCtx), nil
	})
	return slices.Clone(v.([]models.PricingTier)), nil
}

func (c *Catalog) load(ctx context.Context) []models.PricingTier {
	if c.source == nil {
		return FallbackTiers()
	}
	tiers, err := c.source.ActiveTiers(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "pricing source failed, serving fallback tiers",
			"error", err,
		)
		return FallbackTiers()
	}
	tiers = slices.DeleteFunc(tiers, func(t models.PricingTier) bool { return !t.IsActive })
	if len(tiers) == 0 {
		c.logger.InfoContext(ctx, "pricing source empty, serving fallback tiers")
		return FallbackTiers()
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].CostCents < tiers[j].CostCents })

	if c.cache != nil {
		if err := c.cache.Set(ctx, tiers); err != nil {
			c.logger.WarnContext(ctx, "pricing cache write failed",
				"error", err,
			)
		}
	}
	return tiers
}

// Tier resolves one tier by id from the active list.
func (c *Catalog) Tier(ctx context.Context, tierID id.PricingTierID) (*models.PricingTier, error) {
	tiers, err := c.ActiveTiers(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tiers {
		if t.ID == tierID {
			return &t, nil
		}
	}
	return nil, dErrors.NewReason(dErrors.CodeNotFound, models.ReasonPricingTierNotFound,
		fmt.Sprintf("pricing tier %s not found", tierID))
}
