package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

// PricingTier is a purchasable verification level. DurationDays nil means the
// verification never expires.
type PricingTier struct {
	ID           id.PricingTierID `json:"id"`
	Name         string           `json:"name"`
	CostCents    int64            `json:"cost_cents"`
	Currency     string           `json:"currency"`
	Features     []string         `json:"features"`
	DurationDays *int             `json:"duration_days,omitempty"`
	IsActive     bool             `json:"is_active"`
}

// Duration returns the tier length, or zero for permanent tiers.
func (t PricingTier) Duration() time.Duration {
	if t.DurationDays == nil {
		return 0
	}
	return time.Duration(*t.DurationDays) * 24 * time.Hour
}

// ExpiryFrom computes the expiry of a verification starting at start.
func (t PricingTier) ExpiryFrom(start time.Time) *time.Time {
	if t.DurationDays == nil {
		return nil
	}
	expires := start.Add(t.Duration())
	return &expires
}

// IsPermanent reports whether verifications of this tier never expire.
func (t PricingTier) IsPermanent() bool { return t.DurationDays == nil }
