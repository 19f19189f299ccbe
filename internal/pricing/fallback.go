package pricing

import (
	"github.com/google/uuid"

	"agencyhub/internal/membership/models"
	id "agencyhub/pkg/domain"
)

// Stable identifiers so a fallback tier shown to an agency can be bought by id.
var (
	BasicTierID   = id.PricingTierID(uuid.MustParse("6f1c7f2e-2d55-4b8e-9a51-0b8c3b7e1a01"))
	PremiumTierID = id.PricingTierID(uuid.MustParse("6f1c7f2e-2d55-4b8e-9a51-0b8c3b7e1a02"))
	VIPTierID     = id.PricingTierID(uuid.MustParse("6f1c7f2e-2d55-4b8e-9a51-0b8c3b7e1a03"))
)

// FallbackTiers returns a fresh copy of the built-in tiers.
func FallbackTiers() []models.PricingTier {
	basic, premium, vip := 30, 90, 365
	return []models.PricingTier{
		{
			ID:           BasicTierID,
			Name:         "Basic Verification",
			CostCents:    4999,
			Currency:     "USD",
			Features:     []string{"Verified badge", "Identity check"},
			DurationDays: &basic,
			IsActive:     true,
		},
		{
			ID:           PremiumTierID,
			Name:         "Premium Verification",
			CostCents:    12999,
			Currency:     "USD",
			Features:     []string{"Verified badge", "Identity check", "Photo verification", "Priority placement"},
			DurationDays: &premium,
			IsActive:     true,
		},
		{
			ID:           VIPTierID,
			Name:         "VIP Verification",
			CostCents:    39999,
			Currency:     "USD",
			Features:     []string{"Verified badge", "Identity check", "Photo verification", "Priority placement", "Featured profile"},
			DurationDays: &vip,
			IsActive:     true,
		},
	}
}
