package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

type VerificationStatus string

const (
	VerificationStatusCompleted VerificationStatus = "COMPLETED"
	VerificationStatusExpired   VerificationStatus = "EXPIRED"
	VerificationStatusRevoked   VerificationStatus = "REVOKED"
)

// Verification is one paid badge issuance. An escort accumulates a history
// of these; the newest COMPLETED unexpired one backs Escort.IsVerified.
type Verification struct {
	ID            id.VerificationID  `json:"id"`
	AgencyID      id.AgencyID        `json:"agency_id"`
	EscortID      id.EscortID        `json:"escort_id"`
	PricingTierID id.PricingTierID   `json:"pricing_tier_id"`
	Status        VerificationStatus `json:"status"`
	StartsAt      time.Time          `json:"starts_at"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
	Notes         string             `json:"verification_notes,omitempty"`
	VerifiedBy    id.UserID          `json:"verified_by"`
	CompletedAt   time.Time          `json:"completed_at"`
	IsRenewal     bool               `json:"is_renewal"`
}

// NewVerification issues a completed verification for tier, running from now
// for the tier's duration.
func NewVerification(
	verificationID id.VerificationID,
	agencyID id.AgencyID,
	escortID id.EscortID,
	tier PricingTier,
	notes string,
	verifiedBy id.UserID,
	renewal bool,
	now time.Time,
) *Verification {
	return &Verification{
		ID:            verificationID,
		AgencyID:      agencyID,
		EscortID:      escortID,
		PricingTierID: tier.ID,
		Status:        VerificationStatusCompleted,
		StartsAt:      now,
		ExpiresAt:     tier.ExpiryFrom(now),
		Notes:         notes,
		VerifiedBy:    verifiedBy,
		CompletedAt:   now,
		IsRenewal:     renewal,
	}
}

// IsCurrent reports whether the verification still grants the badge at now.
func (v *Verification) IsCurrent(now time.Time) bool {
	if v.Status != VerificationStatusCompleted {
		return false
	}
	return v.ExpiresAt == nil || now.Before(*v.ExpiresAt)
}
