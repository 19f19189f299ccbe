package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

// Escort is the contractor side of a membership. Only the verification fields
// are owned by this module; profile data lives elsewhere.
type Escort struct {
	ID                    id.EscortID  `json:"id"`
	UserID                id.UserID    `json:"user_id"`
	DisplayName           string       `json:"display_name"`
	IsVerified            bool         `json:"is_verified"`
	VerifiedAt            *time.Time   `json:"verified_at,omitempty"`
	VerifiedBy            *id.AgencyID `json:"verified_by,omitempty"`
	VerificationExpiresAt *time.Time   `json:"verification_expires_at,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// VerifiedByAgency reports whether the escort currently holds a badge issued by agencyID.
func (e *Escort) VerifiedByAgency(agencyID id.AgencyID) bool {
	return e.IsVerified && e.VerifiedBy != nil && *e.VerifiedBy == agencyID
}

// VerificationLapsed reports whether the stored badge is past its expiry.
// A permanent verification never lapses.
func (e *Escort) VerificationLapsed(now time.Time) bool {
	if !e.IsVerified || e.VerificationExpiresAt == nil {
		return false
	}
	return !now.Before(*e.VerificationExpiresAt)
}

// ApplyVerification records a badge from agencyID. On renewal the original
// VerifiedAt is kept so the grace period is not restarted.
func (e *Escort) ApplyVerification(agencyID id.AgencyID, expiresAt *time.Time, renewal bool, now time.Time) {
	if !renewal || e.VerifiedAt == nil {
		verifiedAt := now
		e.VerifiedAt = &verifiedAt
	}
	by := agencyID
	e.IsVerified = true
	e.VerifiedBy = &by
	e.VerificationExpiresAt = expiresAt
	e.UpdatedAt = now
}

// ClearVerification strips the badge. Returns the agency that had issued it,
// or nil when the escort was not verified.
func (e *Escort) ClearVerification(now time.Time) *id.AgencyID {
	if !e.IsVerified {
		return nil
	}
	issuer := e.VerifiedBy
	e.IsVerified = false
	e.VerifiedAt = nil
	e.VerifiedBy = nil
	e.VerificationExpiresAt = nil
	e.UpdatedAt = now
	return issuer
}
