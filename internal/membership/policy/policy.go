// Package policy holds the pure eligibility rules for joining, leaving,
// verifying and removing. Functions take snapshots and a clock value and
// perform no I/O, so the engine can call them both as an early UX check and
// again on the locked in-transaction state.
package policy

import (
	"fmt"
	"math"
	"time"

	"agencyhub/internal/membership/models"
	id "agencyhub/pkg/domain"
)

const (
	// GracePeriod is how long a verified escort must stay with the agency.
	GracePeriod = 30 * 24 * time.Hour
	// RenewalWindow is how close to expiry a verification may be renewed.
	RenewalWindow = 7 * 24 * time.Hour
	// InvitationTTL mirrors models.InvitationTTL for callers that only import policy.
	InvitationTTL = models.InvitationTTL
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed         bool                     `json:"allowed"`
	Reason          models.EligibilityReason `json:"reason,omitempty"`
	Message         string                   `json:"message,omitempty"`
	CurrentAgencyID *id.AgencyID             `json:"current_agency_id,omitempty"`
	PendingCount    int                      `json:"pending_count,omitempty"`
	DaysRemaining   int                      `json:"days_remaining,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

// Err converts a denial into a domain error wrapping *models.EligibilityError.
// Returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	e := &models.EligibilityError{
		Reason:        d.Reason,
		Message:       d.Message,
		PendingCount:  d.PendingCount,
		DaysRemaining: d.DaysRemaining,
	}
	if d.CurrentAgencyID != nil {
		e.CurrentAgencyID = *d.CurrentAgencyID
	}
	return e.AsDomainError()
}

// JoinSnapshot is the escort state relevant to joining.
type JoinSnapshot struct {
	Active           *models.Membership
	ActiveAgencyName string
	PendingCount     int
}

// CanJoin denies escorts that already belong to an agency or have requests
// outstanding elsewhere.
func CanJoin(s JoinSnapshot) Decision {
	if s.Active != nil {
		agencyID := s.Active.AgencyID
		name := s.ActiveAgencyName
		if name == "" {
			name = "another agency"
		}
		return Decision{
			Reason:          models.ReasonActiveMembership,
			Message:         fmt.Sprintf("already an active member of %s", name),
			CurrentAgencyID: &agencyID,
		}
	}
	if s.PendingCount > 0 {
		return Decision{
			Reason:       models.ReasonPendingRequests,
			Message:      fmt.Sprintf("%d pending membership request(s) must be resolved first", s.PendingCount),
			PendingCount: s.PendingCount,
		}
	}
	return allow()
}

// CanLeave gates departure on the verification grace period. Leaving is
// denied iff now < VerifiedAt + GracePeriod.
func CanLeave(escort *models.Escort, active *models.Membership, now time.Time) Decision {
	if active == nil || !active.IsActive() {
		return Decision{
			Reason:  models.ReasonNoActiveMembership,
			Message: "no active agency membership to leave",
		}
	}
	if escort == nil || !escort.IsVerified || escort.VerifiedAt == nil {
		return allow()
	}
	boundary := escort.VerifiedAt.Add(GracePeriod)
	if now.Before(boundary) {
		days := DaysRemaining(boundary, now)
		agencyID := active.AgencyID
		return Decision{
			Reason:          models.ReasonGracePeriod,
			Message:         fmt.Sprintf("verified escorts must remain %d more day(s) before leaving", days),
			CurrentAgencyID: &agencyID,
			DaysRemaining:   days,
		}
	}
	return allow()
}

// VerifyDecision extends Decision with whether the verification is a renewal.
type VerifyDecision struct {
	Decision
	IsRenewal bool `json:"is_renewal"`
}

// CanVerify checks that agencyID may issue a badge to escort. A verification
// inside RenewalWindow of its expiry, or already lapsed but not yet swept,
// counts as a renewal.
func CanVerify(agencyID id.AgencyID, escort *models.Escort, active *models.Membership, now time.Time) VerifyDecision {
	if active == nil || !active.IsActive() || active.AgencyID != agencyID {
		return VerifyDecision{Decision: Decision{
			Reason:  models.ReasonNotActiveMember,
			Message: "escort is not an active member of this agency",
		}}
	}
	if escort == nil || !escort.IsVerified {
		return VerifyDecision{Decision: allow()}
	}
	if !escort.VerifiedByAgency(agencyID) {
		return VerifyDecision{Decision: Decision{
			Reason:          models.ReasonVerifiedByOtherAgency,
			Message:         "escort holds a verification issued by another agency",
			CurrentAgencyID: escort.VerifiedBy,
		}}
	}
	if escort.VerificationExpiresAt == nil {
		return VerifyDecision{Decision: Decision{
			Reason:  models.ReasonAlreadyVerified,
			Message: "escort already holds a permanent verification",
		}}
	}
	if escort.VerificationExpiresAt.Sub(now) > RenewalWindow {
		return VerifyDecision{Decision: Decision{
			Reason: models.ReasonAlreadyVerified,
			Message: fmt.Sprintf("verification can be renewed from %s",
				escort.VerificationExpiresAt.Add(-RenewalWindow).Format(time.DateOnly)),
		}}
	}
	return VerifyDecision{Decision: allow(), IsRenewal: true}
}

// CanRemove checks an agency-initiated removal. Removal is not subject to the
// grace period.
func CanRemove(agencyID id.AgencyID, active *models.Membership) Decision {
	if active == nil || !active.IsActive() || active.AgencyID != agencyID {
		return Decision{
			Reason:  models.ReasonNotActiveMember,
			Message: "escort is not an active member of this agency",
		}
	}
	return allow()
}

// DaysRemaining returns the whole days until boundary, rounded up.
func DaysRemaining(boundary, now time.Time) int {
	remaining := boundary.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
