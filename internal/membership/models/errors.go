package models

import (
	"fmt"

	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
)

// EligibilityReason is the machine-readable code of a failed precondition.
type EligibilityReason string

const (
	ReasonActiveMembership      EligibilityReason = "ACTIVE_MEMBERSHIP"
	ReasonPendingRequests       EligibilityReason = "PENDING_REQUESTS"
	ReasonGracePeriod           EligibilityReason = "VERIFICATION_GRACE_PERIOD"
	ReasonNoActiveMembership    EligibilityReason = "NO_ACTIVE_MEMBERSHIP"
	ReasonNotActiveMember       EligibilityReason = "NOT_ACTIVE_MEMBER"
	ReasonAlreadyVerified       EligibilityReason = "ALREADY_VERIFIED"
	ReasonVerifiedByOtherAgency EligibilityReason = "VERIFIED_BY_OTHER_AGENCY"
)

// Conflict and not-found reasons surfaced through domain errors.
const (
	ReasonAcceptedElsewhere   = "ESCORT_ALREADY_ACCEPTED_ELSEWHERE"
	ReasonMembershipPending   = "MEMBERSHIP_PENDING"
	ReasonMembershipActive    = "MEMBERSHIP_ACTIVE"
	ReasonInvitationPending   = "INVITATION_PENDING"
	ReasonMembershipNotFound  = "MEMBERSHIP_NOT_FOUND"
	ReasonInvitationNotFound  = "INVITATION_NOT_FOUND"
	ReasonInvitationExpired   = "INVITATION_EXPIRED"
	ReasonEscortNotFound      = "ESCORT_NOT_FOUND"
	ReasonAgencyNotFound      = "AGENCY_NOT_FOUND"
	ReasonPricingTierNotFound = "PRICING_TIER_NOT_FOUND"
	ReasonInvalidTransition   = "INVALID_TRANSITION"
)

// EligibilityError is a user-correctable precondition failure. Only the
// fields relevant to Reason are populated.
type EligibilityError struct {
	Reason          EligibilityReason
	Message         string
	CurrentAgencyID id.AgencyID
	PendingCount    int
	DaysRemaining   int
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Details returns the populated context fields for transport responses.
func (e *EligibilityError) Details() map[string]any {
	d := map[string]any{}
	if !e.CurrentAgencyID.IsNil() {
		d["current_agency_id"] = e.CurrentAgencyID.String()
	}
	if e.PendingCount > 0 {
		d["pending_count"] = e.PendingCount
	}
	if e.DaysRemaining > 0 {
		d["days_remaining"] = e.DaysRemaining
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// AsDomainError wraps the eligibility failure so transports see
// CodePreconditionFailed and the reason, while callers can still errors.As the detail.
func (e *EligibilityError) AsDomainError() error {
	return dErrors.WrapReason(e, dErrors.CodePreconditionFailed, string(e.Reason), e.Message)
}

func invalidTransition(message string) error {
	return dErrors.NewReason(dErrors.CodeInvariantViolation, ReasonInvalidTransition, message)
}
