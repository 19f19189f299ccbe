package models

import id "agencyhub/pkg/domain"

// InvitationResult is returned by RespondToInvitation. Membership is nil for a rejection.
type InvitationResult struct {
	Invitation     *Invitation `json:"invitation"`
	Membership     *Membership `json:"membership,omitempty"`
	CancelledCount int         `json:"cancelled_count"`
}

// ManageResult is returned by ManageMembershipRequest.
type ManageResult struct {
	Membership     *Membership `json:"membership"`
	CancelledCount int         `json:"cancelled_count"`
}

// LeaveResult is returned by LeaveAgency and RemoveMember.
type LeaveResult struct {
	FormerAgencyID      id.AgencyID `json:"former_agency_id"`
	VerificationCleared bool        `json:"verification_cleared"`
}

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	InvitationsExpired   int `json:"invitations_expired"`
	VerificationsExpired int `json:"verifications_expired"`
}
