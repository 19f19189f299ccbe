package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

type MembershipStatus string

const (
	MembershipStatusPending  MembershipStatus = "PENDING"
	MembershipStatusActive   MembershipStatus = "ACTIVE"
	MembershipStatusRejected MembershipStatus = "REJECTED"
)

// RejectionCause distinguishes the real-world meanings a REJECTED row can carry.
type RejectionCause string

const (
	CauseAgencyRejected  RejectionCause = "AGENCY_REJECTED"
	CauseEscortCancelled RejectionCause = "ESCORT_CANCELLED"
	CauseAutoCancelled   RejectionCause = "AUTO_CANCELLED"
	CauseLeft            RejectionCause = "LEFT"
	CauseRemoved         RejectionCause = "REMOVED_BY_AGENCY"
)

type Role string

const (
	RoleMember   Role = "MEMBER"
	RoleFeatured Role = "FEATURED"
	RoleManager  Role = "MANAGER"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleFeatured, RoleManager:
		return true
	}
	return false
}

// CanTransitionTo encodes the membership state machine:
//
//	PENDING  -> ACTIVE | REJECTED
//	ACTIVE   -> REJECTED            (leave, removal)
//	REJECTED -> PENDING             (reapplication)
//
// Invitation acceptance may also activate a REJECTED row of the same pair.
func (s MembershipStatus) CanTransitionTo(next MembershipStatus) bool {
	switch s {
	case MembershipStatusPending:
		return next == MembershipStatusActive || next == MembershipStatusRejected
	case MembershipStatusActive:
		return next == MembershipStatusRejected
	case MembershipStatusRejected:
		return next == MembershipStatusPending || next == MembershipStatusActive
	}
	return false
}

// Membership relates one escort to one agency. Rows are never deleted; the
// (EscortID, AgencyID) pair is unique across the whole lifecycle.
//
// Invariants:
//   - at most one ACTIVE membership per escort (enforced by the engine's
//     in-transaction re-check and by a partial unique index)
//   - RejectionCause is set iff Status is REJECTED
//   - ApprovedBy/ApprovedAt are set once the row has been ACTIVE
type Membership struct {
	ID              id.MembershipID  `json:"id"`
	EscortID        id.EscortID      `json:"escort_id"`
	AgencyID        id.AgencyID      `json:"agency_id"`
	Status          MembershipStatus `json:"status"`
	RejectionCause  RejectionCause   `json:"rejection_cause,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Role            Role             `json:"role"`
	CommissionRate  float64          `json:"commission_rate"`
	Message         string           `json:"message,omitempty"`
	ApprovedBy      *id.UserID       `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time       `json:"approved_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewJoinRequest builds a PENDING membership requested by the escort.
func NewJoinRequest(membershipID id.MembershipID, escortID id.EscortID, agencyID id.AgencyID, message string, now time.Time) *Membership {
	return &Membership{
		ID:        membershipID,
		EscortID:  escortID,
		AgencyID:  agencyID,
		Status:    MembershipStatusPending,
		Role:      RoleMember,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *Membership) IsPending() bool { return m.Status == MembershipStatusPending }
func (m *Membership) IsActive() bool  { return m.Status == MembershipStatusActive }

// CanReapply checks the REJECTED -> PENDING re-entry.
func (m *Membership) CanReapply() error {
	if !m.Status.CanTransitionTo(MembershipStatusPending) {
		return invalidTransition("membership cannot be re-requested from " + string(m.Status))
	}
	return nil
}

// ApplyReapplication flips a REJECTED row back to PENDING, clearing the
// previous outcome but keeping the row identity.
func (m *Membership) ApplyReapplication(message string, now time.Time) {
	m.Status = MembershipStatusPending
	m.RejectionCause = ""
	m.RejectionReason = ""
	m.Message = message
	m.UpdatedAt = now
}

func (m *Membership) CanApprove() error {
	if m.Status != MembershipStatusPending {
		return invalidTransition("only pending requests can be approved")
	}
	return nil
}

// CanActivate is the guard for invitation acceptance, which may reuse a
// PENDING or REJECTED row of the pair.
func (m *Membership) CanActivate() error {
	if !m.Status.CanTransitionTo(MembershipStatusActive) {
		return invalidTransition("membership cannot be activated from " + string(m.Status))
	}
	return nil
}

// ApplyActivation marks the row ACTIVE with the agreed terms.
func (m *Membership) ApplyActivation(role Role, commission float64, approvedBy id.UserID, now time.Time) {
	if role.IsValid() {
		m.Role = role
	}
	by := approvedBy
	approvedAt := now
	m.Status = MembershipStatusActive
	m.RejectionCause = ""
	m.RejectionReason = ""
	m.CommissionRate = commission
	m.ApprovedBy = &by
	m.ApprovedAt = &approvedAt
	m.UpdatedAt = now
}

// CanReject guards every path into REJECTED. Cancelling and agency rejection
// need a PENDING row; leaving and removal need an ACTIVE one.
func (m *Membership) CanReject(cause RejectionCause) error {
	switch cause {
	case CauseLeft, CauseRemoved:
		if m.Status != MembershipStatusActive {
			return invalidTransition("only active memberships can be ended")
		}
	default:
		if m.Status != MembershipStatusPending {
			return invalidTransition("only pending requests can be rejected or cancelled")
		}
	}
	return nil
}

func (m *Membership) ApplyRejection(cause RejectionCause, reason string, now time.Time) {
	m.Status = MembershipStatusRejected
	m.RejectionCause = cause
	m.RejectionReason = reason
	m.UpdatedAt = now
}
