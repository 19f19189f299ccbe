package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "PENDING"
	InvitationStatusAccepted InvitationStatus = "ACCEPTED"
	InvitationStatusRejected InvitationStatus = "REJECTED"
	InvitationStatusExpired  InvitationStatus = "EXPIRED"
)

// InvitationTTL is how long an escort has to respond.
const InvitationTTL = 7 * 24 * time.Hour

// Invitation is an agency-initiated membership offer. Once answered (or past
// ExpiresAt) it is terminal.
type Invitation struct {
	ID                 id.InvitationID  `json:"id"`
	AgencyID           id.AgencyID      `json:"agency_id"`
	EscortID           id.EscortID      `json:"escort_id"`
	Status             InvitationStatus `json:"status"`
	ProposedCommission float64          `json:"proposed_commission"`
	ProposedRole       Role             `json:"proposed_role"`
	ProposedBenefits   []string         `json:"proposed_benefits,omitempty"`
	Message            string           `json:"message,omitempty"`
	InvitedBy          id.UserID        `json:"invited_by"`
	ExpiresAt          time.Time        `json:"expires_at"`
	RespondedAt        *time.Time       `json:"responded_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

type InvitationTerms struct {
	Commission float64
	Role       Role
	Benefits   []string
	Message    string
}

func NewInvitation(invitationID id.InvitationID, agencyID id.AgencyID, escortID id.EscortID, invitedBy id.UserID, terms InvitationTerms, now time.Time) *Invitation {
	role := terms.Role
	if !role.IsValid() {
		role = RoleMember
	}
	return &Invitation{
		ID:                 invitationID,
		AgencyID:           agencyID,
		EscortID:           escortID,
		Status:             InvitationStatusPending,
		ProposedCommission: terms.Commission,
		ProposedRole:       role,
		ProposedBenefits:   terms.Benefits,
		Message:            terms.Message,
		InvitedBy:          invitedBy,
		ExpiresAt:          now.Add(InvitationTTL),
		CreatedAt:          now,
	}
}

// EffectiveStatus treats a PENDING invitation past its expiry as EXPIRED even
// when the sweeper has not flipped the stored status yet.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationStatusPending && !now.Before(i.ExpiresAt) {
		return InvitationStatusExpired
	}
	return i.Status
}

// IsLive reports whether the invitation can still be answered.
func (i *Invitation) IsLive(now time.Time) bool {
	return i.EffectiveStatus(now) == InvitationStatusPending
}

func (i *Invitation) CanRespond(now time.Time) error {
	switch i.EffectiveStatus(now) {
	case InvitationStatusPending:
		return nil
	case InvitationStatusExpired:
		return invalidTransition("invitation has expired")
	default:
		return invalidTransition("invitation was already answered")
	}
}

func (i *Invitation) ApplyAcceptance(now time.Time) {
	i.Status = InvitationStatusAccepted
	i.RespondedAt = &now
}

func (i *Invitation) ApplyRejection(now time.Time) {
	i.Status = InvitationStatusRejected
	i.RespondedAt = &now
}

// ApplyExpiry is the lazy flip performed by the sweeper.
func (i *Invitation) ApplyExpiry() {
	i.Status = InvitationStatusExpired
}
