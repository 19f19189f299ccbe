package handler

import (
	"strings"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/service"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
	pstrings "agencyhub/pkg/platform/strings"
)

const maxBenefitLength = 100

// JoinRequest is the body of POST /memberships/requests.
type JoinRequest struct {
	AgencyID string `json:"agency_id"`
	Message  string `json:"message"`

	agencyID id.AgencyID
}

// Validate implements httputil.Validatable.
func (r *JoinRequest) Validate() error {
	agencyID, err := id.ParseAgencyID(strings.TrimSpace(r.AgencyID))
	if err != nil {
		return err
	}
	r.agencyID = agencyID
	r.Message = strings.TrimSpace(r.Message)
	return nil
}

// ReasonRequest carries an optional free-text reason for cancel, leave and remove.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

func (r *ReasonRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// ManageRequest is the body of POST /agencies/{agencyID}/requests/{membershipID}.
type ManageRequest struct {
	Action         string   `json:"action"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
	Role           string   `json:"role,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

func (r *ManageRequest) Validate() error {
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// InviteRequest is the body of POST /agencies/{agencyID}/invitations.
type InviteRequest struct {
	EscortID           string   `json:"escort_id"`
	ProposedCommission float64  `json:"proposed_commission"`
	ProposedRole       string   `json:"proposed_role,omitempty"`
	ProposedBenefits   []string `json:"proposed_benefits,omitempty"`
	Message            string   `json:"message,omitempty"`

	escortID id.EscortID
}

func (r *InviteRequest) Validate() error {
	escortID, err := id.ParseEscortID(strings.TrimSpace(r.EscortID))
	if err != nil {
		return err
	}
	r.escortID = escortID
	r.ProposedRole = strings.ToUpper(strings.TrimSpace(r.ProposedRole))
	if r.ProposedRole == "" {
		r.ProposedRole = string(models.RoleMember)
	}
	benefits, ok := pstrings.NormalizeList(r.ProposedBenefits, maxBenefitLength)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "proposed_benefits entries must be at most 100 characters")
	}
	r.ProposedBenefits = benefits
	r.Message = strings.TrimSpace(r.Message)
	return nil
}

// RespondRequest is the body of POST /invitations/{invitationID}/respond.
type RespondRequest struct {
	Response string `json:"response"`
}

func (r *RespondRequest) Validate() error {
	r.Response = strings.ToLower(strings.TrimSpace(r.Response))
	switch service.InvitationResponse(r.Response) {
	case service.ResponseAccept, service.ResponseReject:
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, "response must be accept or reject")
}

// VerifyRequest is the body of POST /agencies/{agencyID}/verifications.
type VerifyRequest struct {
	EscortID      string `json:"escort_id"`
	PricingTierID string `json:"pricing_tier_id"`
	Notes         string `json:"notes,omitempty"`

	escortID id.EscortID
	tierID   id.PricingTierID
}

func (r *VerifyRequest) Validate() error {
	escortID, err := id.ParseEscortID(strings.TrimSpace(r.EscortID))
	if err != nil {
		return err
	}
	tierID, err := id.ParsePricingTierID(strings.TrimSpace(r.PricingTierID))
	if err != nil {
		return err
	}
	r.escortID, r.tierID = escortID, tierID
	r.Notes = strings.TrimSpace(r.Notes)
	return nil
}
