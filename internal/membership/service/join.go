package service

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/policy"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
)

type RequestJoinInput struct {
	EscortID id.EscortID
	AgencyID id.AgencyID
	Message  string
}

func (in RequestJoinInput) Validate() error {
	if err := requireID("escort_id", in.EscortID.IsNil()); err != nil {
		return err
	}
	if err := requireID("agency_id", in.AgencyID.IsNil()); err != nil {
		return err
	}
	return validateMessage("message", in.Message)
}

type ManageAction string

const (
	ActionApprove ManageAction = "approve"
	ActionReject  ManageAction = "reject"
)

// ManageInput is an agency decision on a pending join request.
// CommissionRate nil means the agency's default rate.
type ManageInput struct {
	AgencyID       id.AgencyID
	MembershipID   id.MembershipID
	Action         ManageAction
	CommissionRate *float64
	Role           models.Role
	ActorID        id.UserID
	Reason         string
}

func (in ManageInput) Validate() error {
	if err := requireID("agency_id", in.AgencyID.IsNil()); err != nil {
		return err
	}
	if err := requireID("membership_id", in.MembershipID.IsNil()); err != nil {
		return err
	}
	if in.Action != ActionApprove && in.Action != ActionReject {
		return dErrors.New(dErrors.CodeValidation, "action must be approve or reject")
	}
	if in.CommissionRate != nil {
		if err := validateCommission(*in.CommissionRate); err != nil {
			return err
		}
	}
	if in.Role != "" && !in.Role.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid role")
	}
	return validateMessage("reason", in.Reason)
}

// joinSnapshot gathers what CanJoin needs. Called lock-free for the early
// check and again under the escort lock.
func (s *Service) joinSnapshot(ctx context.Context, escortID id.EscortID) (policy.JoinSnapshot, error) {
	active, err := s.activeMembership(ctx, escortID)
	if err != nil {
		return policy.JoinSnapshot{}, err
	}
	pending, err := s.ledger.CountPendingMemberships(ctx, escortID)
	if err != nil {
		return policy.JoinSnapshot{}, ledgerErr(err, models.ReasonMembershipNotFound, "failed to count pending requests")
	}
	snap := policy.JoinSnapshot{Active: active, PendingCount: pending}
	if active != nil {
		if agency, err := s.ledger.FindAgency(ctx, active.AgencyID); err == nil {
			snap.ActiveAgencyName = agency.Name
		}
	}
	return snap, nil
}

// checkJoin rejects a join request for the pair, returning the reusable row if any.
func (s *Service) checkJoin(ctx context.Context, escortID id.EscortID, agencyID id.AgencyID) (*models.Membership, error) {
	existing, err := optional(s.ledger.FindMembershipByPair(ctx, escortID, agencyID))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to load membership")
	}
	if existing != nil {
		switch existing.Status {
		case models.MembershipStatusPending:
			return nil, dErrors.NewReason(dErrors.CodeConflict, models.ReasonMembershipPending,
				"a membership request to this agency is already pending")
		case models.MembershipStatusActive:
			return nil, dErrors.NewReason(dErrors.CodeConflict, models.ReasonMembershipActive,
				"escort is already a member of this agency")
		}
	}
	snap, err := s.joinSnapshot(ctx, escortID)
	if err != nil {
		return nil, err
	}
	if err := policy.CanJoin(snap).Err(); err != nil {
		return nil, err
	}
	return existing, nil
}

// RequestJoin creates a PENDING membership, or re-opens the REJECTED row the
// escort already has with this agency.
func (s *Service) RequestJoin(ctx context.Context, in RequestJoinInput) (_ *models.Membership, err error) {
	ctx, finish := s.begin(ctx, "request_join",
		attribute.String("escort_id", in.EscortID.String()),
		attribute.String("agency_id", in.AgencyID.String()))
	defer finish(&err)

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.findAgency(ctx, in.AgencyID); err != nil {
		return nil, err
	}
	if _, err := s.checkJoin(ctx, in.EscortID, in.AgencyID); err != nil {
		return nil, err
	}

	now := s.clock(ctx)
	var membership *models.Membership
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.lockEscort(txCtx, in.EscortID); err != nil {
			return err
		}
		existing, err := s.checkJoin(txCtx, in.EscortID, in.AgencyID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := existing.CanReapply(); err != nil {
				return err
			}
			existing.ApplyReapplication(in.Message, now)
			if err := s.ledger.UpdateMembership(txCtx, existing); err != nil {
				return ledgerErr(err, models.ReasonMembershipNotFound, "failed to reopen membership")
			}
			membership = existing
			return nil
		}
		membership = models.NewJoinRequest(id.MembershipID(uuid.New()), in.EscortID, in.AgencyID, in.Message, now)
		if err := s.ledger.CreateMembership(txCtx, membership); err != nil {
			return ledgerErr(err, models.ReasonMembershipNotFound, "failed to create membership")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "membership_requested",
		"membership_id", membership.ID.String(),
		"escort_id", in.EscortID.String(),
		"agency_id", in.AgencyID.String(),
	)
	s.fanOut(ctx, joinRequestedNote(membership, now))
	return membership, nil
}

// CancelOwnRequest lets an escort withdraw a PENDING request. Requests the
// escort does not own are reported as not found.
func (s *Service) CancelOwnRequest(ctx context.Context, escortID id.EscortID, membershipID id.MembershipID, reason string) (_ *models.Membership, err error) {
	ctx, finish := s.begin(ctx, "cancel_request",
		attribute.String("escort_id", escortID.String()),
		attribute.String("membership_id", membershipID.String()))
	defer finish(&err)

	if err := validateMessage("reason", reason); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	var membership *models.Membership
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.lockEscort(txCtx, escortID); err != nil {
			return err
		}
		m, err := optional(s.ledger.FindMembership(txCtx, membershipID))
		if err != nil {
			return ledgerErr(err, models.ReasonMembershipNotFound, "failed to load membership")
		}
		if m == nil || m.EscortID != escortID || !m.IsPending() {
			return dErrors.NewReason(dErrors.CodeNotFound, models.ReasonMembershipNotFound,
				"no pending membership request found")
		}
		if err := m.CanReject(models.CauseEscortCancelled); err != nil {
			return err
		}
		m.ApplyRejection(models.CauseEscortCancelled, reason, now)
		if err := s.ledger.UpdateMembership(txCtx, m); err != nil {
			return ledgerErr(err, models.ReasonMembershipNotFound, "failed to cancel membership request")
		}
		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "membership_request_cancelled",
		"membership_id", membershipID.String(),
		"escort_id", escortID.String(),
		"agency_id", membership.AgencyID.String(),
	)
	s.fanOut(ctx, joinCancelledNote(membership, now))
	return membership, nil
}

// ManageMembershipRequest approves or rejects a pending request addressed to
// the agency. Approval auto-cancels the escort's other pending requests.
func (s *Service) ManageMembershipRequest(ctx context.Context, in ManageInput) (_ *models.ManageResult, err error) {
	ctx, finish := s.begin(ctx, "manage_request",
		attribute.String("agency_id", in.AgencyID.String()),
		attribute.String("membership_id", in.MembershipID.String()),
		attribute.String("action", string(in.Action)))
	defer finish(&err)

	if err := in.Validate(); err != nil {
		return nil, err
	}
	request, err := s.agencyMembership(ctx, in.AgencyID, in.MembershipID)
	if err != nil {
		return nil, err
	}
	if err := s.checkDecidable(ctx, request, in.Action); err != nil {
		return nil, err
	}

	now := s.clock(ctx)
	var (
		result    *models.ManageResult
		agency    *models.Agency
		cancelled []*models.Membership
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.lockEscort(txCtx, request.EscortID); err != nil {
			return err
		}
		m, err := s.agencyMembership(txCtx, in.AgencyID, in.MembershipID)
		if err != nil {
			return err
		}
		if err := s.checkDecidable(txCtx, m, in.Action); err != nil {
			return err
		}
		agency, err = s.findAgency(txCtx, in.AgencyID)
		if err != nil {
			return err
		}
		if in.Action == ActionReject {
			if err := m.CanReject(models.CauseAgencyRejected); err != nil {
				return err
			}
			m.ApplyRejection(models.CauseAgencyRejected, in.Reason, now)
			if err := s.ledger.UpdateMembership(txCtx, m); err != nil {
				return ledgerErr(err, models.ReasonMembershipNotFound, "failed to reject membership")
			}
			result = &models.ManageResult{Membership: m}
			return nil
		}

		if err := m.CanApprove(); err != nil {
			return err
		}
		commission := agency.DefaultCommissionRate
		if in.CommissionRate != nil {
			commission = *in.CommissionRate
		}
		m.ApplyActivation(in.Role, commission, in.ActorID, now)
		if err := s.ledger.UpdateMembership(txCtx, m); err != nil {
			return ledgerErr(err, models.ReasonMembershipNotFound, "failed to approve membership")
		}
		if err := s.ledger.AdjustAgencyCounters(txCtx, in.AgencyID, models.Joined(), now); err != nil {
			return ledgerErr(err, models.ReasonAgencyNotFound, "failed to update agency counters")
		}
		cancelled, err = s.cascade(txCtx, m.EscortID, m.ID, now)
		if err != nil {
			return err
		}
		result = &models.ManageResult{Membership: m, CancelledCount: len(cancelled)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := result.Membership
	if in.Action == ActionApprove {
		s.metrics.AddAutoCancelled(result.CancelledCount)
		s.logAudit(ctx, "membership_approved",
			"membership_id", m.ID.String(),
			"escort_id", m.EscortID.String(),
			"agency_id", m.AgencyID.String(),
			"commission_rate", m.CommissionRate,
			"cancelled_count", result.CancelledCount,
		)
		s.fanOut(ctx, append(autoCancelledNotes(cancelled, now), approvedNote(m, agency.Name, now))...)
	} else {
		s.logAudit(ctx, "membership_rejected",
			"membership_id", m.ID.String(),
			"escort_id", m.EscortID.String(),
			"agency_id", m.AgencyID.String(),
		)
		s.fanOut(ctx, rejectedNote(m, agency.Name, now))
	}
	return result, nil
}

// agencyMembership loads a membership addressed to agencyID.
func (s *Service) agencyMembership(ctx context.Context, agencyID id.AgencyID, membershipID id.MembershipID) (*models.Membership, error) {
	m, err := optional(s.ledger.FindMembership(ctx, membershipID))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to load membership")
	}
	if m == nil || m.AgencyID != agencyID {
		return nil, dErrors.NewReason(dErrors.CodeNotFound, models.ReasonMembershipNotFound, "membership request not found")
	}
	return m, nil
}

// checkDecidable verifies the request is still open. For approvals the
// escort's active membership is checked first so that the loser of a
// concurrent approval learns the escort was accepted elsewhere.
func (s *Service) checkDecidable(ctx context.Context, m *models.Membership, action ManageAction) error {
	if action == ActionApprove && !m.IsActive() {
		active, err := s.activeMembership(ctx, m.EscortID)
		if err != nil {
			return err
		}
		if active != nil {
			return acceptedElsewhere()
		}
	}
	if !m.IsPending() {
		return dErrors.NewReason(dErrors.CodeNotFound, models.ReasonMembershipNotFound, "no pending membership request found")
	}
	return nil
}

// CheckJoinEligibility previews whether the escort may request to join an agency.
func (s *Service) CheckJoinEligibility(ctx context.Context, escortID id.EscortID) (policy.Decision, error) {
	if _, err := s.ledger.FindEscort(ctx, escortID); err != nil {
		return policy.Decision{}, ledgerErr(err, models.ReasonEscortNotFound, "failed to load escort")
	}
	snap, err := s.joinSnapshot(ctx, escortID)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.CanJoin(snap), nil
}

// ListMembers returns the agency's memberships, optionally filtered by status.
func (s *Service) ListMembers(ctx context.Context, agencyID id.AgencyID, status models.MembershipStatus) ([]*models.Membership, error) {
	switch status {
	case "", models.MembershipStatusPending, models.MembershipStatusActive, models.MembershipStatusRejected:
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "invalid membership status")
	}
	if _, err := s.findAgency(ctx, agencyID); err != nil {
		return nil, err
	}
	members, err := s.ledger.ListMemberships(ctx, agencyID, status)
	if err != nil {
		return nil, ledgerErr(err, models.ReasonAgencyNotFound, "failed to list memberships")
	}
	return members, nil
}
