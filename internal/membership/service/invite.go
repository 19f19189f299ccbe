package service

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/policy"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
)

type InviteInput struct {
	AgencyID           id.AgencyID
	EscortID           id.EscortID
	ProposedCommission float64
	ProposedRole       models.Role
	ProposedBenefits   []string
	Message            string
	InvitedBy          id.UserID
}

func (in InviteInput) Validate() error {
	if err := requireID("agency_id", in.AgencyID.IsNil()); err != nil {
		return err
	}
	if err := requireID("escort_id", in.EscortID.IsNil()); err != nil {
		return err
	}
	if err := validateCommission(in.ProposedCommission); err != nil {
		return err
	}
	if in.ProposedRole != "" && !in.ProposedRole.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid proposed role")
	}
	if len(in.ProposedBenefits) > maxBenefits {
		return dErrors.New(dErrors.CodeValidation, "too many proposed benefits")
	}
	return validateMessage("message", in.Message)
}

// InvitationResponse is the escort's answer to an invitation.
type InvitationResponse string

const (
	ResponseAccept InvitationResponse = "accept"
	ResponseReject InvitationResponse = "reject"
)

// checkInvite rejects an invitation the escort could not act on.
func (s *Service) checkInvite(ctx context.Context, in InviteInput) error {
	snap, err := s.joinSnapshot(ctx, in.EscortID)
	if err != nil {
		return err
	}
	if snap.Active != nil {
		if snap.Active.AgencyID == in.AgencyID {
			return dErrors.NewReason(dErrors.CodeConflict, models.ReasonMembershipActive,
				"escort is already a member of this agency")
		}
		// Pending requests elsewhere do not block an invitation.
		return policy.CanJoin(policy.JoinSnapshot{Active: snap.Active, ActiveAgencyName: snap.ActiveAgencyName}).Err()
	}
	live, err := optional(s.ledger.FindLiveInvitation(ctx, in.EscortID, in.AgencyID, s.clock(ctx)))
	if err != nil {
		return ledgerErr(err, models.ReasonInvitationNotFound, "failed to load invitations")
	}
	if live != nil {
		return dErrors.NewReason(dErrors.CodeConflict, models.ReasonInvitationPending,
			"an invitation to this escort is already pending")
	}
	pair, err := optional(s.ledger.FindMembershipByPair(ctx, in.EscortID, in.AgencyID))
	if err != nil {
		return ledgerErr(err, models.ReasonMembershipNotFound, "failed to load membership")
	}
	if pair != nil && pair.IsPending() {
		return dErrors.NewReason(dErrors.CodeConflict, models.ReasonMembershipPending,
			"escort already has a pending request to this agency")
	}
	return nil
}

// Invite offers the escort a membership on the given terms. The invitation
// expires after seven days.
func (s *Service) Invite(ctx context.Context, in InviteInput) (_ *models.Invitation, err error) {
	ctx, finish := s.begin(ctx, "invite",
		attribute.String("agency_id", in.AgencyID.String()),
		attribute.String("escort_id", in.EscortID.String()))
	defer finish(&err)

	if err := in.Validate(); err != nil {
		return nil, err
	}
	agency, err := s.findAgency(ctx, in.AgencyID)
	if err != nil {
		return nil, err
	}
	if err := s.checkInvite(ctx, in); err != nil {
		return nil, err
	}

	now := s.clock(ctx)
	var invitation *models.Invitation
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.lockEscort(txCtx, in.EscortID); err != nil {
			return err
		}
		if err := s.checkInvite(txCtx, in); err != nil {
			return err
		}
		invitation = models.NewInvitation(id.InvitationID(uuid.New()), in.AgencyID, in.EscortID, in.InvitedBy,
			models.InvitationTerms{
				Commission: in.ProposedCommission,
				Role:       in.ProposedRole,
				Benefits:   slices.Clone(in.ProposedBenefits),
				Message:    in.Message,
			}, now)
		if err := s.ledger.CreateInvitation(txCtx, invitation); err != nil {
			return ledgerErr(err, models.ReasonInvitationNotFound, "failed to create invitation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "invitation_sent",
		"invitation_id", invitation.ID.String(),
		"escort_id", in.EscortID.String(),
		"agency_id", in.AgencyID.String(),
		"expires_at", invitation.ExpiresAt,
	)
	s.fanOut(ctx, invitationReceivedNote(invitation, agency.Name, now))
	return invitation, nil
}

// RespondToInvitation records the escort's answer. Accepting activates the
// membership for the pair, reusing an existing row when there is one, and
// auto-cancels the escort's other pending requests.
func (s *Service) RespondToInvitation(ctx context.Context, escortID id.EscortID, invitationID id.InvitationID, response InvitationResponse) (_ *models.InvitationResult, err error) {
	ctx, finish := s.begin(ctx, "respond_invitation",
		attribute.String("escort_id", escortID.String()),
		attribute.String("invitation_id", invitationID.String()),
		attribute.String("response", string(response)))
	defer finish(&err)

	if response != ResponseAccept && response != ResponseReject {
		return nil, dErrors.New(dErrors.CodeValidation, "response must be accept or reject")
	}
	now := s.clock(ctx)
	if _, err := s.liveInvitation(ctx, escortID, invitationID, now); err != nil {
		return nil, err
	}

	var (
		result    *models.InvitationResult
		cancelled []*models.Membership
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.lockEscort(txCtx, escortID); err != nil {
			return err
		}
		inv, err := s.liveInvitation(txCtx, escortID, invitationID, now)
		if err != nil {
			return err
		}
		if response == ResponseReject {
			inv.ApplyRejection(now)
			if err := s.ledger.UpdateInvitation(txCtx, inv); err != nil {
				return ledgerErr(err, models.ReasonInvitationNotFound, "failed to decline invitation")
			}
			result = &models.InvitationResult{Invitation: inv}
			return nil
		}

		active, err := s.activeMembership(txCtx, escortID)
		if err != nil {
			return err
		}
		if active != nil {
			return acceptedElsewhere()
		}
		m, err := s.activateFromInvitation(txCtx, inv, now)
		if err != nil {
			return err
		}
		if err := s.ledger.AdjustAgencyCounters(txCtx, inv.AgencyID, models.Joined(), now); err != nil {
			return ledgerErr(err, models.ReasonAgencyNotFound, "failed to update agency counters")
		}
		inv.ApplyAcceptance(now)
		if err := s.ledger.UpdateInvitation(txCtx, inv); err != nil {
			return ledgerErr(err, models.ReasonInvitationNotFound, "failed to accept invitation")
		}
		cancelled, err = s.cascade(txCtx, escortID, m.ID, now)
		if err != nil {
			return err
		}
		result = &models.InvitationResult{Invitation: inv, Membership: m, CancelledCount: len(cancelled)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	inv := result.Invitation
	s.logAudit(ctx, "invitation_answered",
		"invitation_id", inv.ID.String(),
		"escort_id", escortID.String(),
		"agency_id", inv.AgencyID.String(),
		"status", string(inv.Status),
		"cancelled_count", result.CancelledCount,
	)
	s.metrics.AddAutoCancelled(result.CancelledCount)
	s.fanOut(ctx, append(autoCancelledNotes(cancelled, now), invitationAnsweredNote(inv, now))...)
	return result, nil
}

// liveInvitation loads an invitation addressed to escortID that can still be answered.
func (s *Service) liveInvitation(ctx context.Context, escortID id.EscortID, invitationID id.InvitationID, now time.Time) (*models.Invitation, error) {
	inv, err := optional(s.ledger.FindInvitation(ctx, invitationID))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonInvitationNotFound, "failed to load invitation")
	}
	if inv == nil || inv.EscortID != escortID {
		return nil, dErrors.NewReason(dErrors.CodeNotFound, models.ReasonInvitationNotFound, "invitation not found")
	}
	if inv.EffectiveStatus(now) == models.InvitationStatusExpired {
		return nil, dErrors.NewReason(dErrors.CodeNotFound, models.ReasonInvitationExpired, "invitation has expired")
	}
	if err := inv.CanRespond(now); err != nil {
		return nil, err
	}
	return inv, nil
}

// activateFromInvitation moves the pair's membership to ACTIVE on the
// invitation's terms, inserting a row when the pair has none.
func (s *Service) activateFromInvitation(ctx context.Context, inv *models.Invitation, now time.Time) (*models.Membership, error) {
	m, err := optional(s.ledger.FindMembershipByPair(ctx, inv.EscortID, inv.AgencyID))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to load membership")
	}
	if m != nil {
		if err := m.CanActivate(); err != nil {
			return nil, err
		}
		m.ApplyActivation(inv.ProposedRole, inv.ProposedCommission, inv.InvitedBy, now)
		if inv.Message != "" {
			m.Message = inv.Message
		}
		if err := s.ledger.UpdateMembership(ctx, m); err != nil {
			return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to activate membership")
		}
		return m, nil
	}
	m = models.NewJoinRequest(id.MembershipID(uuid.New()), inv.EscortID, inv.AgencyID, inv.Message, now)
	m.ApplyActivation(inv.ProposedRole, inv.ProposedCommission, inv.InvitedBy, now)
	if err := s.ledger.CreateMembership(ctx, m); err != nil {
		return nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to create membership")
	}
	return m, nil
}
