package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/policy"
	id "agencyhub/pkg/domain"
)

// LeaveAgency ends the escort's active membership. Verified escorts may only
// leave once the grace period since verification has passed; leaving strips
// the verification.
func (s *Service) LeaveAgency(ctx context.Context, escortID id.EscortID, reason string) (_ *models.LeaveResult, err error) {
	ctx, finish := s.begin(ctx, "leave", attribute.String("escort_id", escortID.String()))
	defer finish(&err)

	if err := validateMessage("reason", reason); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	if _, err := s.leaveDecision(ctx, escortID, now, s.ledger.FindEscort); err != nil {
		return nil, err
	}

	var (
		result *models.LeaveResult
		ended  *models.Membership
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		state, err := s.leaveDecision(txCtx, escortID, now, s.ledger.LockEscort)
		if err != nil {
			return err
		}
		ended, result, err = s.endMembership(txCtx, state.escort, state.active, models.CauseLeft, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "membership_left",
		"escort_id", escortID.String(),
		"agency_id", result.FormerAgencyID.String(),
		"verification_cleared", result.VerificationCleared,
	)
	s.fanOut(ctx, departureNote(ended, now))
	return result, nil
}

// RemoveMember lets an agency end an escort's membership. Removal is not
// subject to the grace period but strips the verification like leaving does.
func (s *Service) RemoveMember(ctx context.Context, agencyID id.AgencyID, escortID id.EscortID, actorID id.UserID, reason string) (_ *models.LeaveResult, err error) {
	ctx, finish := s.begin(ctx, "remove_member",
		attribute.String("agency_id", agencyID.String()),
		attribute.String("escort_id", escortID.String()))
	defer finish(&err)

	if err := validateMessage("reason", reason); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	var (
		result *models.LeaveResult
		ended  *models.Membership
	)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		escort, err := s.lockEscort(txCtx, escortID)
		if err != nil {
			return err
		}
		active, err := s.activeMembership(txCtx, escortID)
		if err != nil {
			return err
		}
		if err := policy.CanRemove(agencyID, active).Err(); err != nil {
			return err
		}
		ended, result, err = s.endMembership(txCtx, escort, active, models.CauseRemoved, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "membership_removed",
		"escort_id", escortID.String(),
		"agency_id", agencyID.String(),
		"removed_by", actorID.String(),
		"verification_cleared", result.VerificationCleared,
	)
	s.fanOut(ctx, departureNote(ended, now))
	return result, nil
}

// CheckLeaveEligibility previews whether the escort may leave now.
func (s *Service) CheckLeaveEligibility(ctx context.Context, escortID id.EscortID) (policy.Decision, error) {
	escort, err := s.ledger.FindEscort(ctx, escortID)
	if err != nil {
		return policy.Decision{}, ledgerErr(err, models.ReasonEscortNotFound, "failed to load escort")
	}
	active, err := s.activeMembership(ctx, escortID)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.CanLeave(escort, active, s.clock(ctx)), nil
}

type leaveState struct {
	escort *models.Escort
	active *models.Membership
}

// leaveDecision loads the escort with load (plain read or row lock) and
// applies the grace-period rule.
func (s *Service) leaveDecision(
	ctx context.Context,
	escortID id.EscortID,
	now time.Time,
	load func(context.Context, id.EscortID) (*models.Escort, error),
) (leaveState, error) {
	escort, err := load(ctx, escortID)
	if err != nil {
		return leaveState{}, ledgerErr(err, models.ReasonEscortNotFound, "failed to load escort")
	}
	active, err := s.activeMembership(ctx, escortID)
	if err != nil {
		return leaveState{}, err
	}
	if err := policy.CanLeave(escort, active, now).Err(); err != nil {
		return leaveState{}, err
	}
	return leaveState{escort: escort, active: active}, nil
}

// endMembership moves the active row to REJECTED with cause, strips the
// escort's verification and moves the counters of the agencies involved.
// Must run inside a transaction holding the escort lock.
func (s *Service) endMembership(
	ctx context.Context,
	escort *models.Escort,
	active *models.Membership,
	cause models.RejectionCause,
	reason string,
	now time.Time,
) (*models.Membership, *models.LeaveResult, error) {
	if err := active.CanReject(cause); err != nil {
		return nil, nil, err
	}
	active.ApplyRejection(cause, reason, now)
	if err := s.ledger.UpdateMembership(ctx, active); err != nil {
		return nil, nil, ledgerErr(err, models.ReasonMembershipNotFound, "failed to end membership")
	}

	deltas := map[id.AgencyID]models.CounterDelta{active.AgencyID: models.Departed()}
	result := &models.LeaveResult{FormerAgencyID: active.AgencyID}
	if issuer := escort.ClearVerification(now); issuer != nil {
		if err := s.ledger.UpdateEscortVerification(ctx, escort); err != nil {
			return nil, nil, ledgerErr(err, models.ReasonEscortNotFound, "failed to clear verification")
		}
		if _, err := s.ledger.RevokeVerifications(ctx, escort.ID); err != nil {
			return nil, nil, ledgerErr(err, models.ReasonEscortNotFound, "failed to revoke verifications")
		}
		d := deltas[*issuer]
		d.VerifiedEscorts--
		deltas[*issuer] = d
		result.VerificationCleared = true
	}
	for _, agencyID := range sortedAgencies(deltas) {
		if err := s.ledger.AdjustAgencyCounters(ctx, agencyID, deltas[agencyID], now); err != nil {
			return nil, nil, ledgerErr(err, models.ReasonAgencyNotFound, "failed to update agency counters")
		}
	}
	return active, result, nil
}

// sortedAgencies orders counter updates so concurrent transactions lock
// agency rows in the same order.
func sortedAgencies(deltas map[id.AgencyID]models.CounterDelta) []id.AgencyID {
	ids := make([]id.AgencyID, 0, len(deltas))
	for agencyID := range deltas {
		ids = append(ids, agencyID)
	}
	slices.SortFunc(ids, func(a, b id.AgencyID) int { return strings.Compare(a.String(), b.String()) })
	return ids
}
