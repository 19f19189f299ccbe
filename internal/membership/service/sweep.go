package service

import (
	"context"
	"errors"
	"time"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/notify"
	id "agencyhub/pkg/domain"
)

// ExpireStale flips PENDING invitations past their expiry to EXPIRED and
// strips lapsed verifications. Each escort is handled in its own transaction
// under the escort lock; a failure for one escort does not stop the rest.
func (s *Service) ExpireStale(ctx context.Context) (_ *models.SweepResult, err error) {
	ctx, finish := s.begin(ctx, "expire_stale")
	defer finish(&err)

	now := s.clock(ctx)
	result := &models.SweepResult{}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		n, err := s.ledger.ExpireInvitations(txCtx, now)
		if err != nil {
			return ledgerErr(err, models.ReasonInvitationNotFound, "failed to expire invitations")
		}
		result.InvitationsExpired = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddSwept("invitation", result.InvitationsExpired)

	lapsed, err := s.ledger.ListLapsedEscorts(ctx, now, s.sweepBatch)
	if err != nil {
		return result, ledgerErr(err, models.ReasonEscortNotFound, "failed to list lapsed verifications")
	}
	var (
		failures []error
		notes    []notify.Notification
	)
	for _, escortID := range lapsed {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		issuer, expired, err := s.expireVerification(ctx, escortID, now)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to expire verification",
				"escort_id", escortID.String(),
				"error", err,
			)
			failures = append(failures, err)
			continue
		}
		if !expired {
			continue
		}
		result.VerificationsExpired++
		notes = append(notes, verificationExpiredNote(escortID, issuer, now)...)
	}
	s.metrics.AddSwept("verification", result.VerificationsExpired)

	if result.InvitationsExpired > 0 || result.VerificationsExpired > 0 {
		s.logAudit(ctx, "expiry_sweep",
			"invitations_expired", result.InvitationsExpired,
			"verifications_expired", result.VerificationsExpired,
		)
	}
	s.fanOut(ctx, notes...)
	return result, errors.Join(failures...)
}

// expireVerification clears one escort's lapsed badge. Reports false when the
// badge was renewed or cleared since it was listed.
func (s *Service) expireVerification(ctx context.Context, escortID id.EscortID, now time.Time) (*id.AgencyID, bool, error) {
	var (
		issuer  *id.AgencyID
		expired bool
	)
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		issuer, expired = nil, false
		escort, err := s.lockEscort(txCtx, escortID)
		if err != nil {
			return err
		}
		if !escort.VerificationLapsed(now) {
			return nil
		}
		issuer = escort.ClearVerification(now)
		if err := s.ledger.UpdateEscortVerification(txCtx, escort); err != nil {
			return ledgerErr(err, models.ReasonEscortNotFound, "failed to clear verification")
		}
		if _, err := s.ledger.ExpireVerifications(txCtx, escortID, now); err != nil {
			return ledgerErr(err, models.ReasonEscortNotFound, "failed to expire verifications")
		}
		if issuer != nil {
			if err := s.ledger.AdjustAgencyCounters(txCtx, *issuer, models.CounterDelta{VerifiedEscorts: -1}, now); err != nil {
				return ledgerErr(err, models.ReasonAgencyNotFound, "failed to update agency counters")
			}
		}
		expired = true
		return nil
	})
	return issuer, expired, err
}
