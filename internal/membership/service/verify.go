package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/policy"
	"agencyhub/internal/reputation"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
)

type VerifyInput struct {
	AgencyID      id.AgencyID
	EscortID      id.EscortID
	PricingTierID id.PricingTierID
	Notes         string
	VerifiedBy    id.UserID
}

func (in VerifyInput) Validate() error {
	if err := requireID("agency_id", in.AgencyID.IsNil()); err != nil {
		return err
	}
	if err := requireID("escort_id", in.EscortID.IsNil()); err != nil {
		return err
	}
	if err := requireID("pricing_tier_id", in.PricingTierID.IsNil()); err != nil {
		return err
	}
	return validateMessage("notes", in.Notes)
}

// Verify issues (or renews) the agency's verification badge for one of its
// active members.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (_ *models.Verification, err error) {
	ctx, finish := s.begin(ctx, "verify",
		attribute.String("agency_id", in.AgencyID.String()),
		attribute.String("escort_id", in.EscortID.String()),
		attribute.String("pricing_tier_id", in.PricingTierID.String()))
	defer finish(&err)

	if err := in.Validate(); err != nil {
		return nil, err
	}
	tier, err := s.catalog.Tier(ctx, in.PricingTierID)
	if err != nil {
		return nil, err
	}
	now := s.clock(ctx)

	var verification *models.Verification
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		escort, err := s.lockEscort(txCtx, in.EscortID)
		if err != nil {
			return err
		}
		if _, err := s.findAgency(txCtx, in.AgencyID); err != nil {
			return err
		}
		active, err := s.activeMembership(txCtx, in.EscortID)
		if err != nil {
			return err
		}
		decision := policy.CanVerify(in.AgencyID, escort, active, now)
		if err := decision.Err(); err != nil {
			return err
		}

		// A lapsed but unswept badge is still counted in VerifiedEscorts.
		wasVerified := escort.IsVerified
		if decision.IsRenewal {
			if _, err := s.ledger.ExpireVerifications(txCtx, in.EscortID, now); err != nil {
				return ledgerErr(err, models.ReasonEscortNotFound, "failed to expire previous verification")
			}
		}
		verification = models.NewVerification(id.VerificationID(uuid.New()), in.AgencyID, in.EscortID,
			*tier, in.Notes, in.VerifiedBy, decision.IsRenewal, now)
		if err := s.ledger.CreateVerification(txCtx, verification); err != nil {
			return ledgerErr(err, models.ReasonEscortNotFound, "failed to record verification")
		}
		escort.ApplyVerification(in.AgencyID, verification.ExpiresAt, decision.IsRenewal, now)
		if err := s.ledger.UpdateEscortVerification(txCtx, escort); err != nil {
			return ledgerErr(err, models.ReasonEscortNotFound, "failed to update escort verification")
		}
		delta := models.CounterDelta{TotalVerifications: 1}
		if !wasVerified {
			delta.VerifiedEscorts = 1
		}
		if err := s.ledger.AdjustAgencyCounters(txCtx, in.AgencyID, delta, now); err != nil {
			return ledgerErr(err, models.ReasonAgencyNotFound, "failed to update agency counters")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "verification_issued",
		"verification_id", verification.ID.String(),
		"escort_id", in.EscortID.String(),
		"agency_id", in.AgencyID.String(),
		"tier", tier.Name,
		"is_renewal", verification.IsRenewal,
	)
	s.fanOut(ctx, verificationNote(verification, tier.Name, now))
	if s.trust != nil {
		escortID, bonus := in.EscortID, reputation.VerificationBonus(verification.IsRenewal)
		s.detach(ctx, "trust_bump", func(bg context.Context) error {
			_, err := s.trust.Bump(bg, escortID, bonus)
			return err
		})
	}
	return verification, nil
}

// ListExpiringVerifications returns the agency's current verifications that
// expire within the next withinDays days, soonest first.
func (s *Service) ListExpiringVerifications(ctx context.Context, agencyID id.AgencyID, withinDays int) ([]*models.Verification, error) {
	if withinDays < 1 || withinDays > maxExpiringDays {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("days must be between 1 and %d", maxExpiringDays))
	}
	if _, err := s.findAgency(ctx, agencyID); err != nil {
		return nil, err
	}
	now := s.clock(ctx)
	out, err := s.ledger.ListExpiringVerifications(ctx, agencyID, now, now.Add(time.Duration(withinDays)*24*time.Hour))
	if err != nil {
		return nil, ledgerErr(err, models.ReasonAgencyNotFound, "failed to list expiring verifications")
	}
	return out, nil
}

// ListPricingTiers returns the purchasable verification tiers, cheapest first.
func (s *Service) ListPricingTiers(ctx context.Context) ([]models.PricingTier, error) {
	return s.catalog.ActiveTiers(ctx)
}
