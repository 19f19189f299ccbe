package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TrustBumper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"agencyhub/internal/membership/metrics"
	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/service/mocks"
	"agencyhub/internal/membership/store"
	"agencyhub/internal/notify"
	"agencyhub/internal/pricing"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
	"agencyhub/pkg/platform/sentinel"
)

// =============================================================================
// Membership Service Test Suite
// =============================================================================
// The service is exercised against the in-memory ledger and its serializing
// transaction runner, so cascades, counters and the single-active rule are
// observed on real rows rather than on mock expectations.

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, ns ...notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, ns...)
}

func (r *recordingNotifier) sentTo(recipient string) []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []notify.Kind
	for _, n := range r.notes {
		if n.RecipientID == recipient {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}

type staticTiers []models.PricingTier

func (t staticTiers) ActiveTiers(context.Context) ([]models.PricingTier, error) { return t, nil }

type MembershipServiceSuite struct {
	suite.Suite
	ledger   *store.InMemoryLedger
	notifier *recordingNotifier
	service  *Service
	day0     time.Time
	now      time.Time
}

func TestMembershipServiceSuite(t *testing.T) {
	suite.Run(t, new(MembershipServiceSuite))
}

func (s *MembershipServiceSuite) SetupTest() {
	s.day0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = s.day0
	s.ledger = store.NewInMemory()
	s.notifier = &recordingNotifier{}
	s.service = s.build(pricing.New(nil))
}

func (s *MembershipServiceSuite) build(catalog Catalog, opts ...Option) *Service {
	base := []Option{
		WithClock(func() time.Time { return s.now }),
		WithNotifier(s.notifier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	}
	svc, err := New(s.ledger, store.NewMemoryTx(s.ledger), catalog, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *MembershipServiceSuite) at(days int) {
	s.now = s.day0.Add(time.Duration(days) * 24 * time.Hour)
}

// =============================================================================
// Fixtures
// =============================================================================

func (s *MembershipServiceSuite) newEscort() *models.Escort {
	e := &models.Escort{
		ID:          id.EscortID(uuid.New()),
		UserID:      id.UserID(uuid.New()),
		DisplayName: "escort",
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.Require().NoError(s.ledger.InsertEscort(context.Background(), e))
	return e
}

func (s *MembershipServiceSuite) newAgency(name string) *models.Agency {
	a := &models.Agency{
		ID:                    id.AgencyID(uuid.New()),
		OwnerUserID:           id.UserID(uuid.New()),
		Name:                  name,
		DefaultCommissionRate: 20,
		CreatedAt:             s.now,
		UpdatedAt:             s.now,
	}
	s.Require().NoError(s.ledger.InsertAgency(context.Background(), a))
	return a
}

// seedPending writes a PENDING row directly, bypassing the one-outstanding
// request rule the way rows created before that rule existed would.
func (s *MembershipServiceSuite) seedPending(escortID id.EscortID, agencyID id.AgencyID) *models.Membership {
	m := models.NewJoinRequest(id.MembershipID(uuid.New()), escortID, agencyID, "", s.now)
	s.Require().NoError(s.ledger.CreateMembership(context.Background(), m))
	return m
}

// join makes the escort an active member of agency through the service.
func (s *MembershipServiceSuite) join(escortID id.EscortID, agency *models.Agency) *models.Membership {
	m, err := s.service.RequestJoin(context.Background(), RequestJoinInput{EscortID: escortID, AgencyID: agency.ID})
	s.Require().NoError(err)
	res, err := s.service.ManageMembershipRequest(context.Background(), ManageInput{
		AgencyID: agency.ID, MembershipID: m.ID, Action: ActionApprove, ActorID: agency.OwnerUserID,
	})
	s.Require().NoError(err)
	return res.Membership
}

func (s *MembershipServiceSuite) verify(escortID id.EscortID, agency *models.Agency) *models.Verification {
	v, err := s.service.Verify(context.Background(), VerifyInput{
		AgencyID: agency.ID, EscortID: escortID, PricingTierID: pricing.BasicTierID, VerifiedBy: agency.OwnerUserID,
	})
	s.Require().NoError(err)
	return v
}

func (s *MembershipServiceSuite) membership(membershipID id.MembershipID) *models.Membership {
	m, err := s.ledger.FindMembership(context.Background(), membershipID)
	s.Require().NoError(err)
	return m
}

func (s *MembershipServiceSuite) agency(agencyID id.AgencyID) *models.Agency {
	a, err := s.ledger.FindAgency(context.Background(), agencyID)
	s.Require().NoError(err)
	return a
}

func (s *MembershipServiceSuite) escort(escortID id.EscortID) *models.Escort {
	e, err := s.ledger.FindEscort(context.Background(), escortID)
	s.Require().NoError(err)
	return e
}

func (s *MembershipServiceSuite) requireReason(err error, code dErrors.Code, reason string) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
	s.Equal(reason, dErrors.ReasonOf(err), err.Error())
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *MembershipServiceSuite) TestNew() {
	s.Run("missing dependencies are rejected", func() {
		_, err := New(nil, store.NewMemoryTx(s.ledger), pricing.New(nil))
		s.ErrorContains(err, "ledger is required")
		_, err = New(s.ledger, nil, pricing.New(nil))
		s.ErrorContains(err, "transaction runner is required")
		_, err = New(s.ledger, store.NewMemoryTx(s.ledger), nil)
		s.ErrorContains(err, "pricing catalog is required")
	})
}

// =============================================================================
// Join Request Tests
// =============================================================================

func (s *MembershipServiceSuite) TestRequestJoin() {
	ctx := context.Background()

	s.Run("creates a pending request and notifies the agency", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")

		m, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: agency.ID, Message: "hello"})
		s.Require().NoError(err)
		s.Equal(models.MembershipStatusPending, m.Status)
		s.Equal(models.RoleMember, m.Role)
		s.Equal("hello", m.Message)
		s.Equal([]notify.Kind{notify.KindJoinRequested}, s.notifier.sentTo(agency.ID.String()))
	})

	s.Run("second request to the same agency conflicts", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.seedPending(escort.ID, agency.ID)

		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: agency.ID})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonMembershipPending)
	})

	s.Run("outstanding request elsewhere blocks a new application", func() {
		escort := s.newEscort()
		s.seedPending(escort.ID, s.newAgency("First").ID)

		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: s.newAgency("Second").ID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonPendingRequests))
		var elig *models.EligibilityError
		s.Require().ErrorAs(err, &elig)
		s.Equal(1, elig.PendingCount)
	})

	s.Run("active member elsewhere is told which agency", func() {
		escort, current := s.newEscort(), s.newAgency("Current Agency")
		s.join(escort.ID, current)

		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: s.newAgency("Other").ID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonActiveMembership))
		var elig *models.EligibilityError
		s.Require().ErrorAs(err, &elig)
		s.Equal(current.ID, elig.CurrentAgencyID)
		s.Contains(elig.Message, "Current Agency")
	})

	s.Run("active member of the same agency conflicts", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)

		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: agency.ID})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonMembershipActive)
	})

	s.Run("unknown agency is not found", func() {
		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: s.newEscort().ID, AgencyID: id.AgencyID(uuid.New())})
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonAgencyNotFound)
	})

	s.Run("unknown escort is not found", func() {
		_, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: id.EscortID(uuid.New()), AgencyID: s.newAgency("Velvet").ID})
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonEscortNotFound)
	})

	s.Run("missing ids are validation errors", func() {
		_, err := s.service.RequestJoin(ctx, RequestJoinInput{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("reapplication after rejection reuses the row", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		first, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: agency.ID})
		s.Require().NoError(err)
		_, err = s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: agency.ID, MembershipID: first.ID, Action: ActionReject, Reason: "incomplete profile",
		})
		s.Require().NoError(err)

		again, err := s.service.RequestJoin(ctx, RequestJoinInput{EscortID: escort.ID, AgencyID: agency.ID, Message: "updated"})
		s.Require().NoError(err)
		s.Equal(first.ID, again.ID)
		s.Equal(models.MembershipStatusPending, again.Status)
		s.Empty(again.RejectionCause)
		s.Empty(again.RejectionReason)
		s.Equal(models.MembershipStatusPending, s.membership(first.ID).Status)
	})
}

func (s *MembershipServiceSuite) TestCancelOwnRequest() {
	ctx := context.Background()

	s.Run("escort withdraws a pending request", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		m := s.seedPending(escort.ID, agency.ID)

		got, err := s.service.CancelOwnRequest(ctx, escort.ID, m.ID, "changed my mind")
		s.Require().NoError(err)
		s.Equal(models.MembershipStatusRejected, got.Status)
		s.Equal(models.CauseEscortCancelled, got.RejectionCause)
		s.Contains(s.notifier.sentTo(agency.ID.String()), notify.KindJoinCancelled)
	})

	s.Run("another escort's request is not found", func() {
		m := s.seedPending(s.newEscort().ID, s.newAgency("Velvet").ID)

		_, err := s.service.CancelOwnRequest(ctx, s.newEscort().ID, m.ID, "")
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonMembershipNotFound)
		s.Equal(models.MembershipStatusPending, s.membership(m.ID).Status)
	})

	s.Run("already decided request is not found", func() {
		escort := s.newEscort()
		m := s.seedPending(escort.ID, s.newAgency("Velvet").ID)
		_, err := s.service.CancelOwnRequest(ctx, escort.ID, m.ID, "")
		s.Require().NoError(err)

		_, err = s.service.CancelOwnRequest(ctx, escort.ID, m.ID, "")
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonMembershipNotFound)
	})
}

// =============================================================================
// Approval Tests
// =============================================================================

func (s *MembershipServiceSuite) TestManageMembershipRequest() {
	ctx := context.Background()

	s.Run("approving one of two pending requests cancels the other", func() {
		escort, a1, a2 := s.newEscort(), s.newAgency("A1"), s.newAgency("A2")
		m1 := s.seedPending(escort.ID, a1.ID)
		m2 := s.seedPending(escort.ID, a2.ID)

		res, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: a1.ID, MembershipID: m1.ID, Action: ActionApprove, ActorID: a1.OwnerUserID,
		})
		s.Require().NoError(err)
		s.Equal(1, res.CancelledCount)
		s.Equal(models.MembershipStatusActive, res.Membership.Status)
		s.Equal(20.0, res.Membership.CommissionRate)
		s.Require().NotNil(res.Membership.ApprovedBy)
		s.Equal(a1.OwnerUserID, *res.Membership.ApprovedBy)

		s.Equal(models.MembershipStatusActive, s.membership(m1.ID).Status)
		cancelled := s.membership(m2.ID)
		s.Equal(models.MembershipStatusRejected, cancelled.Status)
		s.Equal(models.CauseAutoCancelled, cancelled.RejectionCause)

		s.Equal(1, s.agency(a1.ID).ActiveEscorts)
		s.Equal(1, s.agency(a1.ID).TotalEscorts)
		s.Equal(0, s.agency(a2.ID).ActiveEscorts)

		s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindMembershipApproved)
		s.Contains(s.notifier.sentTo(a2.ID.String()), notify.KindAutoCancelled)
	})

	s.Run("cascade leaves exactly one non-rejected row", func() {
		escort := s.newEscort()
		var rows []*models.Membership
		var agencies []*models.Agency
		for i := range 5 {
			a := s.newAgency(fmt.Sprintf("agency-%d", i))
			agencies = append(agencies, a)
			rows = append(rows, s.seedPending(escort.ID, a.ID))
		}

		res, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: agencies[2].ID, MembershipID: rows[2].ID, Action: ActionApprove,
		})
		s.Require().NoError(err)
		s.Equal(4, res.CancelledCount)

		open := 0
		for _, m := range rows {
			if s.membership(m.ID).Status != models.MembershipStatusRejected {
				open++
			}
		}
		s.Equal(1, open)
	})

	s.Run("explicit commission and role override the defaults", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		m := s.seedPending(escort.ID, agency.ID)
		rate := 35.5

		res, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: agency.ID, MembershipID: m.ID, Action: ActionApprove, CommissionRate: &rate, Role: models.RoleFeatured,
		})
		s.Require().NoError(err)
		s.Equal(35.5, res.Membership.CommissionRate)
		s.Equal(models.RoleFeatured, res.Membership.Role)
	})

	s.Run("rejection leaves counters untouched", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		m := s.seedPending(escort.ID, agency.ID)

		res, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: agency.ID, MembershipID: m.ID, Action: ActionReject, Reason: "not a fit",
		})
		s.Require().NoError(err)
		s.Equal(models.CauseAgencyRejected, res.Membership.RejectionCause)
		s.Equal("not a fit", res.Membership.RejectionReason)
		s.Zero(s.agency(agency.ID).TotalEscorts)
		s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindMembershipRejected)
	})

	s.Run("request addressed to another agency is not found", func() {
		m := s.seedPending(s.newEscort().ID, s.newAgency("Velvet").ID)

		_, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: s.newAgency("Other").ID, MembershipID: m.ID, Action: ActionApprove,
		})
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonMembershipNotFound)
	})

	s.Run("escort already active elsewhere conflicts", func() {
		escort, a1, a2 := s.newEscort(), s.newAgency("A1"), s.newAgency("A2")
		s.join(escort.ID, a1)
		m := s.seedPending(escort.ID, a2.ID)

		_, err := s.service.ManageMembershipRequest(ctx, ManageInput{AgencyID: a2.ID, MembershipID: m.ID, Action: ActionApprove})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonAcceptedElsewhere)
		s.Equal(models.MembershipStatusPending, s.membership(m.ID).Status)
	})

	s.Run("invalid input is rejected before touching the ledger", func() {
		bad := 150.0
		_, err := s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: id.AgencyID(uuid.New()), MembershipID: id.MembershipID(uuid.New()), Action: ActionApprove, CommissionRate: &bad,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		_, err = s.service.ManageMembershipRequest(ctx, ManageInput{
			AgencyID: id.AgencyID(uuid.New()), MembershipID: id.MembershipID(uuid.New()), Action: "maybe",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *MembershipServiceSuite) TestConcurrentApprovals() {
	ctx := context.Background()
	escort := s.newEscort()

	const n = 8
	type request struct {
		agency *models.Agency
		row    *models.Membership
	}
	requests := make([]request, n)
	for i := range requests {
		a := s.newAgency(fmt.Sprintf("agency-%d", i))
		requests[i] = request{agency: a, row: s.seedPending(escort.ID, a.ID)}
	}

	start := make(chan struct{})
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, r := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.service.ManageMembershipRequest(ctx, ManageInput{
				AgencyID: r.agency.ID, MembershipID: r.row.ID, Action: ActionApprove,
			})
		}()
	}
	close(start)
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		s.requireReason(err, dErrors.CodeConflict, models.ReasonAcceptedElsewhere)
	}
	s.Equal(1, winners)

	active := 0
	for _, r := range requests {
		if s.membership(r.row.ID).IsActive() {
			active++
		}
	}
	s.Equal(1, active)
}

// =============================================================================
// Invitation Tests
// =============================================================================

func (s *MembershipServiceSuite) invite(escortID id.EscortID, agency *models.Agency) *models.Invitation {
	inv, err := s.service.Invite(context.Background(), InviteInput{
		AgencyID: agency.ID, EscortID: escortID, ProposedCommission: 15, ProposedRole: models.RoleFeatured,
		ProposedBenefits: []string{"photoshoot"}, InvitedBy: agency.OwnerUserID,
	})
	s.Require().NoError(err)
	return inv
}

func (s *MembershipServiceSuite) TestInvite() {
	ctx := context.Background()

	s.Run("creates a pending invitation expiring in seven days", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")

		inv := s.invite(escort.ID, agency)
		s.Equal(models.InvitationStatusPending, inv.Status)
		s.Equal(s.now.Add(7*24*time.Hour), inv.ExpiresAt)
		s.Equal([]string{"photoshoot"}, inv.ProposedBenefits)
		s.Equal([]notify.Kind{notify.KindInvitationReceived}, s.notifier.sentTo(escort.ID.String()))
	})

	s.Run("member of the inviting agency conflicts", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)

		_, err := s.service.Invite(ctx, InviteInput{AgencyID: agency.ID, EscortID: escort.ID})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonMembershipActive)
	})

	s.Run("member of another agency is ineligible", func() {
		escort := s.newEscort()
		s.join(escort.ID, s.newAgency("Current"))

		_, err := s.service.Invite(ctx, InviteInput{AgencyID: s.newAgency("Velvet").ID, EscortID: escort.ID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonActiveMembership))
	})

	s.Run("live invitation from the same agency conflicts", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.invite(escort.ID, agency)

		_, err := s.service.Invite(ctx, InviteInput{AgencyID: agency.ID, EscortID: escort.ID})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonInvitationPending)
	})

	s.Run("expired invitation does not block a new one", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.invite(escort.ID, agency)
		s.at(8)
		defer s.at(0)

		_, err := s.service.Invite(ctx, InviteInput{AgencyID: agency.ID, EscortID: escort.ID})
		s.NoError(err)
	})

	s.Run("pending join request to the agency conflicts", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.seedPending(escort.ID, agency.ID)

		_, err := s.service.Invite(ctx, InviteInput{AgencyID: agency.ID, EscortID: escort.ID})
		s.requireReason(err, dErrors.CodeConflict, models.ReasonMembershipPending)
	})

	s.Run("commission outside 0..100 is invalid", func() {
		_, err := s.service.Invite(ctx, InviteInput{AgencyID: s.newAgency("Velvet").ID, EscortID: s.newEscort().ID, ProposedCommission: 101})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *MembershipServiceSuite) TestRespondToInvitation() {
	ctx := context.Background()

	s.Run("accepting activates on the proposed terms and cancels other requests", func() {
		escort, agency, other := s.newEscort(), s.newAgency("Velvet"), s.newAgency("Other")
		pending := s.seedPending(escort.ID, other.ID)
		inv := s.invite(escort.ID, agency)

		res, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseAccept)
		s.Require().NoError(err)
		s.Equal(models.InvitationStatusAccepted, res.Invitation.Status)
		s.Require().NotNil(res.Invitation.RespondedAt)
		s.Require().NotNil(res.Membership)
		s.Equal(models.MembershipStatusActive, res.Membership.Status)
		s.Equal(15.0, res.Membership.CommissionRate)
		s.Equal(models.RoleFeatured, res.Membership.Role)
		s.Equal(1, res.CancelledCount)

		s.Equal(models.CauseAutoCancelled, s.membership(pending.ID).RejectionCause)
		s.Equal(1, s.agency(agency.ID).ActiveEscorts)
		s.Contains(s.notifier.sentTo(agency.ID.String()), notify.KindInvitationAccepted)
		s.Contains(s.notifier.sentTo(other.ID.String()), notify.KindAutoCancelled)
	})

	s.Run("accepting reuses a rejected row of the pair", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		old := s.seedPending(escort.ID, agency.ID)
		_, err := s.service.CancelOwnRequest(ctx, escort.ID, old.ID, "")
		s.Require().NoError(err)
		inv := s.invite(escort.ID, agency)

		res, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseAccept)
		s.Require().NoError(err)
		s.Equal(old.ID, res.Membership.ID)
		s.Equal(models.MembershipStatusActive, s.membership(old.ID).Status)
	})

	s.Run("declining leaves no membership", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		inv := s.invite(escort.ID, agency)

		res, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseReject)
		s.Require().NoError(err)
		s.Equal(models.InvitationStatusRejected, res.Invitation.Status)
		s.Nil(res.Membership)
		_, err = s.ledger.FindMembershipByPair(ctx, escort.ID, agency.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.Contains(s.notifier.sentTo(agency.ID.String()), notify.KindInvitationDeclined)
	})

	s.Run("expired invitation cannot be answered", func() {
		escort := s.newEscort()
		inv := s.invite(escort.ID, s.newAgency("Velvet"))
		s.at(7)
		defer s.at(0)

		_, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseAccept)
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonInvitationExpired)
	})

	s.Run("invitation addressed to someone else is not found", func() {
		inv := s.invite(s.newEscort().ID, s.newAgency("Velvet"))

		_, err := s.service.RespondToInvitation(ctx, s.newEscort().ID, inv.ID, ResponseAccept)
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonInvitationNotFound)
	})

	s.Run("answered invitation is terminal", func() {
		escort := s.newEscort()
		inv := s.invite(escort.ID, s.newAgency("Velvet"))
		_, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseReject)
		s.Require().NoError(err)

		_, err = s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseAccept)
		s.requireReason(err, dErrors.CodeInvariantViolation, models.ReasonInvalidTransition)
	})

	s.Run("accepting after joining elsewhere conflicts", func() {
		escort, a1, a2 := s.newEscort(), s.newAgency("A1"), s.newAgency("A2")
		inv := s.invite(escort.ID, a2)
		s.join(escort.ID, a1)

		_, err := s.service.RespondToInvitation(ctx, escort.ID, inv.ID, ResponseAccept)
		s.requireReason(err, dErrors.CodeConflict, models.ReasonAcceptedElsewhere)
	})
}

// =============================================================================
// Departure Tests
// =============================================================================

func (s *MembershipServiceSuite) TestLeaveAgency() {
	ctx := context.Background()

	s.Run("unverified member leaves freely", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		m := s.join(escort.ID, agency)

		res, err := s.service.LeaveAgency(ctx, escort.ID, "moving")
		s.Require().NoError(err)
		s.Equal(agency.ID, res.FormerAgencyID)
		s.False(res.VerificationCleared)
		s.Equal(models.CauseLeft, s.membership(m.ID).RejectionCause)
		s.Zero(s.agency(agency.ID).ActiveEscorts)
		s.Equal(1, s.agency(agency.ID).TotalEscorts)
		s.Contains(s.notifier.sentTo(agency.ID.String()), notify.KindMemberLeft)
	})

	s.Run("nothing to leave", func() {
		_, err := s.service.LeaveAgency(ctx, s.newEscort().ID, "")
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonNoActiveMembership))
	})

	s.Run("verified on day 0, blocked on day 10, leaves on day 31", func() {
		defer s.at(0)
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		s.verify(escort.ID, agency)
		s.Equal(1, s.agency(agency.ID).VerifiedEscorts)

		s.at(10)
		_, err := s.service.LeaveAgency(ctx, escort.ID, "")
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonGracePeriod))
		var elig *models.EligibilityError
		s.Require().ErrorAs(err, &elig)
		s.Equal(20, elig.DaysRemaining)

		s.at(31)
		res, err := s.service.LeaveAgency(ctx, escort.ID, "")
		s.Require().NoError(err)
		s.True(res.VerificationCleared)
		e := s.escort(escort.ID)
		s.False(e.IsVerified)
		s.Nil(e.VerifiedAt)
		s.Nil(e.VerifiedBy)
		s.Zero(s.agency(agency.ID).VerifiedEscorts)
		s.Zero(s.agency(agency.ID).ActiveEscorts)
		s.Equal(1, s.agency(agency.ID).TotalVerifications)
	})

	s.Run("grace boundary is exclusive", func() {
		defer func() { s.now = s.day0 }()
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		s.verify(escort.ID, agency)

		s.now = s.day0.Add(30*24*time.Hour - time.Second)
		_, err := s.service.LeaveAgency(ctx, escort.ID, "")
		var elig *models.EligibilityError
		s.Require().ErrorAs(err, &elig)
		s.Equal(1, elig.DaysRemaining)

		s.now = s.day0.Add(30 * 24 * time.Hour)
		_, err = s.service.LeaveAgency(ctx, escort.ID, "")
		s.NoError(err)
	})
}

func (s *MembershipServiceSuite) TestRemoveMember() {
	ctx := context.Background()

	s.Run("agency removes a verified member inside the grace period", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		m := s.join(escort.ID, agency)
		s.verify(escort.ID, agency)

		res, err := s.service.RemoveMember(ctx, agency.ID, escort.ID, agency.OwnerUserID, "policy breach")
		s.Require().NoError(err)
		s.True(res.VerificationCleared)
		removed := s.membership(m.ID)
		s.Equal(models.CauseRemoved, removed.RejectionCause)
		s.Equal("policy breach", removed.RejectionReason)
		s.False(s.escort(escort.ID).IsVerified)
		s.Zero(s.agency(agency.ID).VerifiedEscorts)
		s.Zero(s.agency(agency.ID).ActiveEscorts)
		s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindMemberRemoved)
	})

	s.Run("agency cannot remove someone else's member", func() {
		escort := s.newEscort()
		s.join(escort.ID, s.newAgency("Current"))

		_, err := s.service.RemoveMember(ctx, s.newAgency("Other").ID, escort.ID, id.UserID(uuid.New()), "")
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonNotActiveMember))
	})
}

// =============================================================================
// Verification Tests
// =============================================================================

func (s *MembershipServiceSuite) TestVerify() {
	ctx := context.Background()

	s.Run("first verification sets the badge and bumps trust", func() {
		ctrl := gomock.NewController(s.T())
		trust := mocks.NewMockTrustBumper(ctrl)
		svc := s.build(pricing.New(nil), WithReputation(trust))
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		trust.EXPECT().Bump(gomock.Any(), escort.ID, 5.0).Return(5.0, nil)

		v, err := svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.Require().NoError(err)
		svc.Wait()

		s.False(v.IsRenewal)
		s.Require().NotNil(v.ExpiresAt)
		s.Equal(s.now.Add(30*24*time.Hour), *v.ExpiresAt)
		e := s.escort(escort.ID)
		s.True(e.IsVerified)
		s.True(e.VerifiedByAgency(agency.ID))
		s.Equal(s.now, *e.VerifiedAt)
		s.Equal(1, s.agency(agency.ID).VerifiedEscorts)
		s.Equal(1, s.agency(agency.ID).TotalVerifications)
		s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindVerificationIssued)
	})

	s.Run("renewal inside the window keeps the original verification time", func() {
		defer s.at(0)
		ctrl := gomock.NewController(s.T())
		trust := mocks.NewMockTrustBumper(ctrl)
		svc := s.build(pricing.New(nil), WithReputation(trust))
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		trust.EXPECT().Bump(gomock.Any(), escort.ID, 5.0).Return(5.0, nil)
		trust.EXPECT().Bump(gomock.Any(), escort.ID, 2.0).Return(7.0, nil)
		_, err := svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.Require().NoError(err)

		s.at(10)
		_, err = svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonAlreadyVerified))

		s.at(25)
		v, err := svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.Require().NoError(err)
		svc.Wait()
		s.True(v.IsRenewal)

		e := s.escort(escort.ID)
		s.Equal(s.day0, *e.VerifiedAt)
		s.Equal(s.now.Add(30*24*time.Hour), *e.VerificationExpiresAt)
		s.Equal(1, s.agency(agency.ID).VerifiedEscorts)
		s.Equal(2, s.agency(agency.ID).TotalVerifications)
		s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindVerificationRenewed)
	})

	s.Run("lapsed but unswept badge renews without double counting", func() {
		defer s.at(0)
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		s.verify(escort.ID, agency)

		s.at(40)
		v := s.verify(escort.ID, agency)
		s.True(v.IsRenewal)
		s.Equal(1, s.agency(agency.ID).VerifiedEscorts)
	})

	s.Run("trust failures do not fail the verification", func() {
		ctrl := gomock.NewController(s.T())
		trust := mocks.NewMockTrustBumper(ctrl)
		svc := s.build(pricing.New(nil), WithReputation(trust))
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)
		trust.EXPECT().Bump(gomock.Any(), escort.ID, 5.0).Return(0.0, errors.New("redis down"))

		_, err := svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.NoError(err)
		svc.Wait()
	})

	s.Run("permanent tier never expires", func() {
		permanent := models.PricingTier{ID: id.PricingTierID(uuid.New()), Name: "lifetime", CostCents: 99999, IsActive: true}
		svc := s.build(pricing.New(staticTiers{permanent}))
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)

		v, err := svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: permanent.ID})
		s.Require().NoError(err)
		s.Nil(v.ExpiresAt)
		s.Nil(s.escort(escort.ID).VerificationExpiresAt)

		_, err = svc.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: permanent.ID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonAlreadyVerified))
	})

	s.Run("non-member cannot be verified", func() {
		_, err := s.service.Verify(ctx, VerifyInput{
			AgencyID: s.newAgency("Velvet").ID, EscortID: s.newEscort().ID, PricingTierID: pricing.BasicTierID,
		})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonNotActiveMember))
	})

	s.Run("badge from a former agency blocks the new agency", func() {
		escort, a1, a2 := s.newEscort(), s.newAgency("A1"), s.newAgency("A2")
		s.join(escort.ID, a1)
		s.verify(escort.ID, a1)
		// Hand the escort to a2 without going through leave, which would clear the badge.
		active, err := s.ledger.FindActiveMembership(ctx, escort.ID)
		s.Require().NoError(err)
		active.ApplyRejection(models.CauseLeft, "", s.now)
		s.Require().NoError(s.ledger.UpdateMembership(ctx, active))
		m := s.seedPending(escort.ID, a2.ID)
		m.ApplyActivation(models.RoleMember, 10, a2.OwnerUserID, s.now)
		s.Require().NoError(s.ledger.UpdateMembership(ctx, m))

		_, err = s.service.Verify(ctx, VerifyInput{AgencyID: a2.ID, EscortID: escort.ID, PricingTierID: pricing.BasicTierID})
		s.requireReason(err, dErrors.CodePreconditionFailed, string(models.ReasonVerifiedByOtherAgency))
	})

	s.Run("unknown tier is not found", func() {
		escort, agency := s.newEscort(), s.newAgency("Velvet")
		s.join(escort.ID, agency)

		_, err := s.service.Verify(ctx, VerifyInput{AgencyID: agency.ID, EscortID: escort.ID, PricingTierID: id.PricingTierID(uuid.New())})
		s.requireReason(err, dErrors.CodeNotFound, models.ReasonPricingTierNotFound)
	})
}

func (s *MembershipServiceSuite) TestListExpiringVerifications() {
	ctx := context.Background()
	defer s.at(0)
	escort, agency := s.newEscort(), s.newAgency("Velvet")
	s.join(escort.ID, agency)
	v := s.verify(escort.ID, agency)

	s.at(25)
	s.Run("verification inside the window is listed", func() {
		out, err := s.service.ListExpiringVerifications(ctx, agency.ID, 7)
		s.Require().NoError(err)
		s.Require().Len(out, 1)
		s.Equal(v.ID, out[0].ID)
	})

	s.Run("verification outside the window is not", func() {
		out, err := s.service.ListExpiringVerifications(ctx, agency.ID, 3)
		s.Require().NoError(err)
		s.Empty(out)
	})

	s.Run("days must be 1..365", func() {
		_, err := s.service.ListExpiringVerifications(ctx, agency.ID, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.service.ListExpiringVerifications(ctx, agency.ID, 366)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("pricing tiers come from the catalog", func() {
		tiers, err := s.service.ListPricingTiers(ctx)
		s.Require().NoError(err)
		s.Len(tiers, 3)
	})
}

// =============================================================================
// Sweep and Eligibility Preview Tests
// =============================================================================

func (s *MembershipServiceSuite) TestExpireStale() {
	ctx := context.Background()
	defer s.at(0)
	escort, agency := s.newEscort(), s.newAgency("Velvet")
	s.join(escort.ID, agency)
	s.verify(escort.ID, agency)
	inv := s.invite(s.newEscort().ID, s.newAgency("Other"))

	s.at(31)
	res, err := s.service.ExpireStale(ctx)
	s.Require().NoError(err)
	s.Equal(1, res.InvitationsExpired)
	s.Equal(1, res.VerificationsExpired)

	stored, err := s.ledger.FindInvitation(ctx, inv.ID)
	s.Require().NoError(err)
	s.Equal(models.InvitationStatusExpired, stored.Status)
	s.False(s.escort(escort.ID).IsVerified)
	s.Zero(s.agency(agency.ID).VerifiedEscorts)
	s.Equal(1, s.agency(agency.ID).ActiveEscorts)
	s.Contains(s.notifier.sentTo(escort.ID.String()), notify.KindVerificationExpired)
	s.Contains(s.notifier.sentTo(agency.ID.String()), notify.KindVerificationExpired)

	again, err := s.service.ExpireStale(ctx)
	s.Require().NoError(err)
	s.Zero(again.InvitationsExpired)
	s.Zero(again.VerificationsExpired)
}

func (s *MembershipServiceSuite) TestEligibilityPreviews() {
	ctx := context.Background()
	defer s.at(0)
	escort, agency := s.newEscort(), s.newAgency("Velvet")

	d, err := s.service.CheckJoinEligibility(ctx, escort.ID)
	s.Require().NoError(err)
	s.True(d.Allowed)

	s.join(escort.ID, agency)
	s.verify(escort.ID, agency)

	d, err = s.service.CheckJoinEligibility(ctx, escort.ID)
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Equal(models.ReasonActiveMembership, d.Reason)

	s.at(10)
	d, err = s.service.CheckLeaveEligibility(ctx, escort.ID)
	s.Require().NoError(err)
	s.False(d.Allowed)
	s.Equal(20, d.DaysRemaining)

	_, err = s.service.CheckLeaveEligibility(ctx, id.EscortID(uuid.New()))
	s.requireReason(err, dErrors.CodeNotFound, models.ReasonEscortNotFound)
}

func (s *MembershipServiceSuite) TestListMembers() {
	ctx := context.Background()
	agency := s.newAgency("Velvet")
	s.join(s.newEscort().ID, agency)
	s.seedPending(s.newEscort().ID, agency.ID)

	all, err := s.service.ListMembers(ctx, agency.ID, "")
	s.Require().NoError(err)
	s.Len(all, 2)

	active, err := s.service.ListMembers(ctx, agency.ID, models.MembershipStatusActive)
	s.Require().NoError(err)
	s.Len(active, 1)

	_, err = s.service.ListMembers(ctx, agency.ID, "LAPSED")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// =============================================================================
// Error Translation Tests
// =============================================================================

func TestLedgerErr(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   dErrors.Code
		reason string
	}{
		{"not found", fmt.Errorf("escort: %w", store.ErrNotFound), dErrors.CodeNotFound, models.ReasonEscortNotFound},
		{"second active", fmt.Errorf("update: %w", store.ErrActiveMembershipExists), dErrors.CodeConflict, models.ReasonAcceptedElsewhere},
		{"duplicate pair", store.ErrDuplicateMembership, dErrors.CodeConflict, ""},
		{"unavailable", fmt.Errorf("query: %w", sentinel.ErrUnavailable), dErrors.CodeUnavailable, ""},
		{"foreign", errors.New("boom"), dErrors.CodeInternal, ""},
		{"domain passes through", dErrors.NewReason(dErrors.CodeConflict, models.ReasonMembershipPending, "x"), dErrors.CodeConflict, models.ReasonMembershipPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ledgerErr(tc.err, models.ReasonEscortNotFound, "op")
			if dErrors.CodeOf(got) != tc.code {
				t.Fatalf("code = %s, want %s", dErrors.CodeOf(got), tc.code)
			}
			if dErrors.ReasonOf(got) != tc.reason {
				t.Fatalf("reason = %q, want %q", dErrors.ReasonOf(got), tc.reason)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("translated error lost its cause")
			}
		})
	}
}
