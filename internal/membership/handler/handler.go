package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/membership/policy"
	"agencyhub/internal/membership/service"
	id "agencyhub/pkg/domain"
	dErrors "agencyhub/pkg/domain-errors"
	"agencyhub/pkg/platform/httputil"
	authmw "agencyhub/pkg/platform/middleware/auth"
	"agencyhub/pkg/requestcontext"
)

const defaultExpiringDays = 30

// Service is the slice of the transition engine the HTTP layer drives.
type Service interface {
	RequestJoin(ctx context.Context, in service.RequestJoinInput) (*models.Membership, error)
	CancelOwnRequest(ctx context.Context, escortID id.EscortID, membershipID id.MembershipID, reason string) (*models.Membership, error)
	ManageMembershipRequest(ctx context.Context, in service.ManageInput) (*models.ManageResult, error)
	Invite(ctx context.Context, in service.InviteInput) (*models.Invitation, error)
	RespondToInvitation(ctx context.Context, escortID id.EscortID, invitationID id.InvitationID, response service.InvitationResponse) (*models.InvitationResult, error)
	LeaveAgency(ctx context.Context, escortID id.EscortID, reason string) (*models.LeaveResult, error)
	RemoveMember(ctx context.Context, agencyID id.AgencyID, escortID id.EscortID, actorID id.UserID, reason string) (*models.LeaveResult, error)
	Verify(ctx context.Context, in service.VerifyInput) (*models.Verification, error)
	CheckJoinEligibility(ctx context.Context, escortID id.EscortID) (policy.Decision, error)
	CheckLeaveEligibility(ctx context.Context, escortID id.EscortID) (policy.Decision, error)
	ListMembers(ctx context.Context, agencyID id.AgencyID, status models.MembershipStatus) ([]*models.Membership, error)
	ListExpiringVerifications(ctx context.Context, agencyID id.AgencyID, withinDays int) ([]*models.Verification, error)
	ListPricingTiers(ctx context.Context) ([]models.PricingTier, error)
}

// Handler wires membership endpoints to the transition engine.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic mounts the unauthenticated catalog endpoint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/pricing-tiers", h.HandleListPricingTiers)
}

// Register mounts the escort and agency endpoints. The router must already
// carry authmw.RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireRole(h.logger, requestcontext.RoleEscort))
		r.Post("/memberships/requests", h.HandleRequestJoin)
		r.Post("/memberships/requests/{membershipID}/cancel", h.HandleCancelRequest)
		r.Get("/memberships/eligibility/join", h.HandleJoinEligibility)
		r.Get("/memberships/eligibility/leave", h.HandleLeaveEligibility)
		r.Post("/memberships/leave", h.HandleLeave)
		r.Post("/invitations/{invitationID}/respond", h.HandleRespondToInvitation)
	})

	r.Route("/agencies/{agencyID}", func(r chi.Router) {
		r.Use(authmw.RequireRole(h.logger, requestcontext.RoleAgency, requestcontext.RoleAdmin))
		r.Get("/members", h.HandleListMembers)
		r.Post("/requests/{membershipID}", h.HandleManageRequest)
		r.Post("/invitations", h.HandleInvite)
		r.Post("/members/{escortID}/remove", h.HandleRemoveMember)
		r.Post("/verifications", h.HandleVerify)
		r.Get("/verifications/expiring", h.HandleListExpiring)
	})
}

// fail logs and writes err. Domain outcomes log at INFO, infrastructure at ERROR.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	level := slog.LevelInfo
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"actor_id", requestcontext.Actor(ctx).UserID.String(),
		"reason", dErrors.ReasonOf(err),
		"error", err,
	)
	httputil.WriteError(w, err)
}

// agencyScope resolves {agencyID} and checks the actor belongs to it.
func (h *Handler) agencyScope(w http.ResponseWriter, r *http.Request) (id.AgencyID, requestcontext.ActorInfo, bool) {
	agencyID, err := id.ParseAgencyID(chi.URLParam(r, "agencyID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.AgencyID{}, requestcontext.ActorInfo{}, false
	}
	actor := requestcontext.Actor(r.Context())
	if actor.Role != requestcontext.RoleAdmin && actor.AgencyID != agencyID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "not a member of this agency's staff"))
		return id.AgencyID{}, actor, false
	}
	return agencyID, actor, true
}

func escortActor(r *http.Request) id.EscortID {
	return requestcontext.Actor(r.Context()).EscortID
}

// HandleRequestJoin handles POST /memberships/requests.
func (h *Handler) HandleRequestJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[JoinRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	m, err := h.service.RequestJoin(ctx, service.RequestJoinInput{
		EscortID: escortActor(r),
		AgencyID: req.agencyID,
		Message:  req.Message,
	})
	if err != nil {
		h.fail(w, r, "request join", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

// HandleCancelRequest handles POST /memberships/requests/{membershipID}/cancel.
func (h *Handler) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	membershipID, err := id.ParseMembershipID(chi.URLParam(r, "membershipID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReasonRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	m, err := h.service.CancelOwnRequest(ctx, escortActor(r), membershipID, req.Reason)
	if err != nil {
		h.fail(w, r, "cancel request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// HandleJoinEligibility handles GET /memberships/eligibility/join.
func (h *Handler) HandleJoinEligibility(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.CheckJoinEligibility(r.Context(), escortActor(r))
	if err != nil {
		h.fail(w, r, "join eligibility", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleLeaveEligibility handles GET /memberships/eligibility/leave.
func (h *Handler) HandleLeaveEligibility(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.CheckLeaveEligibility(r.Context(), escortActor(r))
	if err != nil {
		h.fail(w, r, "leave eligibility", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

// HandleLeave handles POST /memberships/leave.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ReasonRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.LeaveAgency(ctx, escortActor(r), req.Reason)
	if err != nil {
		h.fail(w, r, "leave agency", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleRespondToInvitation handles POST /invitations/{invitationID}/respond.
func (h *Handler) HandleRespondToInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	invitationID, err := id.ParseInvitationID(chi.URLParam(r, "invitationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RespondRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.RespondToInvitation(ctx, escortActor(r), invitationID, service.InvitationResponse(req.Response))
	if err != nil {
		h.fail(w, r, "respond to invitation", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleListMembers handles GET /agencies/{agencyID}/members?status=.
func (h *Handler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	agencyID, _, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	status := models.MembershipStatus(r.URL.Query().Get("status"))
	members, err := h.service.ListMembers(r.Context(), agencyID, status)
	if err != nil {
		h.fail(w, r, "list members", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"members": members})
}

// HandleManageRequest handles POST /agencies/{agencyID}/requests/{membershipID}.
func (h *Handler) HandleManageRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agencyID, actor, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	membershipID, err := id.ParseMembershipID(chi.URLParam(r, "membershipID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ManageRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.ManageMembershipRequest(ctx, service.ManageInput{
		AgencyID:       agencyID,
		MembershipID:   membershipID,
		Action:         service.ManageAction(req.Action),
		CommissionRate: req.CommissionRate,
		Role:           models.Role(req.Role),
		ActorID:        actor.UserID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.fail(w, r, "manage membership request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleInvite handles POST /agencies/{agencyID}/invitations.
func (h *Handler) HandleInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agencyID, actor, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[InviteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inv, err := h.service.Invite(ctx, service.InviteInput{
		AgencyID:           agencyID,
		EscortID:           req.escortID,
		ProposedCommission: req.ProposedCommission,
		ProposedRole:       models.Role(req.ProposedRole),
		ProposedBenefits:   req.ProposedBenefits,
		Message:            req.Message,
		InvitedBy:          actor.UserID,
	})
	if err != nil {
		h.fail(w, r, "invite", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

// HandleRemoveMember handles POST /agencies/{agencyID}/members/{escortID}/remove.
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agencyID, actor, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	escortID, err := id.ParseEscortID(chi.URLParam(r, "escortID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReasonRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.RemoveMember(ctx, agencyID, escortID, actor.UserID, req.Reason)
	if err != nil {
		h.fail(w, r, "remove member", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleVerify handles POST /agencies/{agencyID}/verifications.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agencyID, actor, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	v, err := h.service.Verify(ctx, service.VerifyInput{
		AgencyID:      agencyID,
		EscortID:      req.escortID,
		PricingTierID: req.tierID,
		Notes:         req.Notes,
		VerifiedBy:    actor.UserID,
	})
	if err != nil {
		h.fail(w, r, "verify", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, v)
}

// HandleListExpiring handles GET /agencies/{agencyID}/verifications/expiring?days=.
func (h *Handler) HandleListExpiring(w http.ResponseWriter, r *http.Request) {
	agencyID, _, ok := h.agencyScope(w, r)
	if !ok {
		return
	}
	days := defaultExpiringDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "days must be an integer"))
			return
		}
		days = n
	}
	vs, err := h.service.ListExpiringVerifications(r.Context(), agencyID, days)
	if err != nil {
		h.fail(w, r, "list expiring verifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"verifications": vs})
}

// HandleListPricingTiers handles GET /pricing-tiers.
func (h *Handler) HandleListPricingTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.service.ListPricingTiers(r.Context())
	if err != nil {
		h.fail(w, r, "list pricing tiers", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}
