package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"agencyhub/internal/membership/models"
	"agencyhub/internal/notify"
	id "agencyhub/pkg/domain"
)

func note(kind notify.Kind, to notify.RecipientType, recipient, title, body string, data map[string]string, now time.Time) notify.Notification {
	return notify.Notification{
		ID:            uuid.New(),
		Kind:          kind,
		RecipientType: to,
		RecipientID:   recipient,
		Title:         title,
		Body:          body,
		Data:          data,
		CreatedAt:     now,
	}
}

func toEscort(escortID id.EscortID, kind notify.Kind, title, body string, data map[string]string, now time.Time) notify.Notification {
	return note(kind, notify.RecipientEscort, escortID.String(), title, body, data, now)
}

func toAgency(agencyID id.AgencyID, kind notify.Kind, title, body string, data map[string]string, now time.Time) notify.Notification {
	return note(kind, notify.RecipientAgency, agencyID.String(), title, body, data, now)
}

func membershipData(m *models.Membership) map[string]string {
	return map[string]string{
		"membership_id": m.ID.String(),
		"escort_id":     m.EscortID.String(),
		"agency_id":     m.AgencyID.String(),
		"status":        string(m.Status),
	}
}

// autoCancelledNotes tells every agency whose pending request was cancelled
// that the escort joined elsewhere.
func autoCancelledNotes(cancelled []*models.Membership, now time.Time) []notify.Notification {
	out := make([]notify.Notification, 0, len(cancelled))
	for _, m := range cancelled {
		out = append(out, toAgency(m.AgencyID, notify.KindAutoCancelled,
			"Membership request withdrawn",
			"The escort has joined another agency and the pending request was cancelled.",
			membershipData(m), now))
	}
	return out
}

func joinRequestedNote(m *models.Membership, now time.Time) notify.Notification {
	return toAgency(m.AgencyID, notify.KindJoinRequested,
		"New membership request",
		"An escort has requested to join your agency.",
		membershipData(m), now)
}

func joinCancelledNote(m *models.Membership, now time.Time) notify.Notification {
	return toAgency(m.AgencyID, notify.KindJoinCancelled,
		"Membership request cancelled",
		"An escort has withdrawn their request to join your agency.",
		membershipData(m), now)
}

func approvedNote(m *models.Membership, agencyName string, now time.Time) notify.Notification {
	return toEscort(m.EscortID, notify.KindMembershipApproved,
		"Membership approved",
		fmt.Sprintf("%s approved your membership request.", agencyName),
		membershipData(m), now)
}

func rejectedNote(m *models.Membership, agencyName string, now time.Time) notify.Notification {
	body := fmt.Sprintf("%s declined your membership request.", agencyName)
	if m.RejectionReason != "" {
		body += " Reason: " + m.RejectionReason
	}
	return toEscort(m.EscortID, notify.KindMembershipRejected, "Membership request declined", body, membershipData(m), now)
}

func invitationData(inv *models.Invitation) map[string]string {
	return map[string]string{
		"invitation_id": inv.ID.String(),
		"escort_id":     inv.EscortID.String(),
		"agency_id":     inv.AgencyID.String(),
		"expires_at":    inv.ExpiresAt.Format(time.RFC3339),
	}
}

func invitationReceivedNote(inv *models.Invitation, agencyName string, now time.Time) notify.Notification {
	return toEscort(inv.EscortID, notify.KindInvitationReceived,
		"Agency invitation",
		fmt.Sprintf("%s invited you to join with a %.1f%% commission.", agencyName, inv.ProposedCommission),
		invitationData(inv), now)
}

func invitationAnsweredNote(inv *models.Invitation, now time.Time) notify.Notification {
	if inv.Status == models.InvitationStatusAccepted {
		return toAgency(inv.AgencyID, notify.KindInvitationAccepted,
			"Invitation accepted", "An escort accepted your invitation and is now a member.",
			invitationData(inv), now)
	}
	return toAgency(inv.AgencyID, notify.KindInvitationDeclined,
		"Invitation declined", "An escort declined your invitation.",
		invitationData(inv), now)
}

func departureNote(m *models.Membership, now time.Time) notify.Notification {
	if m.RejectionCause == models.CauseRemoved {
		return toEscort(m.EscortID, notify.KindMemberRemoved,
			"Removed from agency", "Your agency ended your membership.",
			membershipData(m), now)
	}
	return toAgency(m.AgencyID, notify.KindMemberLeft,
		"Member left", "An escort has left your agency.",
		membershipData(m), now)
}

func verificationNote(v *models.Verification, tierName string, now time.Time) notify.Notification {
	kind, title := notify.KindVerificationIssued, "You are verified"
	if v.IsRenewal {
		kind, title = notify.KindVerificationRenewed, "Verification renewed"
	}
	data := map[string]string{
		"verification_id": v.ID.String(),
		"agency_id":       v.AgencyID.String(),
		"tier":            tierName,
	}
	body := fmt.Sprintf("Your %s verification is active.", tierName)
	if v.ExpiresAt != nil {
		data["expires_at"] = v.ExpiresAt.Format(time.RFC3339)
		body = fmt.Sprintf("Your %s verification is active until %s.", tierName, v.ExpiresAt.Format(time.DateOnly))
	}
	return toEscort(v.EscortID, kind, title, body, data, now)
}

func verificationExpiredNote(escortID id.EscortID, issuer *id.AgencyID, now time.Time) []notify.Notification {
	data := map[string]string{"escort_id": escortID.String()}
	out := []notify.Notification{toEscort(escortID, notify.KindVerificationExpired,
		"Verification expired", "Your verification badge has expired. Ask your agency to renew it.", data, now)}
	if issuer != nil {
		out = append(out, toAgency(*issuer, notify.KindVerificationExpired,
			"Member verification expired", "A verification issued by your agency has expired.", data, now))
	}
	return out
}
