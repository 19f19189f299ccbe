// Package notify fans membership events out to escorts and agencies. Delivery
// is detached from the transition that produced the event: Notify only
// enqueues, and a worker pool drains the queue into a Sink.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindJoinRequested       Kind = "membership.join_requested"
	KindJoinCancelled       Kind = "membership.join_cancelled"
	KindMembershipApproved  Kind = "membership.approved"
	KindMembershipRejected  Kind = "membership.rejected"
	KindAutoCancelled       Kind = "membership.auto_cancelled"
	KindInvitationReceived  Kind = "invitation.received"
	KindInvitationAccepted  Kind = "invitation.accepted"
	KindInvitationDeclined  Kind = "invitation.declined"
	KindMemberLeft          Kind = "membership.left"
	KindMemberRemoved       Kind = "membership.removed"
	KindVerificationIssued  Kind = "verification.issued"
	KindVerificationRenewed Kind = "verification.renewed"
	KindVerificationExpired Kind = "verification.expired"
)

type RecipientType string

const (
	RecipientEscort RecipientType = "escort"
	RecipientAgency RecipientType = "agency"
)

// Notification is one message to one recipient.
type Notification struct {
	ID            uuid.UUID         `json:"id"`
	Kind          Kind              `json:"kind"`
	RecipientType RecipientType     `json:"recipient_type"`
	RecipientID   string            `json:"recipient_id"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Sink delivers a notification to a downstream channel.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }
