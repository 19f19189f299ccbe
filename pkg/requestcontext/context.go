// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the authenticated actor, request id and request time; the
// transition engine reads them without importing net/http.
//
//	actor := requestcontext.Actor(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests pin the clock with requestcontext.WithTime(ctx, fixed).
package requestcontext

import (
	"context"
	"time"

	id "agencyhub/pkg/domain"
)

type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyActor       = actorKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// Role distinguishes which side of the marketplace an actor represents.
type Role string

const (
	RoleEscort Role = "escort"
	RoleAgency Role = "agency"
	RoleAdmin  Role = "admin"
)

// ActorInfo is the authenticated caller. EscortID is set for escort actors and
// AgencyID for agency staff.
type ActorInfo struct {
	UserID   id.UserID
	Role     Role
	EscortID id.EscortID
	AgencyID id.AgencyID
}

// Actor retrieves the authenticated actor; the zero value when unauthenticated.
func Actor(ctx context.Context) ActorInfo {
	if a, ok := ctx.Value(ContextKeyActor).(ActorInfo); ok {
		return a
	}
	return ActorInfo{}
}

func WithActor(ctx context.Context, actor ActorInfo) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers and tests that did not pin a time.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
// Used by the sweeper for a consistent time across a batch, and by tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
