// Package store persists the membership ledger: escorts, agencies,
// memberships, invitations and verifications.
//
// Two implementations share the same method set. PostgresLedger issues every
// query through the transaction bound to ctx (see pkg/platform/tx) so row
// locks taken by LockEscort hold until the transition engine commits.
// InMemoryLedger backs unit tests and local runs; its transaction runner
// serializes writers and restores a snapshot on failure.
package store

import (
	"fmt"

	"agencyhub/pkg/platform/sentinel"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = sentinel.ErrNotFound

	// ErrActiveMembershipExists is returned when a write would give an escort
	// a second ACTIVE membership.
	ErrActiveMembershipExists = fmt.Errorf("escort already has an active membership: %w", sentinel.ErrConflict)

	// ErrDuplicateMembership is returned when a membership row for the
	// (escort, agency) pair already exists.
	ErrDuplicateMembership = fmt.Errorf("membership for escort and agency already exists: %w", sentinel.ErrConflict)
)

// DefaultSweepBatch bounds how many lapsed escorts one sweep pass loads.
const DefaultSweepBatch = 500
