package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Ledger stores return these
// (optionally wrapped) and the transition engine translates them into domain
// errors with reasons.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrInvalidState: row exists but is not in the status the caller expected
//   - ErrUnavailable: storage temporarily unreachable or the tx was aborted by the database
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
