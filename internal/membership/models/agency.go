package models

import (
	"time"

	id "agencyhub/pkg/domain"
)

// Agency holds denormalized counters that summarize its memberships and
// verifications. They are only ever moved by CounterDelta inside the
// transaction that changes the rows they summarize.
type Agency struct {
	ID                    id.AgencyID `json:"id"`
	OwnerUserID           id.UserID   `json:"owner_user_id"`
	Name                  string      `json:"name"`
	TotalEscorts          int         `json:"total_escorts"`
	ActiveEscorts         int         `json:"active_escorts"`
	VerifiedEscorts       int         `json:"verified_escorts"`
	TotalVerifications    int         `json:"total_verifications"`
	DefaultCommissionRate float64     `json:"default_commission_rate"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// CounterDelta is an atomic increment/decrement for Agency counters.
type CounterDelta struct {
	TotalEscorts       int
	ActiveEscorts      int
	VerifiedEscorts    int
	TotalVerifications int
}

func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// Apply adds the delta, clamping every counter at zero.
func (a *Agency) Apply(d CounterDelta, now time.Time) {
	a.TotalEscorts = clampAdd(a.TotalEscorts, d.TotalEscorts)
	a.ActiveEscorts = clampAdd(a.ActiveEscorts, d.ActiveEscorts)
	a.VerifiedEscorts = clampAdd(a.VerifiedEscorts, d.VerifiedEscorts)
	a.TotalVerifications = clampAdd(a.TotalVerifications, d.TotalVerifications)
	a.UpdatedAt = now
}

func clampAdd(v, delta int) int {
	if v+delta < 0 {
		return 0
	}
	return v + delta
}

// Joined is the delta for an escort becoming an active member.
func Joined() CounterDelta { return CounterDelta{TotalEscorts: 1, ActiveEscorts: 1} }

// Departed is the delta for an active member leaving or being removed.
func Departed() CounterDelta { return CounterDelta{ActiveEscorts: -1} }
