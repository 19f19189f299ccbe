// Package reputation keeps the escort trust score that search ranking reads.
// The membership engine only nudges it after verifications; updates are
// best-effort and never block a transition.
package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "agencyhub/pkg/domain"
)

const (
	// FirstVerificationBonus is added when an escort is verified for the first time.
	FirstVerificationBonus = 5.0
	// RenewalBonus is added when a verification is renewed.
	RenewalBonus = 2.0

	keyPrefix = "agencyhub:trust:"
)

// RedisTrust stores trust scores as float counters in Redis.
type RedisTrust struct {
	client redis.Cmdable
}

func NewRedisTrust(client redis.Cmdable) *RedisTrust {
	return &RedisTrust{client: client}
}

func key(escortID id.EscortID) string { return keyPrefix + escortID.String() }

// Bump adds delta to the escort's score and returns the new value.
func (t *RedisTrust) Bump(ctx context.Context, escortID id.EscortID, delta float64) (float64, error) {
	score, err := t.client.IncrByFloat(ctx, key(escortID), delta).Result()
	if err != nil {
		return 0, fmt.Errorf("bump trust score: %w", err)
	}
	return score, nil
}

// Score returns the escort's current score, zero when never bumped.
func (t *RedisTrust) Score(ctx context.Context, escortID id.EscortID) (float64, error) {
	score, err := t.client.Get(ctx, key(escortID)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read trust score: %w", err)
	}
	return score, nil
}

// VerificationBonus returns the score delta for a verification.
func VerificationBonus(renewal bool) float64 {
	if renewal {
		return RenewalBonus
	}
	return FirstVerificationBonus
}
