package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/pkg/platform/circuit"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []Notification
	fails int
	calls atomic.Int32
}

func (s *recordingSink) Send(_ context.Context, n Notification) error {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) Sent() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func zeroBackoff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestDispatcher_DrainDeliversAndStampsIDs(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, WithLogger(quietLogger()), WithMetrics(NewMetrics(prometheus.NewRegistry())))

	d.Notify(context.Background(),
		Notification{Kind: KindMembershipApproved, RecipientType: RecipientEscort, RecipientID: "e1"},
		Notification{Kind: KindAutoCancelled, RecipientType: RecipientAgency, RecipientID: "a1"},
	)
	assert.Equal(t, 2, d.Pending())

	assert.Equal(t, 2, d.Drain(context.Background()))
	sent := sink.Sent()
	require.Len(t, sent, 2)
	for _, n := range sent {
		assert.NotEqual(t, "", n.ID.String())
		assert.False(t, n.CreatedAt.IsZero())
	}
}

func TestDispatcher_RetriesThenSucceeds(t *testing.T) {
	sink := &recordingSink{fails: 2}
	fallback := &recordingSink{}
	d := NewDispatcher(sink, WithFallback(fallback), WithBackoff(zeroBackoff), WithLogger(quietLogger()))

	d.Notify(context.Background(), Notification{Kind: KindMemberLeft, RecipientID: "a1"})
	d.Drain(context.Background())

	assert.Len(t, sink.Sent(), 1)
	assert.Equal(t, int32(3), sink.calls.Load())
	assert.Empty(t, fallback.Sent())
}

func TestDispatcher_ExhaustedRetriesUseFallbackAndTripBreaker(t *testing.T) {
	sink := &recordingSink{fails: 1000}
	fallback := &recordingSink{}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	d := NewDispatcher(sink,
		WithFallback(fallback),
		WithBreaker(breaker),
		WithBackoff(zeroBackoff),
		WithMaxAttempts(2),
		WithLogger(quietLogger()),
	)

	for i := 0; i < 4; i++ {
		d.Notify(context.Background(), Notification{Kind: KindVerificationIssued, RecipientID: "e1"})
	}
	d.Drain(context.Background())

	assert.True(t, breaker.IsOpen())
	assert.Len(t, fallback.Sent(), 4)
	// two notifications tried twice each before the breaker opened
	assert.Equal(t, int32(4), sink.calls.Load())
}

func TestDispatcher_FullBufferDropsOldest(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, WithBufferSize(2), WithLogger(quietLogger()))

	for _, id := range []string{"first", "second", "third"} {
		d.Notify(context.Background(), Notification{RecipientID: id})
	}
	d.Drain(context.Background())

	sent := sink.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "second", sent[0].RecipientID)
	assert.Equal(t, "third", sent[1].RecipientID)
}

func TestDispatcher_RunDeliversInBackground(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, WithWorkers(2), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	d.Notify(context.Background(), Notification{Kind: KindInvitationReceived, RecipientID: "e1"})
	require.Eventually(t, func() bool { return len(sink.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
