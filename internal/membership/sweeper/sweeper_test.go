package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyhub/internal/membership/models"
	"agencyhub/pkg/requestcontext"
)

type fakeExpirer struct {
	mu    sync.Mutex
	times []time.Time
	err   error
}

func (f *fakeExpirer) ExpireStale(ctx context.Context) (*models.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, requestcontext.Now(ctx))
	return &models.SweepResult{InvitationsExpired: 1}, f.err
}

func (f *fakeExpirer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunOnce_PinsBatchTime(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	exp := &fakeExpirer{}
	s := New(exp, WithLogger(quiet()))
	s.now = func() time.Time { return fixed }

	res := s.RunOnce(context.Background())
	require.NotNil(t, res)
	assert.Equal(t, 1, res.InvitationsExpired)
	require.Len(t, exp.times, 1)
	assert.Equal(t, fixed, exp.times[0])
}

func TestRun_SweepsOnStartAndEveryTick(t *testing.T) {
	exp := &fakeExpirer{err: errors.New("ledger unavailable")}
	s := New(exp, WithInterval(10*time.Millisecond), WithLogger(quiet()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.calls() >= 3 }, time.Second, 5*time.Millisecond,
		"sweep failures must not stop the loop")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(&fakeExpirer{}, WithInterval(0), WithLogger(nil))
	assert.Equal(t, DefaultInterval, s.interval)
	assert.NotNil(t, s.logger)
}
