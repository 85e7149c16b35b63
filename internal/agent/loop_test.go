package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeagent/internal/registration"
)

// scriptedUpdater returns the scripted outcomes in order and records calls.
type scriptedUpdater struct {
	outcomes []registration.Outcome
	calls    int
	onCall   func(n int)
}

func (u *scriptedUpdater) Update(ctx context.Context) registration.Outcome {
	u.calls++
	if u.onCall != nil {
		u.onCall(u.calls)
	}
	if len(u.outcomes) == 0 {
		return registration.Outcome{Started: time.Now(), Attempts: 1}
	}
	out := u.outcomes[0]
	u.outcomes = u.outcomes[1:]
	return out
}

func TestLoop_SleepsAfterEveryCycleEvenOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fail := registration.Outcome{Started: time.Now(), Attempts: 3, Err: errors.New("reset")}
	updater := &scriptedUpdater{outcomes: []registration.Outcome{fail, fail, {Started: time.Now(), Attempts: 1}}}
	tracker := NewTracker()
	loop := NewLoop(updater, 10*time.Second, tracker, zerolog.Nop())

	var sleeps []time.Duration
	loop.sleep = func(ctx context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		if len(sleeps) == 3 {
			cancel()
			return false
		}
		return true
	}

	err := loop.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, updater.calls)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, sleeps)

	s := tracker.Snapshot()
	assert.EqualValues(t, 3, s.Cycles)
	assert.EqualValues(t, 2, s.Failures)
	assert.EqualValues(t, 0, s.ConsecutiveFailures)
	assert.Empty(t, s.LastError)
}

func TestLoop_SleepStartsAfterWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycleEnd, sleepStart time.Time
	updater := &scriptedUpdater{onCall: func(int) {
		time.Sleep(20 * time.Millisecond)
		cycleEnd = time.Now()
	}}
	loop := NewLoop(updater, time.Second, nil, zerolog.Nop())
	loop.sleep = func(ctx context.Context, d time.Duration) bool {
		sleepStart = time.Now()
		cancel()
		return false
	}

	require.ErrorIs(t, loop.Run(ctx), context.Canceled)
	assert.False(t, sleepStart.Before(cycleEnd), "sleep must begin after the cycle completes")
}

func TestLoop_RealSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	updater := &scriptedUpdater{}
	loop := NewLoop(updater, time.Hour, nil, zerolog.Nop())

	start := time.Now()
	err := loop.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, updater.calls)
	assert.True(t, time.Since(start) < 5*time.Second, "loop did not stop on cancel")
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	now := time.Unix(10000, 0)

	assert.False(t, tr.Fresh(now, time.Minute), "no success yet")

	tr.Record(registration.Outcome{Started: now, Duration: time.Second, Attempts: 1})
	assert.True(t, tr.Fresh(now.Add(30*time.Second), time.Minute))
	assert.False(t, tr.Fresh(now.Add(2*time.Minute), time.Minute))

	tr.Record(registration.Outcome{Started: now.Add(time.Minute), Attempts: 3, Err: errors.New("boom")})
	s := tr.Snapshot()
	assert.EqualValues(t, 2, s.Cycles)
	assert.EqualValues(t, 1, s.ConsecutiveFailures)
	assert.Equal(t, "boom", s.LastError)
	assert.Equal(t, 3, s.LastAttempts)
	assert.Equal(t, now.Add(time.Second), s.LastSuccess)
}
