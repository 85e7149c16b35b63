// Package agent runs the registration schedule.
package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"nodeagent/internal/registration"
)

// Updater runs one registration cycle.
type Updater interface {
	Update(ctx context.Context) registration.Outcome
}

// Loop alternates between registering and sleeping. The sleep starts after
// the cycle finishes, so the period is interval plus cycle time.
type Loop struct {
	updater  Updater
	interval time.Duration
	tracker  *Tracker
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) bool
}

// NewLoop creates a loop. tracker may be nil.
func NewLoop(updater Updater, interval time.Duration, tracker *Tracker, log zerolog.Logger) *Loop {
	return &Loop{
		updater:  updater,
		interval: interval,
		tracker:  tracker,
		log:      log,
		sleep:    sleepContext,
	}
}

// Run registers immediately and then after every interval until ctx is
// cancelled. It only returns ctx's error.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("interval", l.interval).Msg("Registration loop started")
	for {
		out := l.updater.Update(ctx)
		if l.tracker != nil {
			l.tracker.Record(out)
		}
		if out.OK() {
			l.log.Debug().
				Int("attempts", out.Attempts).
				Dur("took", out.Duration).
				Msg("Registration cycle done")
		}

		if !l.sleep(ctx, l.interval) {
			l.log.Info().Msg("Registration loop stopped")
			return ctx.Err()
		}
	}
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
