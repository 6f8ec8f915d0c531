package worker

import (
	"context"
	"math"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/service/sending"
)

// DefaultWaitTick is the cadence of waiting events during an inter-batch delay.
const DefaultWaitTick = time.Second

// Clock abstracts time so countdowns can be driven deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler gates the start of the next batch. During a delay it reports
// the seconds remaining once per tick.
type Scheduler struct {
	clock Clock
	tick  time.Duration
}

// NewScheduler creates a scheduler on the wall clock with a one second tick.
func NewScheduler() *Scheduler {
	return &Scheduler{clock: realClock{}, tick: DefaultWaitTick}
}

// SetClock replaces the time source
func (s *Scheduler) SetClock(c Clock) {
	if c != nil {
		s.clock = c
	}
}

// SetTick sets the countdown cadence. Values above one second are clamped
// to one second; non-positive values are ignored.
func (s *Scheduler) SetTick(d time.Duration) {
	if d <= 0 {
		return
	}
	s.tick = min(d, time.Second)
}

// Wait suspends for delay, emitting a waiting event carrying the whole
// seconds remaining (rounded up) at every tick. A zero or negative delay
// returns immediately without events. Wait returns ctx.Err() as soon as ctx
// is cancelled, and any error from the sink.
func (s *Scheduler) Wait(ctx context.Context, delay time.Duration, sink sending.EventSink) error {
	if delay <= 0 {
		return nil
	}
	deadline := s.clock.Now().Add(delay)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return nil
		}

		secs := int(math.Ceil(remaining.Seconds()))
		if err := sink.Emit(ctx, domain.NewWaitingEvent(secs)); err != nil {
			return err
		}

		step := s.tick
		if remaining < step {
			step = remaining
		}
		select {
		case <-s.clock.After(step):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
