package realtime

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a handle to a scheduled task.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran
	// or was already stopped.
	Stop() bool
}

// Scheduler runs tasks after a delay. Every task it schedules can be
// cancelled through the returned Timer.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

type clockScheduler struct {
	clock clock.Clock
}

// NewScheduler returns a Scheduler driven by clk. A nil clock uses wall time.
// Pass a *clock.Mock to control time in tests.
func NewScheduler(clk clock.Clock) Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &clockScheduler{clock: clk}
}

func (s *clockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return s.clock.AfterFunc(d, fn)
}

func (s *clockScheduler) Now() time.Time {
	return s.clock.Now()
}
