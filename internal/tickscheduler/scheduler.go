// Package tickscheduler implements the periodic timer that drives the
// worker: a single-shot timer that re-arms itself after every fire, so
// a change to the configured period always takes effect on the next
// tick rather than requiring a restart.
package tickscheduler

import (
	"sync"
	"time"
)

// Scheduler is disabled at construction and stays that way until
// Enable is called, mirroring the Tick Scheduler waiting for the
// settings subsystem to report READY before it starts firing.
type Scheduler struct {
	mu      sync.Mutex
	timer   *time.Timer
	enabled bool
	period  func() time.Duration
	onTick  func()
}

// New creates a Scheduler. period is consulted fresh on every fire, so
// it should read the current configuration rather than capture it.
// onTick is invoked on the timer's own goroutine; it must not block.
func New(period func() time.Duration, onTick func()) *Scheduler {
	return &Scheduler{period: period, onTick: onTick}
}

// Enable starts the timer if it is not already running. Calling Enable
// more than once has no effect.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return
	}
	s.enabled = true
	s.arm()
}

// Stop disables the scheduler and cancels any pending fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) arm() {
	d := s.period()
	s.timer = time.AfterFunc(d, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.arm()
	s.mu.Unlock()

	s.onTick()
}
