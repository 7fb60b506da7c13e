// ABOUTME: Periodic config resync timer with at most one active timer at a time
// ABOUTME: Start cancels any existing timer before installing a new one; Stop tears it down

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs a function on a fixed interval.
type Scheduler struct {
	interval time.Duration
	run      func()
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	active int
	ticks  int
}

// New creates a stopped Scheduler. run must not block for long; callers
// dispatch network work themselves.
func New(interval time.Duration, run func(), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		run:      run,
		logger:   logger.With("component", "scheduler"),
	}
}

// Start installs the periodic timer, cancelling a previous one first.
// The timer stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.logger.Debug("replacing existing sync timer")
		s.stopLocked()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.active++

	go s.loop(loopCtx)
	s.logger.Debug("sync timer started", "interval", s.interval)
}

// Stop cancels the timer, if any, and clears the handle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.stopLocked()
		s.logger.Debug("sync timer stopped")
	}
}

// stopLocked must be called with mu held.
func (s *Scheduler) stopLocked() {
	s.cancel()
	s.cancel = nil
	s.active--
}

// Active returns the number of installed timers: 0 or 1.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Ticks returns how many times the timer has fired.
func (s *Scheduler) Ticks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A Stop racing the tick wins.
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			s.ticks++
			s.mu.Unlock()
			s.run()
		case <-ctx.Done():
			return
		}
	}
}
