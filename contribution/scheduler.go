/*
scheduler.go - Monthly contribution scheduler

PURPOSE:
  Generates the contributions of every population once per calendar
  month, without external triggering.

DESIGN:
  - Background goroutine with a configurable check interval (default 1h)
  - Checks once immediately on Start, then on every tick
  - Only ticks falling on day 1 of the month can generate
  - lastGenerated guards against redundant passes within this process;
    it is not persisted. Duplicate prevention across restarts and
    processes comes from the generator's own period check.
  - A failed pass leaves the guard unset so the next tick retries

STATE MACHINE:
  Idle -> Checking -> Idle                     (not day 1, or already done)
  Idle -> Checking -> Generating -> Recorded -> Idle
  Idle -> Checking -> Generating -> Idle       (failure, guard unchanged)

USAGE:
  scheduler := NewMonthlyScheduler(runner, logger)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()
*/
package contribution

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type SchedulerState string

const (
	StateIdle       SchedulerState = "idle"
	StateChecking   SchedulerState = "checking"
	StateGenerating SchedulerState = "generating"
	StateRecorded   SchedulerState = "recorded"
)

// MonthlyScheduler owns the timing of generation passes.
type MonthlyScheduler struct {
	Runner        *Runner
	CheckInterval time.Duration
	Enabled       bool

	// Now is the scheduler clock. Day-of-month is evaluated in its location.
	Now func() time.Time

	logger *slog.Logger

	// tickMu serialises passes; stateMu guards the fields below.
	tickMu        sync.Mutex
	stateMu       sync.RWMutex
	state         SchedulerState
	lastGenerated Period
	lastCheck     time.Time

	lifecycleMu sync.Mutex
	ticker      *time.Ticker
	stop        chan struct{}
	wg          sync.WaitGroup

	// running is cleared by the loop itself, also when ctx ends it.
	running atomic.Bool
}

// NewMonthlyScheduler creates a scheduler with an hourly check interval.
func NewMonthlyScheduler(runner *Runner, logger *slog.Logger) *MonthlyScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonthlyScheduler{
		Runner:        runner,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		logger:        logger.With("component", "scheduler"),
		state:         StateIdle,
	}
}

// Start begins the scheduler. It returns immediately; the first check
// runs in the background goroutine.
func (s *MonthlyScheduler) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.Enabled {
		s.logger.Info("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		if s.running.Load() {
			return
		}
		// The previous loop ended with its context; release it first.
		s.shutdown()
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.running.Store(true)
	s.wg.Add(1)

	go s.run(ctx, s.ticker, s.stop)

	s.logger.Info("scheduler started", "check_interval", s.CheckInterval.String())
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *MonthlyScheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.ticker == nil {
		return
	}
	s.shutdown()
	s.logger.Info("scheduler stopped")
}

// shutdown must be called with lifecycleMu held.
func (s *MonthlyScheduler) shutdown() {
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
}

func (s *MonthlyScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	defer s.running.Store(false)

	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one check and, on day 1 of a month not yet generated by
// this process, one generation pass per population. It never returns an
// error: failures are logged and retried on the next eligible tick.
func (s *MonthlyScheduler) Tick(ctx context.Context) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.Now()
	s.setState(StateChecking)
	s.stateMu.Lock()
	s.lastCheck = now
	s.stateMu.Unlock()

	if now.Day() != 1 {
		s.setState(StateIdle)
		return
	}

	period := PeriodOf(now)
	if period.Equal(s.LastGenerated()) {
		s.setState(StateIdle)
		return
	}

	s.setState(StateGenerating)
	s.logger.InfoContext(ctx, "generating monthly contributions", "period", period.String())

	failed := false
	for _, pop := range Populations {
		if _, ok := s.Runner.Generator().Config(pop); !ok {
			continue
		}
		if err := s.runPass(ctx, pop, period); err != nil {
			failed = true
		}
	}

	if failed {
		s.logger.WarnContext(ctx, "monthly generation incomplete, will retry on next tick", "period", period.String())
		s.setState(StateIdle)
		return
	}

	s.stateMu.Lock()
	s.lastGenerated = period
	s.state = StateRecorded
	s.stateMu.Unlock()

	s.setState(StateIdle)
}

// runPass isolates one pass so a panic in storage code cannot take down
// the process that also serves HTTP traffic.
func (s *MonthlyScheduler) runPass(ctx context.Context, pop Population, period Period) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "generation pass panicked", "population", pop, "panic", r)
			err = errPassPanicked
		}
	}()
	_, err = s.Runner.Run(ctx, pop, period, TriggerScheduler)
	return err
}

func (s *MonthlyScheduler) setState(state SchedulerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// State returns the current state.
func (s *MonthlyScheduler) State() SchedulerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastGenerated returns the guard, or the zero Period if unset.
func (s *MonthlyScheduler) LastGenerated() Period {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastGenerated
}

// LastCheck returns the clock reading of the most recent tick.
func (s *MonthlyScheduler) LastCheck() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastCheck
}

// Running reports whether the background loop is active.
func (s *MonthlyScheduler) Running() bool {
	return s.running.Load()
}

// NextCheck returns when the next scheduled check will occur.
func (s *MonthlyScheduler) NextCheck() time.Time {
	last := s.LastCheck()
	if last.IsZero() {
		return s.Now()
	}
	return last.Add(s.CheckInterval)
}
