package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/backitup/backitup/internal/config"
)

// State is the dispatcher's lifecycle state.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateStopped
)

// Fire is dispatched once per matching minute, per schedule.
type Fire struct {
	Schedule string
	At       time.Time
}

// scheduledEntry pairs a parsed cron schedule with its timezone and
// owning config name.
type scheduledEntry struct {
	name     string
	schedule *Schedule
	loc      *time.Location
}

// Scheduler is the single-threaded cooperative minute dispatcher.
// It exclusively owns each schedule's lastFiredMinute
// state and launches one Fire per matching, not-yet-fired minute.
type Scheduler struct {
	mu      sync.Mutex
	state   State
	entries []scheduledEntry
	lastFired map[string]time.Time

	logger   *slog.Logger
	onFire   func(context.Context, Fire)
	stopCh   chan struct{}
	doneCh   chan struct{}
	drainFor time.Duration

	now func() time.Time
}

// Options configures a Scheduler.
type Options struct {
	Logger *slog.Logger
	// OnFire is invoked (in its own goroutine) for every firing.
	OnFire func(context.Context, Fire)
	// DefaultTimezone applies to schedules that don't specify one.
	DefaultTimezone string
	// DrainTimeout bounds how long Stop waits for in-flight fires.
	DrainTimeout time.Duration
}

// New builds a Scheduler from the configured schedules. A schedule
// whose cron expression fails to parse is logged and skipped; the
// scheduler still runs the valid ones.
func New(cfg *config.Config, opts Options) *Scheduler {
	loc := time.Local
	if opts.DefaultTimezone != "" {
		if l, err := time.LoadLocation(opts.DefaultTimezone); err == nil {
			loc = l
		}
	}

	s := &Scheduler{
		state:     StateInitialized,
		lastFired: make(map[string]time.Time),
		logger:    opts.Logger,
		onFire:    opts.OnFire,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		drainFor:  opts.DrainTimeout,
		now:       time.Now,
	}

	for name, sched := range cfg.Schedules {
		parsed, err := Parse(sched.Cron)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("skipping schedule with invalid cron expression", "schedule", name, "cron", sched.Cron, "error", err)
			}
			continue
		}
		entryLoc := loc
		if sched.Timezone != "" {
			if l, err := time.LoadLocation(sched.Timezone); err == nil {
				entryLoc = l
			} else if s.logger != nil {
				s.logger.Error("invalid schedule timezone, falling back to default", "schedule", name, "timezone", sched.Timezone, "error", err)
			}
		}
		s.entries = append(s.entries, scheduledEntry{name: name, schedule: parsed, loc: entryLoc})
	}

	return s
}

// Start begins the minute ticker. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the minute ticker and waits up to DrainTimeout for
// in-flight fires to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	close(s.stopCh)

	if s.drainFor <= 0 {
		return
	}
	select {
	case <-s.doneCh:
	case <-time.After(s.drainFor):
		if s.logger != nil {
			s.logger.Warn("scheduler drain timed out; exiting with tasks still in flight")
		}
	}
}

// State reports the dispatcher's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	var wg sync.WaitGroup
	defer wg.Wait()

	timer := time.NewTimer(durationUntilNextMinute(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx, &wg)
			timer.Reset(durationUntilNextMinute(s.now()))
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup) {
	utcNow := s.now()

	s.mu.Lock()
	var due []scheduledEntry
	for _, e := range s.entries {
		local := utcNow.In(e.loc)
		minuteKey := local.Truncate(time.Minute)
		if !e.schedule.Matches(local) {
			continue
		}
		if s.lastFired[e.name].Equal(minuteKey) {
			continue
		}
		s.lastFired[e.name] = minuteKey
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		entry := e
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.onFire != nil {
				s.onFire(ctx, Fire{Schedule: entry.name, At: utcNow})
			}
		}()
	}
}

// durationUntilNextMinute returns how long until the next zero-second
// boundary of the local clock.
func durationUntilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}
