// Package scheduler runs the periodic economy jobs.
//
// Jobs never overlap: every run holds a process-wide mutex and a shared lock
// so that replicas take turns too. A scheduled job also claims its current
// period, and the claim outlives the run, so a job runs at most once per
// period no matter how many replicas fire it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"countryballs/internal/config"
	"countryballs/internal/economy"
	"countryballs/internal/metrics"
	"countryballs/internal/pkg/joblock"
)

// Job names.
const (
	JobRechargeEnergy     = "recharge_energy"
	JobAccrueCapacity     = "accrue_capacity"
	JobRefreshRatings     = "refresh_ratings"
	JobComputeCommissions = "compute_commissions"
)

// lockKey is shared by all jobs so that no two of them run at once anywhere.
// Period claims live under lockKey:<job>:<period start>.
const lockKey = "economy-jobs"

// periodLookback bounds the search for the current period of a cron spec.
const periodLookback = 8 * 24 * time.Hour

var (
	// ErrUnknownJob is returned by RunNow for a name that was never registered.
	ErrUnknownJob = fmt.Errorf("job %w", economy.ErrNotFound)
	// ErrAlreadyRan is returned when the job already ran in its current period.
	ErrAlreadyRan = fmt.Errorf("job already ran in this period: %w", economy.ErrConflict)
)

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

type job struct {
	fn    JobFunc
	sched cron.Schedule // nil for jobs that only run through RunNow
}

// Scheduler wraps a cron runner with job serialization and metrics.
type Scheduler struct {
	cron    *cron.Cron
	loc     *time.Location
	locker  joblock.Locker
	lockTTL time.Duration
	now     func() time.Time

	runMu sync.Mutex

	mu   sync.RWMutex
	jobs map[string]job

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. A nil locker keeps locks and period claims in
// process memory, which only protects a single replica.
func New(cfg config.SchedulerConfig, locker joblock.Locker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if locker == nil {
		locker = joblock.NewLocalLocker()
	}
	loc := cfg.Location()
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		loc:     loc,
		locker:  locker,
		lockTTL: ttl,
		now:     time.Now,
		jobs:    make(map[string]job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a job. An empty spec registers the job for RunNow only.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered: %w", name, economy.ErrConflict)
	}
	j := job{fn: fn}
	if spec != "" {
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("%w: bad schedule %q for job %s: %v", economy.ErrInvalidInput, spec, name, err)
		}
		j.sched = sched
		s.cron.Schedule(sched, cron.FuncJob(func() { _ = s.run(s.ctx, name, j) }))
	}
	s.jobs[name] = j

	log.Info().Str("job", name).Str("spec", spec).Msg("Job registered")
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a job immediately, waiting for any job already in progress.
// A scheduled job that already ran in its current period returns ErrAlreadyRan.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	return s.run(ctx, name, j)
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.Jobs())).Msg("Scheduler started")
}

// Stop stops scheduling, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, name string, j job) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	release, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
	if errors.Is(err, joblock.ErrNotAcquired) {
		metrics.JobRuns.WithLabelValues(name, metrics.StatusSkipped).Inc()
		log.Info().Str("job", name).Msg("Job skipped, another replica holds the lock")
		return err
	}
	if err != nil {
		metrics.JobRuns.WithLabelValues(name, metrics.StatusError).Inc()
		log.Error().Err(err).Str("job", name).Msg("Failed to acquire job lock")
		return err
	}
	defer release()

	// The claim is kept after a successful run and expires with the period.
	var unclaim func()
	if j.sched != nil {
		start, next := periodOf(j.sched, s.now().In(s.loc))
		key := fmt.Sprintf("%s:%s:%s", lockKey, name, start.UTC().Format(time.RFC3339))
		unclaim, err = s.locker.Acquire(ctx, key, next.Sub(start)+s.lockTTL)
		if errors.Is(err, joblock.ErrNotAcquired) {
			metrics.JobRuns.WithLabelValues(name, metrics.StatusSkipped).Inc()
			log.Info().Str("job", name).Time("period", start).Msg("Job skipped, already ran in this period")
			return ErrAlreadyRan
		}
		if err != nil {
			metrics.JobRuns.WithLabelValues(name, metrics.StatusError).Inc()
			log.Error().Err(err).Str("job", name).Msg("Failed to claim job period")
			return err
		}
	}

	start := time.Now()
	err = j.fn(ctx)
	elapsed := time.Since(start)
	metrics.JobDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if err != nil {
		// a failed run gives the period back so it can be retried
		if unclaim != nil {
			unclaim()
		}
		metrics.JobRuns.WithLabelValues(name, metrics.StatusError).Inc()
		log.Error().Err(err).Str("job", name).Dur("elapsed", elapsed).Msg("Job failed")
		return fmt.Errorf("job %s: %w", name, err)
	}

	metrics.JobRuns.WithLabelValues(name, metrics.StatusOK).Inc()
	log.Info().Str("job", name).Dur("elapsed", elapsed).Msg("Job finished")
	return nil
}

// periodOf returns the latest activation of sched at or before now and the
// activation after it. Every replica firing the same activation gets the same
// start, whatever its scheduling delay.
func periodOf(sched cron.Schedule, now time.Time) (start, next time.Time) {
	if every, ok := sched.(cron.ConstantDelaySchedule); ok {
		start = now.Truncate(every.Delay)
		return start, start.Add(every.Delay)
	}

	t := sched.Next(now.Add(-periodLookback))
	if t.IsZero() || t.After(now) {
		// no activation within the lookback: treat the current minute as the period
		start = now.Truncate(time.Minute)
		return start, start.Add(time.Minute)
	}
	for {
		n := sched.Next(t)
		if n.IsZero() || n.After(now) {
			return t, n
		}
		t = n
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
