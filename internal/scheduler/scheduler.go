// Package scheduler runs periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hpungsan/almanac/internal/config"
	"github.com/hpungsan/almanac/internal/logging"
	"github.com/hpungsan/almanac/internal/ops"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 30 * time.Minute

// Job is a scheduled task.
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks. Overlapping runs of the same job are skipped.
type Scheduler struct {
	cron     *cron.Cron
	logger   *zap.Logger
	timeout  time.Duration
	timezone *time.Location

	mu     sync.Mutex
	jobs   map[string]cron.EntryID
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler in the given timezone ("" means UTC).
func New(timezone string, logger *zap.Logger) (*Scheduler, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	logger = logging.OrNop(logger).Named("scheduler")
	cl := cronLogger{logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		logger:   logger,
		timeout:  DefaultJobTimeout,
		timezone: loc,
		jobs:     make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// AddJob adds a job with a cron schedule such as "*/30 * * * *".
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(s.ctx, name, job); err != nil {
			s.logger.Warn("job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.jobs[name] = entryID
	s.logger.Info("job added", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.logger.Info("job removed", zap.String("job", name))
	}
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug("job started", zap.String("job", name))
	if err := job(ctx); err != nil {
		return err
	}
	s.logger.Info("job completed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	return s.run(ctx, name, job)
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler starting", zap.String("timezone", s.timezone.String()))
	s.cron.Start()
}

// Stop halts the scheduler, cancels running jobs, and returns a context
// that is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	s.cancel()
	return s.cron.Stop()
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// ListJobs returns the scheduled jobs ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]JobInfo, 0, len(s.jobs))
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Refresher is the operation the sweep job drives.
type Refresher interface {
	RefreshStaleHistories(ctx context.Context, input ops.RefreshStaleInput) (*ops.RefreshStaleOutput, error)
}

// SweepJobName is the name of the stale history sweep.
const SweepJobName = "history_sweep"

// SweepJob refreshes stale histories with the configured limits.
func SweepJob(r Refresher, cfg config.SweepConfig, logger *zap.Logger) Job {
	logger = logging.OrNop(logger)
	return func(ctx context.Context) error {
		out, err := r.RefreshStaleHistories(ctx, ops.RefreshStaleInput{
			Limit:             cfg.Limit,
			StaleAfterMinutes: cfg.StaleAfterMinutes,
			Concurrency:       cfg.Concurrency,
		})
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			logger.Warn("history sweep had failures",
				zap.Int("failed", len(out.Failed)), zap.Int("refreshed", len(out.Refreshed)))
		}
		return nil
	}
}

// AddSweep schedules the stale history sweep. An empty schedule disables it.
func (s *Scheduler) AddSweep(r Refresher, cfg config.SweepConfig) (bool, error) {
	if cfg.Schedule == "" {
		return false, nil
	}
	if err := s.AddJob(SweepJobName, cfg.Schedule, SweepJob(r, cfg, s.logger)); err != nil {
		return false, err
	}
	return true, nil
}
