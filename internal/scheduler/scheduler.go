package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// Job tags
const (
	TagDaily   = "daily"
	TagCleanup = "cleanup"
	TagAugment = "augment"
)

// Pool is the task pool the jobs maintain
type Pool interface {
	Today() string
	EnsurePreset(ctx context.Context, date string) (*taskpool.PresetResult, error)
	Augment(ctx context.Context) (*taskpool.AugmentResult, error)
	Cleanup(ctx context.Context) (int64, error)
}

// Challenges creates the daily and weekly challenges
type Challenges interface {
	Daily(ctx context.Context) (*models.DailyChallenge, error)
	Weekly(ctx context.Context) (*models.WeeklyChallenge, error)
}

// Config holds the job timings
type Config struct {
	Location        *time.Location
	DailyAt         string // HH:MM
	CleanupAt       string // HH:MM
	AugmentInterval time.Duration
	JobTimeout      time.Duration
}

// Run is one execution of a job
type Run struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// JobStatus summarizes the runs of one job
type JobStatus struct {
	Tag      string     `json:"tag"`
	LastRun  *Run       `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	Runs     int        `json:"runs"`
	Failures int        `json:"failures"`
}

// Status is the scheduler state
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler  *gocron.Scheduler
	pool       Pool
	challenges Challenges
	cfg        Config
	log        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	stats map[string]*JobStatus
}

// New creates a new scheduler instance
func New(pool Pool, challenges Challenges, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.DailyAt == "" {
		cfg.DailyAt = "00:01"
	}
	if cfg.CleanupAt == "" {
		cfg.CleanupAt = "00:00"
	}
	if cfg.AugmentInterval <= 0 {
		cfg.AugmentInterval = 5 * time.Minute
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	s := gocron.NewScheduler(cfg.Location)
	s.SingletonModeAll()

	stats := map[string]*JobStatus{}
	for _, tag := range []string{TagDaily, TagCleanup, TagAugment} {
		stats[tag] = &JobStatus{Tag: tag}
	}
	return &Scheduler{
		scheduler:  s,
		pool:       pool,
		challenges: challenges,
		cfg:        cfg,
		log:        log,
		stats:      stats,
	}
}

// Start registers the jobs, starts them in the background and runs the
// daily job once right away
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.scheduler.Every(1).Day().At(s.cfg.DailyAt).Tag(TagDaily).Do(func() {
		s.run(s.ctx, TagDaily, s.daily)
	}); err != nil {
		return fmt.Errorf("failed to schedule daily job: %w", err)
	}
	if _, err := s.scheduler.Every(1).Day().At(s.cfg.CleanupAt).Tag(TagCleanup).Do(func() {
		s.run(s.ctx, TagCleanup, s.cleanup)
	}); err != nil {
		return fmt.Errorf("failed to schedule cleanup job: %w", err)
	}
	if _, err := s.scheduler.Every(s.cfg.AugmentInterval).WaitForSchedule().Tag(TagAugment).Do(func() {
		s.run(s.ctx, TagAugment, s.augment)
	}); err != nil {
		return fmt.Errorf("failed to schedule augment job: %w", err)
	}

	s.scheduler.StartAsync()
	if err := s.scheduler.RunByTag(TagDaily); err != nil {
		return fmt.Errorf("failed to run daily job: %w", err)
	}
	s.log.Info("scheduler started", "daily_at", s.cfg.DailyAt, "cleanup_at", s.cfg.CleanupAt,
		"augment_every", s.cfg.AugmentInterval.String(), "timezone", s.cfg.Location.String())
	return nil
}

// Stop terminates all scheduled tasks and cancels running ones
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.scheduler.Stop()
	s.log.Info("scheduler stopped")
}

// RunDaily generates today's preset tasks and challenges
func (s *Scheduler) RunDaily(ctx context.Context) error {
	return s.run(ctx, TagDaily, s.daily)
}

// RunAugment adds generated tasks to today's pool
func (s *Scheduler) RunAugment(ctx context.Context) error {
	return s.run(ctx, TagAugment, s.augment)
}

// RunCleanup removes old uncompleted tasks
func (s *Scheduler) RunCleanup(ctx context.Context) error {
	return s.run(ctx, TagCleanup, s.cleanup)
}

// run executes a job with its own deadline and records the outcome.
// Failures are logged, never propagated to gocron.
func (s *Scheduler) run(parent context.Context, tag string, job func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := &Run{ID: uuid.NewString(), StartedAt: time.Now()}
	s.log.Debug("job started", "job", tag, "run_id", run.ID)
	err := job(ctx)
	run.Duration = time.Since(run.StartedAt)

	s.mu.Lock()
	st := s.stats[tag]
	st.Runs++
	if err != nil {
		st.Failures++
		run.Error = err.Error()
	}
	st.LastRun = run
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", "job", tag, "run_id", run.ID, "error", err)
	} else {
		s.log.Info("job finished", "job", tag, "run_id", run.ID, "duration", run.Duration.String())
	}
	return err
}

func (s *Scheduler) daily(ctx context.Context) error {
	var errs []error
	date := s.pool.Today()
	res, err := s.pool.EnsurePreset(ctx, date)
	switch {
	case errors.Is(err, taskpool.ErrEmptyCatalog):
		s.log.Warn("no active templates, preset tasks skipped", "date", date)
	case err != nil:
		errs = append(errs, fmt.Errorf("preset tasks: %w", err))
	case !res.Existing:
		s.log.Info("daily pool ready", "date", date, "micro", res.Micro, "short", res.Short)
	}
	if _, err := s.challenges.Daily(ctx); err != nil {
		errs = append(errs, fmt.Errorf("daily challenge: %w", err))
	}
	if _, err := s.challenges.Weekly(ctx); err != nil {
		errs = append(errs, fmt.Errorf("weekly challenge: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Scheduler) augment(ctx context.Context) error {
	res, err := s.pool.Augment(ctx)
	if err != nil {
		return err
	}
	if res.Skipped != "" {
		s.log.Debug("augmentation skipped", "reason", res.Skipped)
	}
	return nil
}

func (s *Scheduler) cleanup(ctx context.Context) error {
	_, err := s.pool.Cleanup(ctx)
	return err
}

// Status returns the run history of every job
func (s *Scheduler) Status() Status {
	st := Status{Running: s.scheduler.IsRunning()}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range []string{TagDaily, TagAugment, TagCleanup} {
		job := *s.stats[tag]
		if job.LastRun != nil {
			last := *job.LastRun
			job.LastRun = &last
		}
		if st.Running {
			if jobs, err := s.scheduler.FindJobsByTag(tag); err == nil && len(jobs) > 0 {
				next := jobs[0].NextRun()
				job.NextRun = &next
			}
		}
		st.Jobs = append(st.Jobs, job)
	}
	return st
}
