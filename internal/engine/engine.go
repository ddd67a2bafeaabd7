// Package engine is the entry point to the progression engine. Every
// inbound operation of the platform goes through an Engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/achievement"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/internal/scheduler"
	"github.com/example/inkquest/internal/submission"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// Config collects the settings of every component
type Config struct {
	Pool             taskpool.Config
	Submission       submission.Config
	Scheduler        scheduler.Config
	SchedulerEnabled bool
}

// Options are the replaceable collaborators of an engine
type Options struct {
	Source taskpool.TaskSource // nil disables generated tasks
	Scorer submission.Scorer   // nil scores everything with the fallback
	Now    func() time.Time    // defaults to time.Now in the scheduler location
	Rand   *rand.Rand
}

// Engine wires the components together
type Engine struct {
	db  *sqlx.DB
	cfg Config
	log *logger.Logger

	ledger       *progression.Ledger
	streak       *progression.StreakTracker
	achievements *achievement.Engine
	pool         *taskpool.Generator
	challenges   *taskpool.Challenges
	machine      *submission.Machine
	scheduler    *scheduler.Scheduler
}

// New builds an engine on a migrated and seeded database
func New(ctx context.Context, db *sqlx.DB, cfg Config, opts Options, log *logger.Logger) (*Engine, error) {
	levels, err := progression.LoadLevelTable(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to load level table: %w", err)
	}
	now := opts.Now
	if now == nil {
		loc := cfg.Scheduler.Location
		if loc == nil {
			loc = time.Local
		}
		now = func() time.Time { return time.Now().In(loc) }
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{db: db, cfg: cfg, log: log}
	e.ledger = progression.NewLedger(db, levels, log.With("component", "ledger"), now, rand.New(rand.NewSource(rng.Int63())))
	e.streak = progression.NewStreakTracker(db, e.ledger, log.With("component", "streak"))
	e.achievements = achievement.NewEngine(db, e.ledger, log.With("component", "achievements"))
	e.pool = taskpool.NewGenerator(db, opts.Source, cfg.Pool, log.With("component", "taskpool"), now)
	e.challenges = taskpool.NewChallenges(db, e.ledger, log.With("component", "challenges"), rand.New(rand.NewSource(rng.Int63())))
	e.machine = submission.NewMachine(db, submission.Deps{
		Ledger:       e.ledger,
		Streak:       e.streak,
		Achievements: e.achievements,
		Challenges:   e.challenges,
		Scorer:       opts.Scorer,
	}, cfg.Submission, log.With("component", "submission"))
	e.scheduler = scheduler.New(e.pool, e.challenges, cfg.Scheduler, log.With("component", "scheduler"))
	return e, nil
}

// StartScheduler starts the background jobs when they are enabled
func (e *Engine) StartScheduler(ctx context.Context) error {
	if !e.cfg.SchedulerEnabled {
		e.log.Info("scheduler disabled")
		return nil
	}
	return e.scheduler.Start(ctx)
}

// Stop stops the background jobs
func (e *Engine) Stop() {
	if e.cfg.SchedulerEnabled {
		e.scheduler.Stop()
	}
}

// GetProfile returns the profile with level progress
func (e *Engine) GetProfile(ctx context.Context) (*progression.ProfileView, error) {
	return e.ledger.Profile(ctx)
}

// Grant awards XP from any source
func (e *Engine) Grant(ctx context.Context, req progression.GrantRequest) (*progression.GrantResult, error) {
	return e.ledger.Grant(ctx, req)
}

// CheckUnlocks evaluates the achievement catalog for an event
func (e *Engine) CheckUnlocks(ctx context.Context, trigger achievement.Trigger, data achievement.Context) ([]achievement.Unlocked, error) {
	return e.achievements.CheckUnlocks(ctx, trigger, data)
}

// GetTodayTasks returns today's pool, generating the preset tasks first
// when the daily job has not run yet
func (e *Engine) GetTodayTasks(ctx context.Context, tier models.Tier) ([]taskpool.TaskView, error) {
	if _, err := e.pool.EnsurePreset(ctx, e.pool.Today()); err != nil && !errors.Is(err, taskpool.ErrEmptyCatalog) {
		return nil, err
	}
	return e.pool.TodayTasks(ctx, tier)
}

// Start opens or resumes the attempt at a task
func (e *Engine) Start(ctx context.Context, taskID int64) (*submission.StartResult, error) {
	return e.machine.Start(ctx, taskID)
}

// SaveDraft stores work in progress
func (e *Engine) SaveDraft(ctx context.Context, recordID int64, content string, timeSpent int) (*models.TaskRecord, error) {
	return e.machine.SaveDraft(ctx, recordID, content, timeSpent)
}

// Submit finishes an attempt and pays it out
func (e *Engine) Submit(ctx context.Context, recordID int64, content string, timeSpent int) (*submission.SubmitResult, error) {
	return e.machine.Submit(ctx, recordID, content, timeSpent)
}

// GetDailyChallenge returns today's challenge
func (e *Engine) GetDailyChallenge(ctx context.Context) (*models.DailyChallenge, error) {
	return e.challenges.Daily(ctx)
}

// GetWeeklyChallenge returns this week's challenge, nil when there is no
// epic template to build one from
func (e *Engine) GetWeeklyChallenge(ctx context.Context) (*models.WeeklyChallenge, error) {
	return e.challenges.Weekly(ctx)
}

// ManualOptions selects what ManualGenerate produces
type ManualOptions struct {
	Preset         bool
	Generated      bool
	GeneratedCount int           // per tier, defaults to the augmentation batch size
	Tiers          []models.Tier // generated tiers, defaults to micro and short
	Challenge      bool
}

// ManualResult reports a manual generation
type ManualResult struct {
	Preset    *taskpool.PresetResult  `json:"preset,omitempty"`
	Generated []*taskpool.BatchResult `json:"generated,omitempty"`
	Daily     *models.DailyChallenge  `json:"daily,omitempty"`
	Weekly    *models.WeeklyChallenge `json:"weekly,omitempty"`
}

// ManualGenerate runs the pool jobs on demand. Each part is idempotent, so
// it is safe to call while the scheduler runs.
func (e *Engine) ManualGenerate(ctx context.Context, opts ManualOptions) (*ManualResult, error) {
	res := &ManualResult{}
	if opts.Preset {
		preset, err := e.pool.EnsurePreset(ctx, e.pool.Today())
		if err != nil {
			return nil, err
		}
		res.Preset = preset
	}
	if opts.Generated {
		tiers := opts.Tiers
		if len(tiers) == 0 {
			tiers = []models.Tier{models.TierMicro, models.TierShort}
		}
		for _, tier := range tiers {
			count := opts.GeneratedCount
			if count <= 0 {
				count = e.cfg.Pool.MicroBatch
				if tier == models.TierShort {
					count = e.cfg.Pool.ShortBatch
				}
			}
			batch, err := e.pool.GenerateForTier(ctx, tier, count)
			if err != nil {
				return nil, err
			}
			res.Generated = append(res.Generated, batch)
		}
	}
	if opts.Challenge {
		daily, err := e.challenges.Daily(ctx)
		if err != nil {
			return nil, err
		}
		weekly, err := e.challenges.Weekly(ctx)
		if err != nil {
			return nil, err
		}
		res.Daily, res.Weekly = daily, weekly
	}
	return res, nil
}

// SchedulerStatus joins the job history with today's pool
type SchedulerStatus struct {
	Enabled   bool             `json:"enabled"`
	Scheduler scheduler.Status `json:"scheduler"`
	Pool      *taskpool.Status `json:"pool"`
}

// GetSchedulerStatus reports the background jobs and today's pool
func (e *Engine) GetSchedulerStatus(ctx context.Context) (*SchedulerStatus, error) {
	pool, err := e.pool.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &SchedulerStatus{
		Enabled:   e.cfg.SchedulerEnabled,
		Scheduler: e.scheduler.Status(),
		Pool:      pool,
	}, nil
}

// Achievements returns the catalog with unlock state
func (e *Engine) Achievements(ctx context.Context) ([]models.AchievementState, error) {
	return e.achievements.List(ctx)
}

// AchievementStats returns unlock counts
func (e *Engine) AchievementStats(ctx context.Context) (*achievement.Stats, error) {
	return e.achievements.Stats(ctx)
}

// NextAchievements returns the locked achievements closest to completion
func (e *Engine) NextAchievements(ctx context.Context, limit int) ([]achievement.Pending, error) {
	return e.achievements.Next(ctx, limit)
}

// XPHistory returns a page of the XP ledger
func (e *Engine) XPHistory(ctx context.Context, limit, offset int) (*progression.History, error) {
	return e.ledger.History(ctx, limit, offset)
}

// TodayXP returns today's XP by source
func (e *Engine) TodayXP(ctx context.Context) (*progression.DayStats, error) {
	return e.ledger.TodayStats(ctx)
}

// Levels returns the level table
func (e *Engine) Levels() []models.Level {
	return e.ledger.Levels().All()
}
