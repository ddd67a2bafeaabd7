package cli

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/ai"
	"github.com/example/inkquest/internal/config"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/engine"
	"github.com/example/inkquest/internal/scheduler"
	"github.com/example/inkquest/internal/submission"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
)

// app is everything a command needs, opened from the configuration
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *sqlx.DB
	client *ai.ChatGPT
	engine *engine.Engine
	now    func() time.Time
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	a.log.Sync()
}

// openApp loads the configuration, migrates and seeds the database and
// builds the engine. One-shot commands pass background=false so the
// scheduler never starts.
func openApp(ctx context.Context, envFile string, background bool) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.now = func() time.Time { return time.Now().In(loc) }

	a.db, err = database.Connect(ctx, database.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := database.SeedCatalog(ctx, a.db, a.now()); err != nil {
		a.Close()
		return nil, err
	}

	a.client = ai.New(ai.Config{
		APIKey:  cfg.OpenAIKey,
		APIURL:  cfg.OpenAIURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.AITimeout,
	})

	a.engine, err = engine.New(ctx, a.db, engine.Config{
		Pool: taskpool.Config{
			MicroPreset:       cfg.PoolMicroPreset,
			ShortPreset:       cfg.PoolShortPreset,
			MicroGeneratedCap: cfg.PoolMicroGeneratedCap,
			ShortGeneratedCap: cfg.PoolShortGeneratedCap,
			MicroBatch:        cfg.PoolMicroBatch,
			ShortBatch:        cfg.PoolShortBatch,
			DedupWindowDays:   cfg.PoolDedupWindowDays,
			RetentionDays:     cfg.PoolRetentionDays,
			RatePerMinute:     cfg.AIRatePerMinute,
			SampleSize:        taskpool.DefaultConfig().SampleSize,
		},
		Submission: submission.Config{
			FallbackScore: cfg.ScoreFallback,
			ScoreTimeout:  cfg.AITimeout,
		},
		Scheduler: scheduler.Config{
			Location:        loc,
			DailyAt:         cfg.SchedulerDailyAt,
			CleanupAt:       cfg.SchedulerCleanupAt,
			AugmentInterval: cfg.SchedulerAugmentInterval,
		},
		SchedulerEnabled: background && cfg.SchedulerEnabled,
	}, engine.Options{
		Source: a.client,
		Scorer: a.client,
		Now:    a.now,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}
