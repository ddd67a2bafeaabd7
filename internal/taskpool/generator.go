package taskpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/example/inkquest/internal/ai"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// ErrEmptyCatalog is returned when there is no active template to build tasks from
var ErrEmptyCatalog = errors.New("no active task templates")

// TaskSource produces new task prompts. Failures are reported in the
// returned Generation, never as an error.
type TaskSource interface {
	Enabled() bool
	GenerateTasksWithFallback(ctx context.Context, req ai.GenerateRequest) ai.Generation
}

// Config sizes the daily pool
type Config struct {
	MicroPreset       int
	ShortPreset       int
	MicroGeneratedCap int
	ShortGeneratedCap int
	MicroBatch        int
	ShortBatch        int
	DedupWindowDays   int
	RetentionDays     int
	RatePerMinute     int // generator calls; 0 disables the limit
	SampleSize        int // templates shown to the generator as examples
}

// DefaultConfig returns the stock pool sizes
func DefaultConfig() Config {
	return Config{
		MicroPreset:       10,
		ShortPreset:       5,
		MicroGeneratedCap: 6,
		ShortGeneratedCap: 4,
		MicroBatch:        2,
		ShortBatch:        1,
		DedupWindowDays:   7,
		RetentionDays:     30,
		RatePerMinute:     6,
		SampleSize:        3,
	}
}

// Generator maintains the per-date pool of micro and short tasks
type Generator struct {
	db      *sqlx.DB
	source  TaskSource
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
	limiter *rate.Limiter

	presets    singleflight.Group
	augmenting sync.Mutex
}

// NewGenerator creates a generator. source may be nil, in which case the
// pool only ever holds preset tasks.
func NewGenerator(db *sqlx.DB, source TaskSource, cfg Config, log *logger.Logger, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 3
	}
	return &Generator{
		db:      db,
		source:  source,
		cfg:     cfg,
		log:     log,
		now:     now,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Today returns the current calendar date
func (g *Generator) Today() string {
	return progression.DateOf(g.now())
}

// PresetResult reports a preset generation run
type PresetResult struct {
	Date     string `json:"date"`
	Micro    int    `json:"micro"`
	Short    int    `json:"short"`
	Existing bool   `json:"existing"`
}

// presetTimeout bounds a shared preset run once it is detached from its callers
const presetTimeout = 30 * time.Second

// EnsurePreset fills date with tasks sampled from the template catalog.
// A date that already has preset tasks is left untouched, and concurrent
// calls for one date share a single run. The run does not inherit the
// cancellation of whichever caller started it; a caller whose ctx ends
// stops waiting while the run goes on for the others.
func (g *Generator) EnsurePreset(ctx context.Context, date string) (*PresetResult, error) {
	ch := g.presets.DoChan(date, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presetTimeout)
		defer cancel()
		return g.ensurePreset(runCtx, date)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := *r.Val.(*PresetResult)
		return &res, nil
	}
}

func (g *Generator) ensurePreset(ctx context.Context, date string) (*PresetResult, error) {
	res := &PresetResult{Date: date}
	err := database.WithTx(ctx, g.db, func(tx *sqlx.Tx) error {
		tasks := database.NewDailyTaskRepository(tx)
		templates := database.NewTemplateRepository(tx)

		existing, err := tasks.CountPreset(ctx, date)
		if err != nil {
			return err
		}
		if existing > 0 {
			res.Existing = true
			return nil
		}
		active, err := templates.CountActive(ctx, "")
		if err != nil {
			return err
		}
		if active == 0 {
			return ErrEmptyCatalog
		}

		order, err := tasks.MaxSortOrder(ctx, date)
		if err != nil {
			return err
		}
		now := g.now()
		for _, plan := range []struct {
			tier  models.Tier
			count int
			added *int
		}{
			{models.TierMicro, g.cfg.MicroPreset, &res.Micro},
			{models.TierShort, g.cfg.ShortPreset, &res.Short},
		} {
			if plan.count <= 0 {
				continue
			}
			sample, err := templates.RandomActive(ctx, plan.tier, plan.count)
			if err != nil {
				return err
			}
			for _, tmpl := range sample {
				order++
				task := FromTemplate(tmpl, date, order, now)
				if err := tasks.Create(ctx, task); err != nil {
					return err
				}
				if err := templates.IncrementUseCount(ctx, tmpl.ID); err != nil {
					return err
				}
				*plan.added++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Existing {
		g.log.Info("preset tasks generated", "date", date, "micro", res.Micro, "short", res.Short)
	}
	return res, nil
}

// FromTemplate materializes a template as a preset task of date
func FromTemplate(t models.TaskTemplate, date string, order int, now time.Time) *models.DailyTask {
	reward := t.Tier.DefaultReward()
	xp, attr := t.XPReward, t.AttrReward
	if xp <= 0 {
		xp = reward.XP
	}
	if attr <= 0 {
		attr = reward.Attr
	}
	id := t.ID
	return &models.DailyTask{
		TaskDate:     date,
		TemplateID:   &id,
		Tier:         t.Tier,
		Title:        t.Title,
		Description:  t.Description,
		Requirements: t.Requirements,
		TimeLimit:    t.TimeLimit,
		WordLimitMin: t.WordLimitMin,
		WordLimitMax: t.WordLimitMax,
		AttrType:     t.AttrType,
		XPReward:     xp,
		AttrReward:   attr,
		Difficulty:   t.Difficulty,
		Source:       models.SourcePreset,
		ContentHash:  ContentHash(t.Description),
		SortOrder:    order,
		CreatedAt:    now,
	}
}

// BatchResult reports one generation batch
type BatchResult struct {
	Tier       models.Tier        `json:"tier"`
	Requested  int                `json:"requested"`
	Inserted   []models.DailyTask `json:"inserted"`
	Duplicates int                `json:"duplicates"`
	Error      string             `json:"error,omitempty"`
}

// AugmentResult reports one augmentation tick
type AugmentResult struct {
	Skipped string       `json:"skipped,omitempty"`
	Batch   *BatchResult `json:"batch,omitempty"`
}

// Augment adds a small batch of generated tasks to today's pool, choosing
// the tier that has fewer generated tasks and is still under its cap.
// Overlapping calls skip instead of waiting.
func (g *Generator) Augment(ctx context.Context) (*AugmentResult, error) {
	if g.source == nil || !g.source.Enabled() {
		return &AugmentResult{Skipped: "generator disabled"}, nil
	}
	if !g.augmenting.TryLock() {
		return &AugmentResult{Skipped: "augmentation in progress"}, nil
	}
	defer g.augmenting.Unlock()

	active, err := database.NewTemplateRepository(g.db).CountActive(ctx, "")
	if err != nil {
		return nil, err
	}
	if active == 0 {
		return &AugmentResult{Skipped: "empty catalog"}, nil
	}

	tier, room, err := g.nextTier(ctx)
	if err != nil {
		return nil, err
	}
	if room == 0 {
		return &AugmentResult{Skipped: "daily caps reached"}, nil
	}
	if !g.limiter.Allow() {
		return &AugmentResult{Skipped: "rate limited"}, nil
	}

	count := g.cfg.MicroBatch
	if tier == models.TierShort {
		count = g.cfg.ShortBatch
	}
	if count > room {
		count = room
	}
	batch, err := g.generate(ctx, tier, count)
	if err != nil {
		return nil, err
	}
	return &AugmentResult{Batch: batch}, nil
}

// nextTier picks the tier to augment and how many tasks it may still take
func (g *Generator) nextTier(ctx context.Context) (models.Tier, int, error) {
	tasks := database.NewDailyTaskRepository(g.db)
	today := g.Today()
	micro, err := tasks.CountGenerated(ctx, today, models.TierMicro)
	if err != nil {
		return "", 0, err
	}
	short, err := tasks.CountGenerated(ctx, today, models.TierShort)
	if err != nil {
		return "", 0, err
	}
	microRoom := g.cfg.MicroGeneratedCap - micro
	shortRoom := g.cfg.ShortGeneratedCap - short
	switch {
	case microRoom > 0 && (shortRoom <= 0 || micro <= short):
		return models.TierMicro, microRoom, nil
	case shortRoom > 0:
		return models.TierShort, shortRoom, nil
	}
	return "", 0, nil
}

// GenerateForTier asks the generator for count tasks of tier and adds the
// ones that are not duplicates to today's pool. It waits for the rate
// limiter rather than skipping.
func (g *Generator) GenerateForTier(ctx context.Context, tier models.Tier, count int) (*BatchResult, error) {
	if tier != models.TierMicro && tier != models.TierShort {
		return nil, fmt.Errorf("cannot generate %s tasks", tier)
	}
	if count <= 0 {
		return &BatchResult{Tier: tier}, nil
	}
	if g.source == nil || !g.source.Enabled() {
		return &BatchResult{Tier: tier, Requested: count, Error: ai.ErrDisabled.Error()}, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.generate(ctx, tier, count)
}

func (g *Generator) generate(ctx context.Context, tier models.Tier, count int) (*BatchResult, error) {
	res := &BatchResult{Tier: tier, Requested: count, Inserted: []models.DailyTask{}}
	samples, err := database.NewTemplateRepository(g.db).RandomActive(ctx, tier, g.cfg.SampleSize)
	if err != nil {
		return nil, err
	}

	gen := g.source.GenerateTasksWithFallback(ctx, ai.GenerateRequest{Tier: tier, Count: count, Samples: samples})
	if gen.Err != nil {
		g.log.Warn("task generation failed", "tier", tier, "error", gen.Err)
		res.Error = gen.Err.Error()
		return res, nil
	}
	if len(gen.Candidates) > count {
		gen.Candidates = gen.Candidates[:count]
	}

	now := g.now()
	today := progression.DateOf(now)
	windowStart := progression.DateOf(now.AddDate(0, 0, -g.cfg.DedupWindowDays))
	err = database.WithTx(ctx, g.db, func(tx *sqlx.Tx) error {
		tasks := database.NewDailyTaskRepository(tx)
		hashes, err := tasks.HashesSince(ctx, windowStart)
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(hashes))
		for _, h := range hashes {
			seen[h] = true
		}
		order, err := tasks.MaxSortOrder(ctx, today)
		if err != nil {
			return err
		}

		res.Inserted = res.Inserted[:0]
		res.Duplicates = 0
		for _, cand := range gen.Candidates {
			hash := ContentHash(cand.Description)
			if seen[hash] {
				res.Duplicates++
				g.log.Info("generated task discarded as duplicate", "tier", tier, "title", cand.Title, "hash", hash)
				continue
			}
			seen[hash] = true
			order++
			task := fromCandidate(cand, tier, today, order, now)
			if err := tasks.Create(ctx, task); err != nil {
				return err
			}
			res.Inserted = append(res.Inserted, *task)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Info("generated tasks added", "tier", tier, "requested", count,
		"inserted", len(res.Inserted), "duplicates", res.Duplicates)
	return res, nil
}

// tierLimits are the length bounds shown with generated tasks
var tierLimits = map[models.Tier]struct{ min, max, minutes int }{
	models.TierMicro: {0, 100, 5},
	models.TierShort: {150, 350, 20},
}

func fromCandidate(c ai.Candidate, tier models.Tier, date string, order int, now time.Time) *models.DailyTask {
	attr, err := models.ParseAttribute(strings.ToLower(strings.TrimSpace(c.AttrType)))
	if err != nil || !attr.Concrete() {
		attr = models.AttrCharacter
	}
	difficulty, err := models.ParseDifficulty(strings.ToLower(strings.TrimSpace(c.Difficulty)))
	if err != nil {
		difficulty = models.DifficultyNormal
	}
	reward := tier.DefaultReward()
	task := &models.DailyTask{
		TaskDate:    date,
		Tier:        tier,
		Title:       c.Title,
		Description: c.Description,
		AttrType:    attr,
		XPReward:    reward.XP,
		AttrReward:  reward.Attr,
		Difficulty:  string(difficulty),
		Source:      models.SourceGenerated,
		ContentHash: ContentHash(c.Description),
		SortOrder:   order,
		CreatedAt:   now,
	}
	if req := strings.TrimSpace(c.Requirements); req != "" {
		task.Requirements = &req
	}
	if limits, ok := tierLimits[tier]; ok {
		if limits.min > 0 {
			lo := limits.min
			task.WordLimitMin = &lo
		}
		hi, minutes := limits.max, limits.minutes
		task.WordLimitMax = &hi
		task.TimeLimit = &minutes
	}
	return task
}

// TaskView is a task of the pool together with its latest attempt
type TaskView struct {
	models.DailyTask
	Record    *models.TaskRecord `json:"record,omitempty"`
	Started   bool               `json:"started"`
	Completed bool               `json:"completed"`
}

// TodayTasks returns today's pool in display order; an empty tier returns
// every tier
func (g *Generator) TodayTasks(ctx context.Context, tier models.Tier) ([]TaskView, error) {
	tasks, err := database.NewDailyTaskRepository(g.db).ListForDate(ctx, g.Today(), tier)
	if err != nil {
		return nil, err
	}
	records := database.NewTaskRecordRepository(g.db)
	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		view := TaskView{DailyTask: t, Completed: t.IsCompleted}
		rec, err := records.LatestForTask(ctx, t.ID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		if rec != nil {
			view.Record = rec
			view.Started = true
			view.Completed = view.Completed || rec.Status == models.StatusCompleted
		}
		views = append(views, view)
	}
	return views, nil
}

// Status describes today's pool
type Status struct {
	Date             string               `json:"date"`
	Counts           []database.PoolCount `json:"counts"`
	Total            int                  `json:"total"`
	LastGeneratedAt  *time.Time           `json:"last_generated_at,omitempty"`
	GeneratorEnabled bool                 `json:"generator_enabled"`
}

// Status returns today's pool counts by source and tier
func (g *Generator) Status(ctx context.Context) (*Status, error) {
	tasks := database.NewDailyTaskRepository(g.db)
	today := g.Today()
	counts, err := tasks.CountBySourceTier(ctx, today)
	if err != nil {
		return nil, err
	}
	last, err := tasks.LastGeneratedAt(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Date:             today,
		Counts:           counts,
		LastGeneratedAt:  last,
		GeneratorEnabled: g.source != nil && g.source.Enabled(),
	}
	for _, c := range counts {
		st.Total += c.Count
	}
	return st, nil
}

// Cleanup deletes tasks older than the retention period that were never completed
func (g *Generator) Cleanup(ctx context.Context) (int64, error) {
	if g.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	before := progression.DateOf(g.now().AddDate(0, 0, -g.cfg.RetentionDays))
	n, err := database.NewDailyTaskRepository(g.db).DeleteStale(ctx, before)
	if err != nil {
		return 0, err
	}
	g.log.Info("old tasks cleaned up", "before", before, "deleted", n)
	return n, nil
}
