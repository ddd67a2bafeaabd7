package taskpool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/ai"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/database/dbtest"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// fakeSource returns canned candidates, or unique ones when reply is nil
type fakeSource struct {
	mu       sync.Mutex
	disabled bool
	calls    int
	reply    func(req ai.GenerateRequest) ai.Generation
}

func (f *fakeSource) Enabled() bool { return !f.disabled }

func (f *fakeSource) GenerateTasksWithFallback(_ context.Context, req ai.GenerateRequest) ai.Generation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.reply != nil {
		return f.reply(req)
	}
	gen := ai.Generation{}
	for i := 0; i < req.Count; i++ {
		gen.Candidates = append(gen.Candidates, ai.Candidate{
			Title:       fmt.Sprintf("Generated %d-%d", f.calls, i),
			Description: fmt.Sprintf("Generated %s exercise number %d of call %d.", req.Tier, i, f.calls),
			AttrType:    "dialogue",
		})
	}
	return gen
}

func candidates(descriptions ...string) func(ai.GenerateRequest) ai.Generation {
	return func(ai.GenerateRequest) ai.Generation {
		gen := ai.Generation{}
		for i, d := range descriptions {
			gen.Candidates = append(gen.Candidates, ai.Candidate{Title: fmt.Sprintf("c%d", i), Description: d})
		}
		return gen
	}
}

type poolFixture struct {
	db     *sqlx.DB
	clock  *dbtest.Clock
	source *fakeSource
	gen    *Generator
	ledger *progression.Ledger
}

func newPoolFixture(t *testing.T, seed bool, cfg Config) *poolFixture {
	t.Helper()
	db := dbtest.Open(t, seed)
	clock := dbtest.NewClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	source := &fakeSource{}
	f := &poolFixture{
		db:     db,
		clock:  clock,
		source: source,
		gen:    NewGenerator(db, source, cfg, logger.Nop(), clock.Now),
	}
	if seed {
		levels, err := progression.LoadLevelTable(context.Background(), db)
		require.NoError(t, err)
		f.ledger = progression.NewLedger(db, levels, logger.Nop(), clock.Now, rand.New(rand.NewSource(3)))
	}
	return f
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RatePerMinute = 0
	return cfg
}

func (f *poolFixture) countTasks(t *testing.T, where string, args ...interface{}) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, "SELECT COUNT(*) FROM daily_tasks WHERE "+where, args...))
	return n
}

func TestEnsurePresetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	today := f.gen.Today()

	res, err := f.gen.EnsurePreset(ctx, today)
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, 10, res.Micro)
	assert.Equal(t, 5, res.Short)

	res, err = f.gen.EnsurePreset(ctx, today)
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Zero(t, res.Micro+res.Short)

	assert.Equal(t, 15, f.countTasks(t, "task_date = $1", today))
	assert.Equal(t, 15, f.countTasks(t, "task_date = $1 AND template_id IS NOT NULL", today))

	var used int
	require.NoError(t, f.db.Get(&used, "SELECT SUM(use_count) FROM task_templates"))
	assert.Equal(t, 15, used)

	var distinct int
	require.NoError(t, f.db.Get(&distinct, "SELECT COUNT(DISTINCT template_id) FROM daily_tasks WHERE task_date = $1", today))
	assert.Equal(t, 15, distinct)
}

func TestEnsurePresetConcurrentCallsCreateOnePool(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	today := f.gen.Today()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gen.EnsurePreset(ctx, today)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 15, f.countTasks(t, "task_date = $1", today))
}

func TestEnsurePresetOutlivesCancelledCaller(t *testing.T) {
	f := newPoolFixture(t, true, testConfig())
	today := f.gen.Today()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.gen.EnsurePreset(cancelled, today)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	} else {
		assert.Equal(t, 10, res.Micro)
	}

	// the shared run was not cancelled with the first caller
	_, err = f.gen.EnsurePreset(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, 15, f.countTasks(t, "task_date = $1", today))
}

func TestEnsurePresetEmptyCatalog(t *testing.T) {
	f := newPoolFixture(t, false, testConfig())
	_, err := f.gen.EnsurePreset(context.Background(), f.gen.Today())
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestPresetIgnoresGeneratedTasks(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())

	batch, err := f.gen.GenerateForTier(ctx, models.TierMicro, 2)
	require.NoError(t, err)
	require.Len(t, batch.Inserted, 2)

	res, err := f.gen.EnsurePreset(ctx, f.gen.Today())
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, 17, f.countTasks(t, "task_date = $1", f.gen.Today()))
}

func TestGenerateDiscardsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	_, err := f.gen.EnsurePreset(ctx, f.gen.Today())
	require.NoError(t, err)

	var preset string
	require.NoError(t, f.db.Get(&preset, "SELECT description FROM daily_tasks WHERE tier = 'micro' LIMIT 1"))

	f.source.reply = candidates(preset, "Write a letter you will never send.", "write a letter  you will never SEND.")
	batch, err := f.gen.GenerateForTier(ctx, models.TierMicro, 3)
	require.NoError(t, err)
	require.Len(t, batch.Inserted, 1)
	assert.Equal(t, 2, batch.Duplicates)

	task := batch.Inserted[0]
	assert.Equal(t, models.SourceGenerated, task.Source)
	assert.Equal(t, int64(10), task.XPReward)
	assert.Equal(t, 1, task.AttrReward)
	assert.Equal(t, models.AttrCharacter, task.AttrType)
	assert.Equal(t, string(models.DifficultyNormal), task.Difficulty)
	assert.Nil(t, task.TemplateID)
}

func TestDedupWindow(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	f.source.reply = candidates("Describe a kitchen at midnight.")

	batch, err := f.gen.GenerateForTier(ctx, models.TierShort, 1)
	require.NoError(t, err)
	require.Len(t, batch.Inserted, 1)
	assert.Equal(t, int64(30), batch.Inserted[0].XPReward)
	assert.Equal(t, 2, batch.Inserted[0].AttrReward)

	f.clock.AddDays(7)
	batch, err = f.gen.GenerateForTier(ctx, models.TierShort, 1)
	require.NoError(t, err)
	assert.Empty(t, batch.Inserted)
	assert.Equal(t, 1, batch.Duplicates)

	f.clock.AddDays(1)
	batch, err = f.gen.GenerateForTier(ctx, models.TierShort, 1)
	require.NoError(t, err)
	assert.Len(t, batch.Inserted, 1)
}

func TestAugmentBalancesTiersUnderCaps(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MicroGeneratedCap, cfg.ShortGeneratedCap = 2, 1
	cfg.MicroBatch, cfg.ShortBatch = 2, 1
	f := newPoolFixture(t, true, cfg)

	res, err := f.gen.Augment(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.Equal(t, models.TierMicro, res.Batch.Tier)
	assert.Len(t, res.Batch.Inserted, 2)

	res, err = f.gen.Augment(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.Equal(t, models.TierShort, res.Batch.Tier)
	assert.Len(t, res.Batch.Inserted, 1)

	res, err = f.gen.Augment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "daily caps reached", res.Skipped)
	assert.Equal(t, 2, f.source.calls)
}

func TestAugmentSkips(t *testing.T) {
	ctx := context.Background()

	f := newPoolFixture(t, true, testConfig())
	f.source.disabled = true
	res, err := f.gen.Augment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "generator disabled", res.Skipped)

	f = newPoolFixture(t, false, testConfig())
	res, err = f.gen.Augment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty catalog", res.Skipped)
	assert.Zero(t, f.source.calls)

	cfg := DefaultConfig()
	cfg.RatePerMinute = 1
	f = newPoolFixture(t, true, cfg)
	_, err = f.gen.Augment(ctx)
	require.NoError(t, err)
	res, err = f.gen.Augment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rate limited", res.Skipped)
}

func TestAugmentGeneratorFailure(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	f.source.reply = func(ai.GenerateRequest) ai.Generation {
		return ai.Generation{Err: errors.New("upstream timeout")}
	}

	res, err := f.gen.Augment(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Batch)
	assert.Empty(t, res.Batch.Inserted)
	assert.Equal(t, "upstream timeout", res.Batch.Error)
	assert.Zero(t, f.countTasks(t, "source = 'generated'"))
}

func TestTodayTasksAndStatus(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	_, err := f.gen.EnsurePreset(ctx, f.gen.Today())
	require.NoError(t, err)

	tasks, err := f.gen.TodayTasks(ctx, models.TierShort)
	require.NoError(t, err)
	require.Len(t, tasks, 5)
	for i := 1; i < len(tasks); i++ {
		assert.Less(t, tasks[i-1].SortOrder, tasks[i].SortOrder)
	}

	rec := &models.TaskRecord{TaskID: tasks[0].ID, Tier: models.TierShort, Status: models.StatusDraft, CreatedAt: f.clock.Now()}
	require.NoError(t, database.NewTaskRecordRepository(f.db).Create(ctx, rec))

	tasks, err = f.gen.TodayTasks(ctx, "")
	require.NoError(t, err)
	require.Len(t, tasks, 15)
	var started int
	for _, v := range tasks {
		if v.Started {
			started++
			assert.Equal(t, rec.ID, v.Record.ID)
			assert.False(t, v.Completed)
		}
	}
	assert.Equal(t, 1, started)

	st, err := f.gen.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, st.Total)
	assert.Nil(t, st.LastGeneratedAt)
	assert.True(t, st.GeneratorEnabled)
}

func TestCleanupKeepsCompletedTasks(t *testing.T) {
	ctx := context.Background()
	f := newPoolFixture(t, true, testConfig())
	old := f.clock.Now().AddDate(0, 0, -40)
	oldDate := progression.DateOf(old)

	tasks := database.NewDailyTaskRepository(f.db)
	records := database.NewTaskRecordRepository(f.db)
	for i, completed := range []bool{false, true} {
		task := &models.DailyTask{
			TaskDate: oldDate, Tier: models.TierMicro, Title: "old", Description: fmt.Sprintf("old %d", i),
			AttrType: models.AttrScene, XPReward: 10, AttrReward: 1, Difficulty: "easy",
			Source: models.SourcePreset, ContentHash: ContentHash(fmt.Sprintf("old %d", i)), CreatedAt: old,
		}
		require.NoError(t, tasks.Create(ctx, task))
		rec := &models.TaskRecord{TaskID: task.ID, Tier: models.TierMicro, Status: models.StatusDraft, CreatedAt: old}
		require.NoError(t, records.Create(ctx, rec))
		if completed {
			done, markErr := records.MarkCompleted(ctx, rec.ID, 80, "{}", old)
			require.NoError(t, markErr)
			require.True(t, done)
		}
	}
	_, err := f.gen.EnsurePreset(ctx, f.gen.Today())
	require.NoError(t, err)

	n, err := f.gen.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, f.countTasks(t, "task_date = $1", oldDate))
	assert.Equal(t, 15, f.countTasks(t, "task_date = $1", f.gen.Today()))
}
