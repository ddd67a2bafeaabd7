package submission

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/achievement"
	"github.com/example/inkquest/internal/ai"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/database/dbtest"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

type fakeScorer struct {
	score int
	err   error
	calls int
}

func (f *fakeScorer) EvaluateWithFallback(_ context.Context, req ai.EvaluationRequest, fallback int) ai.Evaluation {
	f.calls++
	if f.err != nil {
		return ai.Evaluation{Score: fallback, Fallback: true, Err: f.err}
	}
	return ai.Evaluation{Score: f.score, Overall: "ok", Highlights: []string{req.Task.Title}}
}

// gatedScorer holds every call until release is closed
type gatedScorer struct {
	mu      sync.Mutex
	calls   int
	score   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedScorer) EvaluateWithFallback(_ context.Context, _ ai.EvaluationRequest, _ int) ai.Evaluation {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.entered <- struct{}{}
	<-g.release
	return ai.Evaluation{Score: g.score, Overall: "gated"}
}

func (g *gatedScorer) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type machineFixture struct {
	db      *sqlx.DB
	clock   *dbtest.Clock
	ledger  *progression.Ledger
	scorer  *fakeScorer
	machine *Machine
	pool    *taskpool.Generator
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t, true)
	levels, err := progression.LoadLevelTable(ctx, db)
	require.NoError(t, err)
	clock := dbtest.NewClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	log := logger.Nop()

	ledger := progression.NewLedger(db, levels, log, clock.Now, rand.New(rand.NewSource(1)))
	scorer := &fakeScorer{score: 88}
	deps := Deps{
		Ledger:       ledger,
		Streak:       progression.NewStreakTracker(db, ledger, log),
		Achievements: achievement.NewEngine(db, ledger, log),
		Challenges:   taskpool.NewChallenges(db, ledger, log, rand.New(rand.NewSource(2))),
		Scorer:       scorer,
	}
	pool := taskpool.NewGenerator(db, nil, taskpool.DefaultConfig(), log, clock.Now)
	_, err = pool.EnsurePreset(ctx, pool.Today())
	require.NoError(t, err)

	return &machineFixture{
		db:      db,
		clock:   clock,
		ledger:  ledger,
		scorer:  scorer,
		machine: NewMachine(db, deps, Config{FallbackScore: 70}, log),
		pool:    pool,
	}
}

func (f *machineFixture) task(t *testing.T, tier models.Tier) models.DailyTask {
	t.Helper()
	tasks, err := f.pool.TodayTasks(context.Background(), tier)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	return tasks[0].DailyTask
}

func (f *machineFixture) assertLedgerInSync(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	sum, err := database.NewXPTransactionRepository(f.db).Sum(ctx)
	require.NoError(t, err)
	view, err := f.ledger.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, view.TotalXP)
}

func TestCountWords(t *testing.T) {
	cases := map[string]int{
		"":                                0,
		"   ":                             0,
		"The rain fell.":                  3,
		"don't stop, well-known 42 times": 5,
		"雨が降った":                           5,
		"我爱写作 every day":                  6,
		"— ... !!":                        0,
		"e.g. this":                       3,
		"안녕하세요 세계":                        2,
	}
	for text, want := range cases {
		assert.Equal(t, want, CountWords(text), text)
	}
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	_, err := f.machine.Start(ctx, 99999)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	task := f.task(t, models.TierMicro)
	first, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, first.Record.Status)
	assert.False(t, first.Resumed)
	assert.True(t, first.Task.IsClaimed)

	again, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, again.Resumed)
	assert.Equal(t, first.Record.ID, again.Record.ID)
}

func TestSaveDraft(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	_, err := f.machine.SaveDraft(ctx, 12345, "x", 0)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	started, err := f.machine.Start(ctx, f.task(t, models.TierMicro).ID)
	require.NoError(t, err)
	rec, err := f.machine.SaveDraft(ctx, started.Record.ID, "The first two lines", 90)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.WordCount)
	assert.Equal(t, 90, rec.TimeSpent)
	assert.Equal(t, models.StatusDraft, rec.Status)

	_, err = f.machine.Submit(ctx, rec.ID, "The final text", 120)
	require.NoError(t, err)
	_, err = f.machine.SaveDraft(ctx, rec.ID, "late edit", 130)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSubmitRunsFullCascade(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	task := f.task(t, models.TierMicro)

	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	res, err := f.machine.Submit(ctx, started.Record.ID, "Rain hammered the tin roof all night long.", 300)
	require.NoError(t, err)
	assert.Empty(t, res.FailedSteps)

	assert.Equal(t, models.StatusCompleted, res.Record.Status)
	require.NotNil(t, res.Record.Score)
	assert.Equal(t, 88, *res.Record.Score)
	assert.Equal(t, 8, res.Record.WordCount)
	assert.NotNil(t, res.Record.SubmittedAt)
	assert.NotNil(t, res.Record.CompletedAt)
	assert.False(t, res.Evaluation.Fallback)

	require.NotNil(t, res.Grant)
	assert.Equal(t, int64(10), res.Grant.XPAwarded)
	assert.Equal(t, int64(10), res.Record.XPEarned)
	assert.Equal(t, task.AttrReward, res.Record.AttrEarned)
	require.NotNil(t, res.Record.AttrType)
	assert.Equal(t, string(task.AttrType), *res.Record.AttrType)

	require.NotNil(t, res.Streak)
	assert.Equal(t, 1, res.Streak.StreakDays)
	assert.True(t, res.Task.IsCompleted)
	assert.NotNil(t, res.Challenges)

	var codes []string
	for _, u := range res.Unlocked {
		codes = append(codes, u.Code)
	}
	assert.Contains(t, codes, "tasks_1")
	assert.Contains(t, codes, "score_80")
	assert.Contains(t, codes, "score_85")

	view := res.Profile
	require.NotNil(t, view)
	assert.Equal(t, 1, view.TotalPractices)
	assert.Equal(t, int64(8), view.TotalWords)
	assert.Equal(t, task.AttrReward, view.Attributes[task.AttrType])
	f.assertLedgerInSync(t)
}

func TestSubmitFallsBackWhenScorerFails(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.scorer.err = errors.New("scorer timed out")
	task := f.task(t, models.TierShort)

	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	res, err := f.machine.Submit(ctx, started.Record.ID, "A short story that the scorer never sees.", 900)
	require.NoError(t, err)

	assert.True(t, res.Evaluation.Fallback)
	assert.Equal(t, models.StatusCompleted, res.Record.Status)
	assert.Equal(t, 70, *res.Record.Score)
	require.NotNil(t, res.Grant)
	assert.Equal(t, int64(30), res.Grant.XPAwarded)
	assert.True(t, res.Task.IsCompleted)
	assert.Empty(t, res.FailedSteps)

	for _, u := range res.Unlocked {
		assert.NotEqual(t, "score_above", u.RequirementType, u.Code)
	}
	f.assertLedgerInSync(t)
}

func TestSubmitWithoutScorerUsesFallback(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	f.machine.deps.Scorer = ai.New(ai.Config{})

	started, err := f.machine.Start(ctx, f.task(t, models.TierMicro).ID)
	require.NoError(t, err)
	res, err := f.machine.Submit(ctx, started.Record.ID, "text", 10)
	require.NoError(t, err)
	assert.True(t, res.Evaluation.Fallback)
	assert.Equal(t, 70, *res.Record.Score)
}

func TestResubmitGrantsNothingTwice(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	task := f.task(t, models.TierMicro)

	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	first, err := f.machine.Submit(ctx, started.Record.ID, "one two three", 60)
	require.NoError(t, err)

	second, err := f.machine.Submit(ctx, started.Record.ID, "ignored", 60)
	require.NoError(t, err)
	assert.Equal(t, 1, f.scorer.calls)
	assert.True(t, second.Grant.AlreadyGranted)
	assert.Empty(t, second.Unlocked)
	assert.Equal(t, first.Profile.TotalXP, second.Profile.TotalXP)
	assert.Equal(t, "one two three", second.Record.Content)
	assert.Equal(t, 88, second.Evaluation.Score)

	var grants int
	require.NoError(t, f.db.Get(&grants, "SELECT COUNT(*) FROM xp_transactions WHERE source_type = 'micro_complete'"))
	assert.Equal(t, 1, grants)

	restarted, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, restarted.Completed)
	assert.Equal(t, started.Record.ID, restarted.Record.ID)
	f.assertLedgerInSync(t)
}

func TestSecondCompletedRecordIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	task := f.task(t, models.TierMicro)

	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	_, err = f.machine.Submit(ctx, started.Record.ID, "done", 60)
	require.NoError(t, err)

	stray := &models.TaskRecord{TaskID: task.ID, Tier: models.TierMicro, Status: models.StatusDraft, CreatedAt: f.clock.Now()}
	require.NoError(t, database.NewTaskRecordRepository(f.db).Create(ctx, stray))
	_, err = f.machine.Submit(ctx, stray.ID, "again", 60)
	assert.ErrorIs(t, err, ErrInvalidState)

	var completed int
	require.NoError(t, f.db.Get(&completed, "SELECT COUNT(*) FROM task_records WHERE task_id = $1 AND status = 'completed'", task.ID))
	assert.Equal(t, 1, completed)
}

func TestConcurrentSubmitScoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	gate := &gatedScorer{score: 80, entered: make(chan struct{}, 2), release: make(chan struct{})}
	f.machine.deps.Scorer = gate
	task := f.task(t, models.TierMicro)
	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	id := started.Record.ID

	type outcome struct {
		res *SubmitResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.machine.Submit(ctx, id, "the first text", 60)
		first <- outcome{res, err}
	}()
	<-gate.entered

	_, err = f.machine.Submit(ctx, id, "the second text", 61)
	assert.ErrorIs(t, err, ErrInProgress)

	close(gate.release)
	out := <-first
	require.NoError(t, out.err)
	assert.Equal(t, 80, out.res.Evaluation.Score)

	again, err := f.machine.Submit(ctx, id, "a third text", 70)
	require.NoError(t, err)
	assert.Equal(t, 80, again.Evaluation.Score)
	assert.Equal(t, 1, gate.callCount())

	stored, err := database.NewTaskRecordRepository(f.db).Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Score)
	assert.Equal(t, 80, *stored.Score)
	assert.Equal(t, "the first text", stored.Content)

	var grants int
	require.NoError(t, f.db.Get(&grants, "SELECT COUNT(*) FROM xp_transactions WHERE source_type = 'micro_complete'"))
	assert.Equal(t, 1, grants)
	f.assertLedgerInSync(t)
}

func TestStaleSubmissionIsTakenOver(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)
	task := f.task(t, models.TierMicro)
	started, err := f.machine.Start(ctx, task.ID)
	require.NoError(t, err)
	id := started.Record.ID

	now := f.clock.Now()
	claimed, err := database.NewTaskRecordRepository(f.db).MarkSubmitted(ctx, id, "abandoned", 1, 30, now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.machine.Submit(ctx, id, "retry", 40)
	assert.ErrorIs(t, err, ErrInProgress)
	assert.Zero(t, f.scorer.calls)

	f.clock.Set(now.Add(3 * time.Minute))
	res, err := f.machine.Submit(ctx, id, "retry after a while", 40)
	require.NoError(t, err)
	assert.Equal(t, 88, res.Evaluation.Score)
	assert.Equal(t, models.StatusCompleted, res.Record.Status)
	assert.Equal(t, 1, f.scorer.calls)
}

func TestStreakCarriesAcrossDays(t *testing.T) {
	ctx := context.Background()
	f := newMachineFixture(t)

	submit := func() *SubmitResult {
		_, err := f.pool.EnsurePreset(ctx, f.pool.Today())
		require.NoError(t, err)
		started, err := f.machine.Start(ctx, f.task(t, models.TierMicro).ID)
		require.NoError(t, err)
		res, err := f.machine.Submit(ctx, started.Record.ID, "daily words", 60)
		require.NoError(t, err)
		return res
	}

	assert.Equal(t, 1, submit().Streak.StreakDays)
	f.clock.AddDays(1)
	res := submit()
	assert.Equal(t, 2, res.Streak.StreakDays)
	assert.Equal(t, int64(5), res.Streak.BonusXP)
	f.clock.AddDays(2)
	res = submit()
	assert.True(t, res.Streak.Broken)
	assert.Equal(t, 1, res.Streak.StreakDays)
	f.assertLedgerInSync(t)
}
