package achievement

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/database/dbtest"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

func newTestEngine(t *testing.T) (*sqlx.DB, *Engine, *progression.Ledger) {
	t.Helper()
	db := dbtest.Open(t, true)
	levels, err := progression.LoadLevelTable(context.Background(), db)
	require.NoError(t, err)
	clock := dbtest.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	ledger := progression.NewLedger(db, levels, logger.Nop(), clock.Now, rand.New(rand.NewSource(7)))
	return db, NewEngine(db, ledger, logger.Nop()), ledger
}

// completeRecord stores a completed record of the given tier and score
func completeRecord(t *testing.T, db *sqlx.DB, tier models.Tier, score int) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	task := &models.DailyTask{
		TaskDate: "2024-05-01", Tier: tier, Title: "t", Description: "d", AttrType: models.AttrScene,
		XPReward: 10, AttrReward: 1, Difficulty: "easy", Source: models.SourcePreset, ContentHash: "h", CreatedAt: now,
	}
	require.NoError(t, database.NewDailyTaskRepository(db).Create(ctx, task))
	records := database.NewTaskRecordRepository(db)
	rec := &models.TaskRecord{TaskID: task.ID, Tier: tier, Status: models.StatusDraft, CreatedAt: now}
	require.NoError(t, records.Create(ctx, rec))
	done, markErr := records.MarkCompleted(ctx, rec.ID, score, "{}", now)
	require.NoError(t, markErr)
	require.True(t, done)
}

func codes(unlocked []Unlocked) []string {
	out := make([]string, 0, len(unlocked))
	for _, u := range unlocked {
		out = append(out, u.Code)
	}
	return out
}

func TestCatalogRequirementsParse(t *testing.T) {
	for _, a := range database.Achievements() {
		req, err := ParseRequirement(a.RequirementType)
		require.NoError(t, err, a.Code)
		assert.NotEmpty(t, req.Triggers(), a.Code)
	}
	_, err := ParseRequirement("attr_charisma")
	assert.Error(t, err)
	_, err = ParseRequirement("login_days")
	assert.Error(t, err)
}

func TestCheckUnlocksRespectsTrigger(t *testing.T) {
	ctx := context.Background()
	db, engine, ledger := newTestEngine(t)
	completeRecord(t, db, models.TierMicro, 70)

	unlocked, err := engine.CheckUnlocks(ctx, TriggerStreakUpdate, Context{})
	require.NoError(t, err)
	assert.NotContains(t, codes(unlocked), "tasks_1")

	unlocked, err = engine.CheckUnlocks(ctx, TriggerTaskComplete, Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks_1"}, codes(unlocked))
	assert.Equal(t, int64(10), unlocked[0].XPAwarded)

	view, err := ledger.Profile(ctx)
	require.NoError(t, err)
	sum, err := database.NewXPTransactionRepository(db).Sum(ctx)
	require.NoError(t, err)
	assert.Equal(t, sum, view.TotalXP)
	assert.Equal(t, 1, view.AchievementsUnlocked)
}

func TestCheckUnlocksNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	db, engine, _ := newTestEngine(t)
	completeRecord(t, db, models.TierMicro, 70)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CheckUnlocks(ctx, TriggerTaskComplete, Context{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var unlocks, grants int
	require.NoError(t, db.Get(&unlocks, "SELECT COUNT(*) FROM achievement_unlocks"))
	require.NoError(t, db.Get(&grants, "SELECT COUNT(*) FROM xp_transactions WHERE source_type = 'achievement_unlock'"))
	assert.Equal(t, 1, unlocks)
	assert.Equal(t, 1, grants)

	again, err := engine.CheckUnlocks(ctx, TriggerTaskComplete, Context{})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestScoreRules(t *testing.T) {
	ctx := context.Background()
	db, engine, _ := newTestEngine(t)
	for i := 0; i < 5; i++ {
		completeRecord(t, db, models.TierShort, 85)
	}

	score := 90
	unlocked, err := engine.CheckUnlocks(ctx, TriggerScoreReceived, Context{Score: &score, Tier: models.TierShort})
	require.NoError(t, err)
	got := codes(unlocked)
	assert.Contains(t, got, "score_80")
	assert.Contains(t, got, "score_85")
	assert.Contains(t, got, "score_90")
	assert.NotContains(t, got, "score_95")
	assert.Contains(t, got, "score_streak_5")
	assert.NotContains(t, got, "grade_s_1")

	completeRecord(t, db, models.TierMicro, 97)
	score = 97
	unlocked, err = engine.CheckUnlocks(ctx, TriggerScoreReceived, Context{Score: &score})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"score_95", "grade_s_1"}, codes(unlocked))
}

func TestScoreStreakBrokenByLowScore(t *testing.T) {
	ctx := context.Background()
	db, engine, _ := newTestEngine(t)
	for i := 0; i < 4; i++ {
		completeRecord(t, db, models.TierMicro, 90)
	}
	completeRecord(t, db, models.TierMicro, 60)

	unlocked, err := engine.CheckUnlocks(ctx, TriggerScoreReceived, Context{})
	require.NoError(t, err)
	assert.NotContains(t, codes(unlocked), "score_streak_5")
}

func TestAttributeRules(t *testing.T) {
	ctx := context.Background()
	db, engine, ledger := newTestEngine(t)
	_, err := ledger.Profile(ctx)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE profile SET attr_character = 50, attr_conflict = 50, attr_scene = 50,
		attr_dialogue = 50, attr_rhythm = 50, attr_style = 49`)
	require.NoError(t, err)

	unlocked, err := engine.CheckUnlocks(ctx, TriggerAttrUpdate, Context{})
	require.NoError(t, err)
	got := codes(unlocked)
	assert.Contains(t, got, "attr_character_50")
	assert.Contains(t, got, "attr_style_40")
	assert.NotContains(t, got, "attr_style_50")
	assert.NotContains(t, got, "all_attr_50")

	_, err = db.Exec("UPDATE profile SET attr_style = 50")
	require.NoError(t, err)
	unlocked, err = engine.CheckUnlocks(ctx, TriggerAttrUpdate, Context{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"attr_style_50", "all_attr_50"}, codes(unlocked))
}

func TestStatsAndNext(t *testing.T) {
	ctx := context.Background()
	db, engine, _ := newTestEngine(t)
	completeRecord(t, db, models.TierMicro, 0)
	_, err := engine.CheckUnlocks(ctx, TriggerTaskComplete, Context{})
	require.NoError(t, err)

	stats, err := engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(database.Achievements()), stats.Total)
	assert.Equal(t, 1, stats.Unlocked)
	assert.Equal(t, 1, stats.Categories["tasks"].Unlocked)

	next, err := engine.Next(ctx, 3)
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, "tasks_2", next[0].Code)
	assert.Equal(t, int64(1), next[0].Current)
	assert.Equal(t, 50, next[0].Percent)
}
