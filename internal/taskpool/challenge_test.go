package taskpool

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

func newChallenges(t *testing.T) (*poolFixture, *Challenges) {
	t.Helper()
	f := newPoolFixture(t, true, testConfig())
	return f, NewChallenges(f.db, f.ledger, logger.Nop(), rand.New(rand.NewSource(5)))
}

// complete stores a completed record for a new task of tier
func (f *poolFixture) complete(t *testing.T, tier models.Tier, words, score int) {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()
	task := &models.DailyTask{
		TaskDate: progression.DateOf(now), Tier: tier, Title: "t", Description: "d", AttrType: models.AttrScene,
		XPReward: 10, AttrReward: 1, Difficulty: "easy", Source: models.SourcePreset, ContentHash: "h", CreatedAt: now,
	}
	require.NoError(t, database.NewDailyTaskRepository(f.db).Create(ctx, task))
	records := database.NewTaskRecordRepository(f.db)
	rec := &models.TaskRecord{TaskID: task.ID, Tier: tier, Status: models.StatusDraft, CreatedAt: now}
	require.NoError(t, records.Create(ctx, rec))
	saved, saveErr := records.SaveContent(ctx, rec.ID, "text", words, 60, now)
	require.NoError(t, saveErr)
	require.True(t, saved)
	done, markErr := records.MarkCompleted(ctx, rec.ID, score, "{}", now)
	require.NoError(t, markErr)
	require.True(t, done)
}

func TestScaleTarget(t *testing.T) {
	assert.Equal(t, 3, ScaleTarget(3, 1))
	assert.Equal(t, 4, ScaleTarget(3, 2))
	assert.Equal(t, 600, ScaleTarget(500, 3))
	assert.Equal(t, 1, ScaleTarget(1, 0))
}

func TestWeekStart(t *testing.T) {
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, day := range []int{4, 6, 10} {
		got := WeekStart(time.Date(2024, 3, day, 15, 0, 0, 0, time.UTC))
		assert.Equal(t, progression.DateOf(monday), progression.DateOf(got), day)
	}
	assert.Equal(t, "2024-03-11", progression.DateOf(WeekStart(time.Date(2024, 3, 11, 1, 0, 0, 0, time.UTC))))
}

func TestDailyChallengeCreatedOnce(t *testing.T) {
	ctx := context.Background()
	_, ch := newChallenges(t)

	first, err := ch.Daily(ctx)
	require.NoError(t, err)
	second, err := ch.Daily(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "2024-03-04", first.ChallengeDate)
	assert.Positive(t, first.TargetValue)
}

func TestRecordCompletesDailyChallengeOnce(t *testing.T) {
	ctx := context.Background()
	f, ch := newChallenges(t)
	require.NoError(t, database.NewChallengeRepository(f.db).CreateDaily(ctx, &models.DailyChallenge{
		ChallengeDate: "2024-03-04", ChallengeType: models.ChallengeTaskCount,
		Title: "Warm-up", Description: "Complete 2 micro tasks today", TargetValue: 2, XPReward: 50,
	}))

	f.complete(t, models.TierMicro, 40, 70)
	progress, err := ch.Record(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Daily.CurrentValue)
	assert.False(t, progress.DailyCompleted)
	assert.Empty(t, progress.Grants)

	f.complete(t, models.TierMicro, 40, 70)
	f.complete(t, models.TierShort, 200, 90)
	progress, err = ch.Record(ctx)
	require.NoError(t, err)
	assert.True(t, progress.DailyCompleted)
	require.Len(t, progress.Grants, 1)
	assert.Equal(t, int64(50), progress.Grants[0].XPAwarded)

	progress, err = ch.Record(ctx)
	require.NoError(t, err)
	assert.False(t, progress.DailyCompleted)
	assert.True(t, progress.Daily.IsCompleted)

	var grants int
	require.NoError(t, f.db.Get(&grants, "SELECT COUNT(*) FROM xp_transactions WHERE source_type = 'daily_challenge'"))
	assert.Equal(t, 1, grants)
}

func TestRecordIgnoresYesterday(t *testing.T) {
	ctx := context.Background()
	f, ch := newChallenges(t)
	f.complete(t, models.TierMicro, 1000, 99)

	f.clock.AddDays(1)
	require.NoError(t, database.NewChallengeRepository(f.db).CreateDaily(ctx, &models.DailyChallenge{
		ChallengeDate: "2024-03-05", ChallengeType: models.ChallengeWordCount,
		Title: "Word flow", Description: "Write 500 words today", TargetValue: 500, XPReward: 50,
	}))
	progress, err := ch.Record(ctx)
	require.NoError(t, err)
	assert.Zero(t, progress.Daily.CurrentValue)
	assert.False(t, progress.DailyCompleted)
}

func TestWeeklyChallengeMaterializesEpicTask(t *testing.T) {
	ctx := context.Background()
	f, ch := newChallenges(t)

	weekly, err := ch.Weekly(ctx)
	require.NoError(t, err)
	require.NotNil(t, weekly)
	require.NotNil(t, weekly.TaskID)
	assert.Equal(t, "2024-03-04", weekly.WeekStart)
	assert.Equal(t, "2024-03-10", weekly.WeekEnd)
	assert.Equal(t, 800, weekly.TargetValue)

	task, err := database.NewDailyTaskRepository(f.db).Get(ctx, *weekly.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TierEpic, task.Tier)

	f.clock.AddDays(2)
	again, err := ch.Weekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, weekly.ID, again.ID)

	records := database.NewTaskRecordRepository(f.db)
	now := f.clock.Now()
	rec := &models.TaskRecord{TaskID: task.ID, Tier: models.TierEpic, Status: models.StatusDraft, CreatedAt: now}
	require.NoError(t, records.Create(ctx, rec))
	saved, saveErr := records.SaveContent(ctx, rec.ID, "long text", 900, 3600, now)
	require.NoError(t, saveErr)
	require.True(t, saved)
	done, markErr := records.MarkCompleted(ctx, rec.ID, 88, "{}", now)
	require.NoError(t, markErr)
	require.True(t, done)

	progress, err := ch.Record(ctx)
	require.NoError(t, err)
	assert.True(t, progress.WeeklyCompleted)
	assert.Equal(t, 900, progress.Weekly.CurrentValue)

	var grants int
	require.NoError(t, f.db.Get(&grants, "SELECT COUNT(*) FROM xp_transactions WHERE source_type = 'weekly_challenge'"))
	assert.Equal(t, 1, grants)
}

func TestWeeklyWithoutEpicTemplates(t *testing.T) {
	ctx := context.Background()
	f, ch := newChallenges(t)
	_, err := f.db.Exec("UPDATE task_templates SET is_active = FALSE WHERE tier = 'epic'")
	require.NoError(t, err)

	weekly, err := ch.Weekly(ctx)
	require.NoError(t, err)
	assert.Nil(t, weekly)

	progress, err := ch.Record(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress.Weekly)
	assert.NotNil(t, progress.Daily)
}
