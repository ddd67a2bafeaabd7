package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/database/dbtest"
	"github.com/example/inkquest/pkg/models"
)

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, true)
	require.NoError(t, database.SeedCatalog(ctx, db, time.Now()))

	levels, err := database.NewLevelRepository(db).All(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 50)
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i].RequiredXP, levels[i-1].RequiredXP)
	}
	assert.Equal(t, int64(0), levels[0].RequiredXP)
	assert.Equal(t, "Novel Peak", levels[49].Stage)

	var achievements int
	require.NoError(t, db.Get(&achievements, "SELECT COUNT(*) FROM achievements"))
	assert.Equal(t, len(database.Achievements()), achievements)
}

func TestProfileGetOrCreate(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	repo := database.NewProfileRepository(db)

	p, err := repo.GetOrCreate(ctx, "Ink Apprentice I", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentLevel)
	assert.Nil(t, p.LastActivityDate)

	again, err := repo.GetOrCreate(ctx, "ignored", time.Now())
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "Ink Apprentice I", again.CurrentTitle)
}

func TestAchievementUnlockOnce(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, true)
	repo := database.NewAchievementRepository(db)

	a, err := repo.GetByCode(ctx, "tasks_1")
	require.NoError(t, err)

	ok, err := repo.Unlock(ctx, a.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Unlock(ctx, a.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.CountUnlocked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOnceSourcesAreUnique(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	repo := database.NewXPTransactionRepository(db)
	sourceID := int64(42)
	entry := func(source string, id *int64) *models.XPTransaction {
		return &models.XPTransaction{SourceType: source, SourceID: id, XPAmount: 10, Multiplier: 1, CreatedAt: time.Now()}
	}

	created, err := repo.CreateOnce(ctx, entry("micro_complete", &sourceID))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateOnce(ctx, entry("micro_complete", &sourceID))
	require.NoError(t, err)
	assert.False(t, created)

	err = repo.Create(ctx, entry("micro_complete", &sourceID))
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	// repeatable sources and rows without a source id are not constrained
	require.NoError(t, repo.Create(ctx, entry("streak_bonus", &sourceID)))
	require.NoError(t, repo.Create(ctx, entry("streak_bonus", &sourceID)))
	require.NoError(t, repo.Create(ctx, entry("micro_complete", nil)))
	require.NoError(t, repo.Create(ctx, entry("micro_complete", nil)))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAddAttributeClampsInStore(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	repo := database.NewProfileRepository(db)
	_, err := repo.GetOrCreate(ctx, "Ink Apprentice I", time.Now())
	require.NoError(t, err)

	v, err := repo.AddAttribute(ctx, models.AttrScene, 97, models.MaxAttributeValue, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 97, v)

	// two writers that both read 97 still cannot push past the cap
	v, err = repo.AddAttribute(ctx, models.AttrScene, 3, models.MaxAttributeValue, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, v)
	v, err = repo.AddAttribute(ctx, models.AttrScene, 3, models.MaxAttributeValue, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100, v)

	p, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, p.AttrScene)

	_, err = repo.AddAttribute(ctx, models.AttrComprehensive, 1, models.MaxAttributeValue, time.Now())
	assert.Error(t, err)
}

func TestOneCompletedRecordPerTask(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	tasks := database.NewDailyTaskRepository(db)
	records := database.NewTaskRecordRepository(db)
	now := time.Now()

	task := &models.DailyTask{
		TaskDate: "2024-03-01", Tier: models.TierMicro, Title: "t", Description: "d",
		AttrType: models.AttrScene, XPReward: 10, AttrReward: 1, Difficulty: "easy",
		Source: models.SourcePreset, ContentHash: "abc", CreatedAt: now,
	}
	require.NoError(t, tasks.Create(ctx, task))

	first := &models.TaskRecord{TaskID: task.ID, Tier: task.Tier, Status: models.StatusDraft, CreatedAt: now}
	second := &models.TaskRecord{TaskID: task.ID, Tier: task.Tier, Status: models.StatusDraft, CreatedAt: now}
	require.NoError(t, records.Create(ctx, first))
	require.NoError(t, records.Create(ctx, second))

	done, err := records.MarkCompleted(ctx, first.ID, 80, "{}", now)
	require.NoError(t, err)
	require.True(t, done)
	_, err = records.MarkCompleted(ctx, second.ID, 90, "{}", now)
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))

	done, err = records.MarkCompleted(ctx, first.ID, 10, "{}", now)
	require.NoError(t, err)
	assert.False(t, done)
	saved, err := records.SaveContent(ctx, first.ID, "late draft", 2, 5, now)
	require.NoError(t, err)
	assert.False(t, saved)
	stored, err := records.Get(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Score)
	assert.Equal(t, 80, *stored.Score)
	assert.Empty(t, stored.Content)

	latest, err := records.LatestForTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func TestStreakRewardLookups(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, true)
	repo := database.NewStreakRewardRepository(db)

	r, err := repo.NearestBelow(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, 3, r.StreakDays)

	_, err = repo.Exact(ctx, 6)
	assert.ErrorIs(t, err, database.ErrNotFound)

	r, err = repo.Exact(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), r.BonusXP)
}
