package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/database/dbtest"
	"github.com/example/inkquest/pkg/models"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "templates.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestImportTemplatesFromExcel(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	repo := database.NewTemplateRepository(db)

	path := writeWorkbook(t, [][]interface{}{
		{"tier", "code", "title", "description", "attr_type", "difficulty", "xp_reward", "attr_reward", "word_limit_min", "word_limit_max", "time_limit", "requirements", "tags"},
		{"micro", "m_rain", "Rain", "Describe rain without the word wet.", "scene", "easy", "", "", "", "100", "5", "", "weather"},
		{"short", "s_door", "The Door", "A stranger knocks at midnight.", "conflict", "hard", 45, 3, 150, 350, 20, "first person", ""},
		{"", "", "", "", "", "", "", "", "", "", "", "", ""},
		{"novel", "x_bad", "Bad", "Unknown tier", "", "", "", "", "", "", "", "", ""},
		{"micro", "m_bounds", "Bounds", "Inverted limits", "", "", "", "", 200, 100, "", "", ""},
	})

	res, err := ImportTemplates(ctx, repo, ImportConfig{FilePath: path, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalProcessed)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "Row 5")
	assert.Contains(t, res.Errors[1], "Row 6")

	rain, err := repo.GetByCode(ctx, "m_rain")
	require.NoError(t, err)
	assert.Equal(t, models.TierMicro, rain.Tier)
	assert.Equal(t, models.AttrScene, rain.AttrType)
	assert.Equal(t, int64(10), rain.XPReward)
	assert.Equal(t, 1, rain.AttrReward)
	assert.Nil(t, rain.WordLimitMin)
	require.NotNil(t, rain.WordLimitMax)
	assert.Equal(t, 100, *rain.WordLimitMax)
	assert.True(t, rain.IsActive)

	door, err := repo.GetByCode(ctx, "s_door")
	require.NoError(t, err)
	assert.Equal(t, int64(45), door.XPReward)
	assert.Equal(t, 3, door.AttrReward)
	assert.Equal(t, "hard", door.Difficulty)
	require.NotNil(t, door.Requirements)
	assert.Equal(t, "first person", *door.Requirements)
}

func TestImportTemplatesFromCSVUpdatesByCode(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t, false)
	repo := database.NewTemplateRepository(db)
	dir := t.TempDir()

	first := filepath.Join(dir, "v1.csv")
	require.NoError(t, os.WriteFile(first, []byte(
		"\ufefftier,code,title,description\n"+
			"epic,e_saga,Saga,\"Write a saga, in three acts.\"\n"), 0o644))
	res, err := ImportTemplates(ctx, repo, ImportConfig{FilePath: first, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Errors)

	second := filepath.Join(dir, "v2.csv")
	require.NoError(t, os.WriteFile(second, []byte(
		"Code,Tier,Title,Description,Is_Active\n"+
			"e_saga,epic,Saga Revised,Two acts are enough.,false\n"), 0o644))
	res, err = ImportTemplates(ctx, repo, ImportConfig{FilePath: second, Now: fixedNow})
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 1, res.Updated)

	saga, err := repo.GetByCode(ctx, "e_saga")
	require.NoError(t, err)
	assert.Equal(t, "Saga Revised", saga.Title)
	assert.Equal(t, int64(150), saga.XPReward)
	assert.False(t, saga.IsActive)

	count, err := repo.CountActive(ctx, models.TierEpic)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestImportTemplatesRequiresHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("tier,title\nmicro,Nothing\n"), 0o644))

	_, err := ImportTemplates(context.Background(), database.NewTemplateRepository(dbtest.Open(t, false)), ImportConfig{FilePath: path})
	assert.ErrorContains(t, err, `missing column "code"`)

	_, err = ImportTemplates(context.Background(), nil, ImportConfig{FilePath: filepath.Join(t.TempDir(), "missing.xlsx")})
	assert.Error(t, err)
}
