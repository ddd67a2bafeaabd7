package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/inkquest/pkg/models"
)

// Columns lists the header names an import file may carry. Only tier,
// code, title and description are required.
var Columns = []string{
	"tier", "code", "title", "description", "attr_type", "difficulty", "xp_reward", "attr_reward",
	"word_limit_min", "word_limit_max", "time_limit", "requirements", "tags", "is_active",
}

var requiredColumns = []string{"tier", "code", "title", "description"}

// TemplateStore persists imported templates
type TemplateStore interface {
	Upsert(ctx context.Context, t *models.TaskTemplate, now time.Time) (bool, error)
}

// ImportConfig defines the import configuration
type ImportConfig struct {
	FilePath  string // Path to the Excel or CSV file
	SheetName string // Sheet to import, the first sheet when empty
	Now       func() time.Time
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int      `json:"total_processed"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors"`
}

// ImportTemplates upserts task templates from an Excel or CSV file. The
// first row names the columns; rows that fail validation are reported in
// the result and do not stop the import.
func ImportTemplates(ctx context.Context, store TemplateStore, config ImportConfig) (*ImportResult, error) {
	var (
		rows [][]string
		err  error
	)
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		rows, err = readCSV(config.FilePath)
	} else {
		rows, err = readExcel(config.FilePath, config.SheetName)
	}
	if err != nil {
		return nil, err
	}
	return importRows(ctx, store, rows, config)
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func importRows(ctx context.Context, store TemplateStore, rows [][]string, config ImportConfig) (*ImportResult, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("file has no header row")
	}
	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := header[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	now := time.Now
	if config.Now != nil {
		now = config.Now
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows[1:] {
		rowNum := i + 2
		if blank(row) {
			result.Skipped++
			continue
		}
		result.TotalProcessed++

		t, err := parseRow(row, header)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		created, err := store.Upsert(ctx, t, now())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// parseRow builds a template from one row; empty reward cells take the
// tier defaults
func parseRow(row []string, header map[string]int) (*models.TaskTemplate, error) {
	cell := func(name string) string {
		if i, ok := header[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	tier, err := models.ParseTier(strings.ToLower(cell("tier")))
	if err != nil {
		return nil, err
	}
	t := &models.TaskTemplate{
		Tier:        tier,
		Code:        cell("code"),
		Title:       cell("title"),
		Description: cell("description"),
		AttrType:    models.AttrCharacter,
		Difficulty:  string(models.DifficultyNormal),
		IsActive:    true,
	}
	if t.Code == "" {
		return nil, fmt.Errorf("code cannot be empty")
	}
	if t.Title == "" || t.Description == "" {
		return nil, fmt.Errorf("title and description are required")
	}

	if v := cell("attr_type"); v != "" {
		attr, err := models.ParseAttribute(strings.ToLower(v))
		if err != nil {
			return nil, err
		}
		t.AttrType = attr
	}
	if v := cell("difficulty"); v != "" {
		d, err := models.ParseDifficulty(strings.ToLower(v))
		if err != nil {
			return nil, err
		}
		t.Difficulty = string(d)
	}

	reward := tier.DefaultReward()
	xp, err := optionalInt(cell("xp_reward"), "xp_reward")
	if err != nil {
		return nil, err
	}
	t.XPReward = reward.XP
	if xp != nil && *xp > 0 {
		t.XPReward = int64(*xp)
	}
	attr, err := optionalInt(cell("attr_reward"), "attr_reward")
	if err != nil {
		return nil, err
	}
	t.AttrReward = reward.Attr
	if attr != nil && *attr > 0 {
		t.AttrReward = *attr
	}

	if t.WordLimitMin, err = optionalInt(cell("word_limit_min"), "word_limit_min"); err != nil {
		return nil, err
	}
	if t.WordLimitMax, err = optionalInt(cell("word_limit_max"), "word_limit_max"); err != nil {
		return nil, err
	}
	if t.WordLimitMin != nil && t.WordLimitMax != nil && *t.WordLimitMin > *t.WordLimitMax {
		return nil, fmt.Errorf("word_limit_min %d exceeds word_limit_max %d", *t.WordLimitMin, *t.WordLimitMax)
	}
	if t.TimeLimit, err = optionalInt(cell("time_limit"), "time_limit"); err != nil {
		return nil, err
	}
	if v := cell("requirements"); v != "" {
		t.Requirements = &v
	}
	if v := cell("tags"); v != "" {
		t.Tags = &v
	}
	if v := cell("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid is_active %q", v)
		}
		t.IsActive = active
	}
	return t, nil
}

func optionalInt(s, column string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q", column, s)
	}
	if v < 0 {
		return nil, fmt.Errorf("%s must not be negative", column)
	}
	return &v, nil
}
