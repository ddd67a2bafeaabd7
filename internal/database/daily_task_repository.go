package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// DailyTaskRepository handles the per-date task pool
type DailyTaskRepository struct {
	db sqlx.ExtContext
}

// NewDailyTaskRepository creates a new repository instance
func NewDailyTaskRepository(db sqlx.ExtContext) *DailyTaskRepository {
	return &DailyTaskRepository{db: db}
}

// Create inserts a task and sets its id
func (r *DailyTaskRepository) Create(ctx context.Context, t *models.DailyTask) error {
	t.CreatedAt = t.CreatedAt.UTC()
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO daily_tasks (
			task_date, template_id, tier, title, description, requirements, time_limit,
			word_limit_min, word_limit_max, attr_type, xp_reward, attr_reward, difficulty,
			source, content_hash, is_claimed, is_completed, sort_order, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, FALSE, FALSE, $16, $17)
		RETURNING id
	`, t.TaskDate, t.TemplateID, t.Tier, t.Title, t.Description, t.Requirements, t.TimeLimit,
		t.WordLimitMin, t.WordLimitMax, t.AttrType, t.XPReward, t.AttrReward, t.Difficulty,
		t.Source, t.ContentHash, t.SortOrder, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create daily task: %w", err)
	}
	return nil
}

// Get returns a task by id
func (r *DailyTaskRepository) Get(ctx context.Context, id int64) (*models.DailyTask, error) {
	var t models.DailyTask
	if err := sqlx.GetContext(ctx, r.db, &t, "SELECT * FROM daily_tasks WHERE id = $1", id); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListForDate returns the pool of a date ordered for display; an empty
// tier returns every tier
func (r *DailyTaskRepository) ListForDate(ctx context.Context, date string, tier models.Tier) ([]models.DailyTask, error) {
	tasks := []models.DailyTask{}
	var err error
	if tier == "" {
		err = sqlx.SelectContext(ctx, r.db, &tasks,
			"SELECT * FROM daily_tasks WHERE task_date = $1 ORDER BY sort_order, id", date)
	} else {
		err = sqlx.SelectContext(ctx, r.db, &tasks,
			"SELECT * FROM daily_tasks WHERE task_date = $1 AND tier = $2 ORDER BY sort_order, id", date, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list daily tasks: %w", err)
	}
	return tasks, nil
}

// CountPreset returns how many preset micro and short tasks a date has
func (r *DailyTaskRepository) CountPreset(ctx context.Context, date string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `
		SELECT COUNT(*) FROM daily_tasks
		WHERE task_date = $1 AND source = $2 AND tier IN ($3, $4)
	`, date, models.SourcePreset, models.TierMicro, models.TierShort)
	if err != nil {
		return 0, fmt.Errorf("failed to count preset tasks: %w", err)
	}
	return n, nil
}

// CountGenerated returns how many generated tasks of a tier a date has
func (r *DailyTaskRepository) CountGenerated(ctx context.Context, date string, tier models.Tier) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n,
		"SELECT COUNT(*) FROM daily_tasks WHERE task_date = $1 AND source = $2 AND tier = $3",
		date, models.SourceGenerated, tier)
	if err != nil {
		return 0, fmt.Errorf("failed to count generated tasks: %w", err)
	}
	return n, nil
}

// PoolCount is the number of tasks of one source and tier
type PoolCount struct {
	Source models.TaskSource `json:"source" db:"source"`
	Tier   models.Tier       `json:"tier" db:"tier"`
	Count  int               `json:"count" db:"count"`
}

// CountBySourceTier groups the pool of a date by source and tier
func (r *DailyTaskRepository) CountBySourceTier(ctx context.Context, date string) ([]PoolCount, error) {
	counts := []PoolCount{}
	err := sqlx.SelectContext(ctx, r.db, &counts, `
		SELECT source, tier, COUNT(*) AS count FROM daily_tasks
		WHERE task_date = $1
		GROUP BY source, tier
		ORDER BY source, tier
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily tasks: %w", err)
	}
	return counts, nil
}

// HashesSince returns content hashes of tasks dated on or after fromDate
func (r *DailyTaskRepository) HashesSince(ctx context.Context, fromDate string) ([]string, error) {
	hashes := []string{}
	err := sqlx.SelectContext(ctx, r.db, &hashes,
		"SELECT content_hash FROM daily_tasks WHERE task_date >= $1", fromDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get content hashes: %w", err)
	}
	return hashes, nil
}

// MaxSortOrder returns the largest sort order used on a date, 0 when empty
func (r *DailyTaskRepository) MaxSortOrder(ctx context.Context, date string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n,
		"SELECT COALESCE(MAX(sort_order), 0) FROM daily_tasks WHERE task_date = $1", date)
	if err != nil {
		return 0, fmt.Errorf("failed to get sort order: %w", err)
	}
	return n, nil
}

// LastGeneratedAt returns when the newest generated task was created
func (r *DailyTaskRepository) LastGeneratedAt(ctx context.Context) (*time.Time, error) {
	var t models.DailyTask
	err := sqlx.GetContext(ctx, r.db, &t,
		"SELECT * FROM daily_tasks WHERE source = $1 ORDER BY id DESC LIMIT 1", models.SourceGenerated)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last generated task: %w", err)
	}
	return &t.CreatedAt, nil
}

// MarkClaimed flags a task as taken
func (r *DailyTaskRepository) MarkClaimed(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE daily_tasks SET is_claimed = TRUE WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to claim daily task: %w", err)
	}
	return nil
}

// MarkCompleted flags a task as done
func (r *DailyTaskRepository) MarkCompleted(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE daily_tasks SET is_completed = TRUE WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to complete daily task: %w", err)
	}
	return nil
}

// DeleteStale removes tasks dated before beforeDate that were never completed
func (r *DailyTaskRepository) DeleteStale(ctx context.Context, beforeDate string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM daily_tasks
		WHERE task_date < $1
		AND NOT EXISTS (
			SELECT 1 FROM task_records r WHERE r.task_id = daily_tasks.id AND r.status = $2
		)
		AND NOT EXISTS (
			SELECT 1 FROM weekly_challenges w WHERE w.task_id = daily_tasks.id
		)
	`, beforeDate, models.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale daily tasks: %w", err)
	}
	return res.RowsAffected()
}
