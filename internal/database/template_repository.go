package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// TemplateRepository handles the task template catalog
type TemplateRepository struct {
	db sqlx.ExtContext
}

// NewTemplateRepository creates a new repository instance
func NewTemplateRepository(db sqlx.ExtContext) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// RandomActive samples up to limit active templates of a tier without replacement
func (r *TemplateRepository) RandomActive(ctx context.Context, tier models.Tier, limit int) ([]models.TaskTemplate, error) {
	templates := []models.TaskTemplate{}
	err := sqlx.SelectContext(ctx, r.db, &templates, `
		SELECT * FROM task_templates
		WHERE tier = $1 AND is_active = TRUE
		ORDER BY RANDOM()
		LIMIT $2
	`, tier, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample templates: %w", err)
	}
	return templates, nil
}

// CountActive returns the number of active templates, across all tiers when tier is empty
func (r *TemplateRepository) CountActive(ctx context.Context, tier models.Tier) (int, error) {
	var n int
	var err error
	if tier == "" {
		err = sqlx.GetContext(ctx, r.db, &n, "SELECT COUNT(*) FROM task_templates WHERE is_active = TRUE")
	} else {
		err = sqlx.GetContext(ctx, r.db, &n, "SELECT COUNT(*) FROM task_templates WHERE is_active = TRUE AND tier = $1", tier)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return n, nil
}

// IncrementUseCount bumps the use counter of a template
func (r *TemplateRepository) IncrementUseCount(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE task_templates SET use_count = use_count + 1 WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to increment template use count: %w", err)
	}
	return nil
}

// GetByCode returns a template by its code
func (r *TemplateRepository) GetByCode(ctx context.Context, code string) (*models.TaskTemplate, error) {
	var t models.TaskTemplate
	if err := sqlx.GetContext(ctx, r.db, &t, "SELECT * FROM task_templates WHERE code = $1", code); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Upsert inserts a template or updates the one with the same code; it
// reports whether a new row was created
func (r *TemplateRepository) Upsert(ctx context.Context, t *models.TaskTemplate, now time.Time) (bool, error) {
	existing, err := r.GetByCode(ctx, t.Code)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("failed to look up template %s: %w", t.Code, err)
	}
	if existing != nil {
		_, err := r.db.ExecContext(ctx, `
			UPDATE task_templates SET
				tier = $1, title = $2, description = $3, requirements = $4, time_limit = $5,
				word_limit_min = $6, word_limit_max = $7, attr_type = $8, xp_reward = $9,
				attr_reward = $10, difficulty = $11, tags = $12, is_active = $13
			WHERE id = $14
		`, t.Tier, t.Title, t.Description, t.Requirements, t.TimeLimit,
			t.WordLimitMin, t.WordLimitMax, t.AttrType, t.XPReward,
			t.AttrReward, t.Difficulty, t.Tags, t.IsActive, existing.ID)
		if err != nil {
			return false, fmt.Errorf("failed to update template %s: %w", t.Code, err)
		}
		t.ID = existing.ID
		return false, nil
	}
	if err := r.insert(ctx, t, now, false); err != nil {
		return false, err
	}
	return true, nil
}

// InsertIfMissing inserts a template unless its code already exists
func (r *TemplateRepository) InsertIfMissing(ctx context.Context, t *models.TaskTemplate, now time.Time) error {
	return r.insert(ctx, t, now, true)
}

func (r *TemplateRepository) insert(ctx context.Context, t *models.TaskTemplate, now time.Time, ignoreConflict bool) error {
	query := `
		INSERT INTO task_templates (
			tier, code, title, description, requirements, time_limit, word_limit_min, word_limit_max,
			attr_type, xp_reward, attr_reward, difficulty, tags, use_count, is_active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, $15)`
	if ignoreConflict {
		query += " ON CONFLICT (code) DO NOTHING"
	}
	_, err := r.db.ExecContext(ctx, query,
		t.Tier, t.Code, t.Title, t.Description, t.Requirements, t.TimeLimit, t.WordLimitMin, t.WordLimitMax,
		t.AttrType, t.XPReward, t.AttrReward, t.Difficulty, t.Tags, t.IsActive, now.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert template %s: %w", t.Code, err)
	}
	return nil
}
