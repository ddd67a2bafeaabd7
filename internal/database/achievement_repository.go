package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// AchievementRepository handles the achievement catalog and its unlocks
type AchievementRepository struct {
	db sqlx.ExtContext
}

// NewAchievementRepository creates a new repository instance
func NewAchievementRepository(db sqlx.ExtContext) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// States returns every achievement with its unlock time
func (r *AchievementRepository) States(ctx context.Context) ([]models.AchievementState, error) {
	states := []models.AchievementState{}
	err := sqlx.SelectContext(ctx, r.db, &states, `
		SELECT a.*, u.unlocked_at
		FROM achievements a
		LEFT JOIN achievement_unlocks u ON u.achievement_id = a.id
		ORDER BY a.sort_order, a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}
	return states, nil
}

// Locked returns achievements that have not been unlocked yet
func (r *AchievementRepository) Locked(ctx context.Context) ([]models.Achievement, error) {
	achievements := []models.Achievement{}
	err := sqlx.SelectContext(ctx, r.db, &achievements, `
		SELECT a.* FROM achievements a
		WHERE NOT EXISTS (SELECT 1 FROM achievement_unlocks u WHERE u.achievement_id = a.id)
		ORDER BY a.sort_order, a.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get locked achievements: %w", err)
	}
	return achievements, nil
}

// GetByCode returns a catalog entry by its code
func (r *AchievementRepository) GetByCode(ctx context.Context, code string) (*models.Achievement, error) {
	var a models.Achievement
	if err := sqlx.GetContext(ctx, r.db, &a, "SELECT * FROM achievements WHERE code = $1", code); err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// Unlock records the unlock; it reports false when the achievement was
// already unlocked
func (r *AchievementRepository) Unlock(ctx context.Context, achievementID int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO achievement_unlocks (achievement_id, unlocked_at) VALUES ($1, $2)
		ON CONFLICT (achievement_id) DO NOTHING
	`, achievementID, now.UTC())
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to unlock achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to unlock achievement: %w", err)
	}
	return n == 1, nil
}

// CountUnlocked returns the number of unlocked achievements
func (r *AchievementRepository) CountUnlocked(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, "SELECT COUNT(*) FROM achievement_unlocks"); err != nil {
		return 0, fmt.Errorf("failed to count unlocks: %w", err)
	}
	return n, nil
}

// CountVisible returns the number of achievements that are not hidden
func (r *AchievementRepository) CountVisible(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, "SELECT COUNT(*) FROM achievements WHERE is_hidden = FALSE"); err != nil {
		return 0, fmt.Errorf("failed to count achievements: %w", err)
	}
	return n, nil
}
