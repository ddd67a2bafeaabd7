package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// LevelRepository reads the static level table
type LevelRepository struct {
	db sqlx.ExtContext
}

// NewLevelRepository creates a new repository instance
func NewLevelRepository(db sqlx.ExtContext) *LevelRepository {
	return &LevelRepository{db: db}
}

// All returns every level ordered by level number
func (r *LevelRepository) All(ctx context.Context) ([]models.Level, error) {
	levels := []models.Level{}
	if err := sqlx.SelectContext(ctx, r.db, &levels, "SELECT * FROM level_config ORDER BY level"); err != nil {
		return nil, fmt.Errorf("failed to get levels: %w", err)
	}
	return levels, nil
}

// StreakRewardRepository reads the streak reward table
type StreakRewardRepository struct {
	db sqlx.ExtContext
}

// NewStreakRewardRepository creates a new repository instance
func NewStreakRewardRepository(db sqlx.ExtContext) *StreakRewardRepository {
	return &StreakRewardRepository{db: db}
}

// All returns every reward ordered by streak length
func (r *StreakRewardRepository) All(ctx context.Context) ([]models.StreakReward, error) {
	rewards := []models.StreakReward{}
	if err := sqlx.SelectContext(ctx, r.db, &rewards, "SELECT * FROM streak_rewards ORDER BY streak_days"); err != nil {
		return nil, fmt.Errorf("failed to get streak rewards: %w", err)
	}
	return rewards, nil
}

// Exact returns the reward configured for exactly this streak length
func (r *StreakRewardRepository) Exact(ctx context.Context, days int) (*models.StreakReward, error) {
	var reward models.StreakReward
	err := sqlx.GetContext(ctx, r.db, &reward, "SELECT * FROM streak_rewards WHERE streak_days = $1", days)
	if err != nil {
		return nil, notFound(err)
	}
	return &reward, nil
}

// NearestBelow returns the reward with the largest streak length not above days
func (r *StreakRewardRepository) NearestBelow(ctx context.Context, days int) (*models.StreakReward, error) {
	var reward models.StreakReward
	err := sqlx.GetContext(ctx, r.db, &reward, `
		SELECT * FROM streak_rewards WHERE streak_days <= $1
		ORDER BY streak_days DESC LIMIT 1
	`, days)
	if err != nil {
		return nil, notFound(err)
	}
	return &reward, nil
}
