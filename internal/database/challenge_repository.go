package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// ChallengeRepository handles daily and weekly challenges
type ChallengeRepository struct {
	db sqlx.ExtContext
}

// NewChallengeRepository creates a new repository instance
func NewChallengeRepository(db sqlx.ExtContext) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// GetDaily returns the challenge of a date
func (r *ChallengeRepository) GetDaily(ctx context.Context, date string) (*models.DailyChallenge, error) {
	var c models.DailyChallenge
	if err := sqlx.GetContext(ctx, r.db, &c, "SELECT * FROM daily_challenges WHERE challenge_date = $1", date); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateDaily inserts the challenge of a date unless one already exists
func (r *ChallengeRepository) CreateDaily(ctx context.Context, c *models.DailyChallenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_challenges (challenge_date, challenge_type, title, description, target_value, current_value, xp_reward, is_completed)
		VALUES ($1, $2, $3, $4, $5, 0, $6, FALSE)
		ON CONFLICT (challenge_date) DO NOTHING
	`, c.ChallengeDate, c.ChallengeType, c.Title, c.Description, c.TargetValue, c.XPReward)
	if err != nil {
		return fmt.Errorf("failed to create daily challenge: %w", err)
	}
	return nil
}

// SetDailyProgress stores the progress of an open daily challenge
func (r *ChallengeRepository) SetDailyProgress(ctx context.Context, id int64, value int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE daily_challenges SET current_value = $1 WHERE id = $2 AND is_completed = FALSE",
		value, id)
	if err != nil {
		return fmt.Errorf("failed to update daily challenge: %w", err)
	}
	return nil
}

// CompleteDaily closes a daily challenge; it reports false when it was already closed
func (r *ChallengeRepository) CompleteDaily(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE daily_challenges SET is_completed = TRUE, completed_at = $1 WHERE id = $2 AND is_completed = FALSE",
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to complete daily challenge: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// GetWeekly returns the challenge of the week starting on weekStart
func (r *ChallengeRepository) GetWeekly(ctx context.Context, weekStart string) (*models.WeeklyChallenge, error) {
	var c models.WeeklyChallenge
	if err := sqlx.GetContext(ctx, r.db, &c, "SELECT * FROM weekly_challenges WHERE week_start = $1", weekStart); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// GetWeeklyByTask returns the weekly challenge bound to a daily task
func (r *ChallengeRepository) GetWeeklyByTask(ctx context.Context, taskID int64) (*models.WeeklyChallenge, error) {
	var c models.WeeklyChallenge
	if err := sqlx.GetContext(ctx, r.db, &c, "SELECT * FROM weekly_challenges WHERE task_id = $1", taskID); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateWeekly inserts the challenge of a week; it reports false when the
// week already has one
func (r *ChallengeRepository) CreateWeekly(ctx context.Context, c *models.WeeklyChallenge) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO weekly_challenges (
			week_start, week_end, template_id, task_id, title, theme, description, requirements,
			word_limit_min, word_limit_max, target_value, current_value, xp_reward, is_completed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, FALSE)
		ON CONFLICT (week_start) DO NOTHING
	`, c.WeekStart, c.WeekEnd, c.TemplateID, c.TaskID, c.Title, c.Theme, c.Description, c.Requirements,
		c.WordLimitMin, c.WordLimitMax, c.TargetValue, c.XPReward)
	if err != nil {
		return false, fmt.Errorf("failed to create weekly challenge: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetWeeklyProgress stores the progress of an open weekly challenge
func (r *ChallengeRepository) SetWeeklyProgress(ctx context.Context, id int64, value int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE weekly_challenges SET current_value = $1 WHERE id = $2 AND is_completed = FALSE",
		value, id)
	if err != nil {
		return fmt.Errorf("failed to update weekly challenge: %w", err)
	}
	return nil
}

// CompleteWeekly closes a weekly challenge; it reports false when it was already closed
func (r *ChallengeRepository) CompleteWeekly(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE weekly_challenges SET is_completed = TRUE, completed_at = $1 WHERE id = $2 AND is_completed = FALSE",
		now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to complete weekly challenge: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
