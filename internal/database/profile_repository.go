package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// ProfileID is the id of the single profile row
const ProfileID int64 = 1

// ProfileRepository handles database operations for the profile
type ProfileRepository struct {
	db sqlx.ExtContext
}

// NewProfileRepository creates a new repository over a pool or transaction
func NewProfileRepository(db sqlx.ExtContext) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetOrCreate returns the profile, creating it with level 1 on first access
func (r *ProfileRepository) GetOrCreate(ctx context.Context, title string, now time.Time) (*models.Profile, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profile (id, nickname, current_level, current_title, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ProfileID, "writer", title, now.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return r.Get(ctx)
}

// Get returns the profile
func (r *ProfileRepository) Get(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := sqlx.GetContext(ctx, r.db, &p, "SELECT * FROM profile WHERE id = $1", ProfileID); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", notFound(err))
	}
	return &p, nil
}

// ProfileDelta is the change a single grant applies to the profile counters
type ProfileDelta struct {
	XP        int64
	Words     int
	TimeSpent int
	Practices int
}

// ApplyDelta adds counters to the profile
func (r *ProfileRepository) ApplyDelta(ctx context.Context, d ProfileDelta, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profile SET
			total_xp = total_xp + $1,
			total_words = total_words + $2,
			total_time_spent = total_time_spent + $3,
			total_practices = total_practices + $4,
			updated_at = $5
		WHERE id = $6
	`, d.XP, d.Words, d.TimeSpent, d.Practices, now.UTC(), ProfileID)
	if err != nil {
		return fmt.Errorf("failed to update profile totals: %w", err)
	}
	return nil
}

// AddAttribute raises an attribute by amount, capped at max, and returns
// the stored value
func (r *ProfileRepository) AddAttribute(ctx context.Context, attr models.Attribute, amount, max int, now time.Time) (int, error) {
	if !attr.Concrete() {
		return 0, fmt.Errorf("cannot store attribute %q", attr)
	}
	col := attr.Column()
	query := fmt.Sprintf(`
		UPDATE profile SET %[1]s = CASE WHEN %[1]s + $1 > $2 THEN $2 ELSE %[1]s + $1 END, updated_at = $3
		WHERE id = $4
		RETURNING %[1]s`, col)
	var value int
	if err := r.db.QueryRowxContext(ctx, query, amount, max, now.UTC(), ProfileID).Scan(&value); err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", attr, err)
	}
	return value, nil
}

// SetLevel stores the level and its title
func (r *ProfileRepository) SetLevel(ctx context.Context, level int, title string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE profile SET current_level = $1, current_title = $2, updated_at = $3 WHERE id = $4",
		level, title, now.UTC(), ProfileID)
	if err != nil {
		return fmt.Errorf("failed to update level: %w", err)
	}
	return nil
}

// SetStreak stores the streak counters and the last activity date
func (r *ProfileRepository) SetStreak(ctx context.Context, current, longest int, date string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE profile SET current_streak = $1, longest_streak = $2, last_activity_date = $3, updated_at = $4
		WHERE id = $5
	`, current, longest, date, now.UTC(), ProfileID)
	if err != nil {
		return fmt.Errorf("failed to update streak: %w", err)
	}
	return nil
}
