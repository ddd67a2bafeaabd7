package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// OnceSources are the xp sources paid at most once per source id
var OnceSources = []string{"micro_complete", "short_complete", "epic_complete", "daily_challenge", "weekly_challenge"}

// IsOnceSource reports whether sourceType is one of OnceSources
func IsOnceSource(sourceType string) bool {
	for _, s := range OnceSources {
		if s == sourceType {
			return true
		}
	}
	return false
}

// schema statements run in order; {{pk}} is replaced with the driver's
// auto-increment primary key declaration and {{once}} with OnceSources
var schema = []struct {
	name string
	stmt string
}{
	{"profile", `
		CREATE TABLE IF NOT EXISTS profile (
			id {{pk}},
			nickname TEXT NOT NULL DEFAULT '',
			current_level INTEGER NOT NULL DEFAULT 1,
			current_title TEXT NOT NULL DEFAULT '',
			total_xp BIGINT NOT NULL DEFAULT 0,
			attr_character INTEGER NOT NULL DEFAULT 0,
			attr_conflict INTEGER NOT NULL DEFAULT 0,
			attr_scene INTEGER NOT NULL DEFAULT 0,
			attr_dialogue INTEGER NOT NULL DEFAULT 0,
			attr_rhythm INTEGER NOT NULL DEFAULT 0,
			attr_style INTEGER NOT NULL DEFAULT 0,
			current_streak INTEGER NOT NULL DEFAULT 0,
			longest_streak INTEGER NOT NULL DEFAULT 0,
			last_activity_date TEXT,
			total_practices INTEGER NOT NULL DEFAULT 0,
			total_words BIGINT NOT NULL DEFAULT 0,
			total_time_spent BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"xp_transactions", `
		CREATE TABLE IF NOT EXISTS xp_transactions (
			id {{pk}},
			source_type TEXT NOT NULL,
			source_id BIGINT,
			xp_amount BIGINT NOT NULL,
			multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
			attr_type TEXT,
			attr_amount INTEGER NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`},
	{"xp_transactions_source_idx", `
		CREATE INDEX IF NOT EXISTS idx_xp_transactions_source ON xp_transactions (source_type, source_id)`},
	{"xp_transactions_once_idx", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_xp_transactions_once ON xp_transactions (source_type, source_id)
		WHERE source_id IS NOT NULL AND source_type IN ({{once}})`},
	{"level_config", `
		CREATE TABLE IF NOT EXISTS level_config (
			level INTEGER PRIMARY KEY,
			required_xp BIGINT NOT NULL,
			title TEXT NOT NULL,
			stage TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`},
	{"streak_rewards", `
		CREATE TABLE IF NOT EXISTS streak_rewards (
			streak_days INTEGER PRIMARY KEY,
			xp_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
			bonus_xp BIGINT NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT ''
		)`},
	{"achievements", `
		CREATE TABLE IF NOT EXISTS achievements (
			id {{pk}},
			code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			requirement_type TEXT NOT NULL,
			requirement_value BIGINT NOT NULL,
			xp_reward BIGINT NOT NULL DEFAULT 0,
			icon TEXT NOT NULL DEFAULT '',
			is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
			sort_order INTEGER NOT NULL DEFAULT 0
		)`},
	{"achievement_unlocks", `
		CREATE TABLE IF NOT EXISTS achievement_unlocks (
			id {{pk}},
			achievement_id BIGINT NOT NULL UNIQUE REFERENCES achievements(id),
			unlocked_at TIMESTAMP NOT NULL
		)`},
	{"task_templates", `
		CREATE TABLE IF NOT EXISTS task_templates (
			id {{pk}},
			tier TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			requirements TEXT,
			time_limit INTEGER,
			word_limit_min INTEGER,
			word_limit_max INTEGER,
			attr_type TEXT NOT NULL,
			xp_reward BIGINT NOT NULL,
			attr_reward INTEGER NOT NULL,
			difficulty TEXT NOT NULL DEFAULT 'normal',
			tags TEXT,
			use_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		)`},
	{"daily_tasks", `
		CREATE TABLE IF NOT EXISTS daily_tasks (
			id {{pk}},
			task_date TEXT NOT NULL,
			template_id BIGINT REFERENCES task_templates(id),
			tier TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			requirements TEXT,
			time_limit INTEGER,
			word_limit_min INTEGER,
			word_limit_max INTEGER,
			attr_type TEXT NOT NULL,
			xp_reward BIGINT NOT NULL,
			attr_reward INTEGER NOT NULL,
			difficulty TEXT NOT NULL DEFAULT 'normal',
			source TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			is_claimed BOOLEAN NOT NULL DEFAULT FALSE,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			sort_order INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`},
	{"daily_tasks_date_idx", `
		CREATE INDEX IF NOT EXISTS idx_daily_tasks_date ON daily_tasks (task_date)`},
	{"daily_tasks_hash_idx", `
		CREATE INDEX IF NOT EXISTS idx_daily_tasks_hash ON daily_tasks (content_hash)`},
	{"task_records", `
		CREATE TABLE IF NOT EXISTS task_records (
			id {{pk}},
			task_id BIGINT NOT NULL REFERENCES daily_tasks(id) ON DELETE CASCADE,
			tier TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL DEFAULT 0,
			time_spent INTEGER NOT NULL DEFAULT 0,
			score INTEGER,
			feedback TEXT,
			xp_earned BIGINT NOT NULL DEFAULT 0,
			attr_earned INTEGER NOT NULL DEFAULT 0,
			attr_type TEXT,
			submitted_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"task_records_task_idx", `
		CREATE INDEX IF NOT EXISTS idx_task_records_task ON task_records (task_id)`},
	{"task_records_completed_idx", `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_task_records_completed ON task_records (task_id) WHERE status = 'completed'`},
	{"daily_challenges", `
		CREATE TABLE IF NOT EXISTS daily_challenges (
			id {{pk}},
			challenge_date TEXT NOT NULL UNIQUE,
			challenge_type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			target_value INTEGER NOT NULL,
			current_value INTEGER NOT NULL DEFAULT 0,
			xp_reward BIGINT NOT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMP
		)`},
	{"weekly_challenges", `
		CREATE TABLE IF NOT EXISTS weekly_challenges (
			id {{pk}},
			week_start TEXT NOT NULL UNIQUE,
			week_end TEXT NOT NULL,
			template_id BIGINT REFERENCES task_templates(id),
			task_id BIGINT REFERENCES daily_tasks(id) ON DELETE SET NULL,
			title TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			requirements TEXT,
			word_limit_min INTEGER,
			word_limit_max INTEGER,
			target_value INTEGER NOT NULL,
			current_value INTEGER NOT NULL DEFAULT 0,
			xp_reward BIGINT NOT NULL,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMP
		)`},
}

// initializeSchema creates necessary tables if they don't exist
func initializeSchema(ctx context.Context, db *sqlx.DB) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() == "postgres" {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	once := "'" + strings.Join(OnceSources, "', '") + "'"
	r := strings.NewReplacer("{{pk}}", pk, "{{once}}", once)
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, r.Replace(s.stmt)); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
