package models

import "time"

// ChallengeType selects what a daily challenge counts
type ChallengeType string

const (
	ChallengeTaskCount     ChallengeType = "task_count"
	ChallengeWordCount     ChallengeType = "word_count"
	ChallengeShortComplete ChallengeType = "short_complete"
	ChallengeScoreAbove    ChallengeType = "score_above"
)

// DailyChallenge is the goal of one calendar date
type DailyChallenge struct {
	ID            int64         `json:"id" db:"id"`
	ChallengeDate string        `json:"challenge_date" db:"challenge_date"`
	ChallengeType ChallengeType `json:"challenge_type" db:"challenge_type"`
	Title         string        `json:"title" db:"title"`
	Description   string        `json:"description" db:"description"`
	TargetValue   int           `json:"target_value" db:"target_value"`
	CurrentValue  int           `json:"current_value" db:"current_value"`
	XPReward      int64         `json:"xp_reward" db:"xp_reward"`
	IsCompleted   bool          `json:"is_completed" db:"is_completed"`
	CompletedAt   *time.Time    `json:"completed_at" db:"completed_at"`
}

// WeeklyChallenge is an epic task spanning a Monday-to-Sunday week
type WeeklyChallenge struct {
	ID           int64      `json:"id" db:"id"`
	WeekStart    string     `json:"week_start" db:"week_start"`
	WeekEnd      string     `json:"week_end" db:"week_end"`
	TemplateID   *int64     `json:"template_id" db:"template_id"`
	TaskID       *int64     `json:"task_id" db:"task_id"`
	Title        string     `json:"title" db:"title"`
	Theme        string     `json:"theme" db:"theme"`
	Description  string     `json:"description" db:"description"`
	Requirements *string    `json:"requirements" db:"requirements"`
	WordLimitMin *int       `json:"word_limit_min" db:"word_limit_min"`
	WordLimitMax *int       `json:"word_limit_max" db:"word_limit_max"`
	TargetValue  int        `json:"target_value" db:"target_value"` // words
	CurrentValue int        `json:"current_value" db:"current_value"`
	XPReward     int64      `json:"xp_reward" db:"xp_reward"`
	IsCompleted  bool       `json:"is_completed" db:"is_completed"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
}
