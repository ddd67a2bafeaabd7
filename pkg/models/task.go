package models

import (
	"fmt"
	"time"
)

// Tier is the size class of a writing task
type Tier string

const (
	TierMicro Tier = "micro"
	TierShort Tier = "short"
	TierEpic  Tier = "epic"
)

// ParseTier validates a tier code
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierMicro, TierShort, TierEpic:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// TierReward holds the default rewards of a tier
type TierReward struct {
	XP   int64
	Attr int
}

// DefaultReward returns the reward a task of this tier pays when the
// template does not say otherwise
func (t Tier) DefaultReward() TierReward {
	switch t {
	case TierMicro:
		return TierReward{XP: 10, Attr: 1}
	case TierShort:
		return TierReward{XP: 30, Attr: 2}
	case TierEpic:
		return TierReward{XP: 150, Attr: 5}
	}
	return TierReward{}
}

// Difficulty of a task
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates a difficulty code
func ParseDifficulty(s string) (Difficulty, error) {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyNormal, DifficultyHard:
		return Difficulty(s), nil
	}
	return "", fmt.Errorf("unknown difficulty %q", s)
}

// TaskSource tells how a daily task entered the pool
type TaskSource string

const (
	SourcePreset    TaskSource = "preset"
	SourceGenerated TaskSource = "generated"
)

// RecordStatus is the lifecycle state of a task record
type RecordStatus string

const (
	StatusDraft     RecordStatus = "draft"
	StatusSubmitted RecordStatus = "submitted"
	StatusCompleted RecordStatus = "completed"
)

// TaskTemplate is a reusable prompt in the template catalog
type TaskTemplate struct {
	ID           int64     `json:"id" db:"id"`
	Tier         Tier      `json:"tier" db:"tier"`
	Code         string    `json:"code" db:"code"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	Requirements *string   `json:"requirements" db:"requirements"`
	TimeLimit    *int      `json:"time_limit" db:"time_limit"` // minutes
	WordLimitMin *int      `json:"word_limit_min" db:"word_limit_min"`
	WordLimitMax *int      `json:"word_limit_max" db:"word_limit_max"`
	AttrType     Attribute `json:"attr_type" db:"attr_type"`
	XPReward     int64     `json:"xp_reward" db:"xp_reward"`
	AttrReward   int       `json:"attr_reward" db:"attr_reward"`
	Difficulty   string    `json:"difficulty" db:"difficulty"`
	Tags         *string   `json:"tags" db:"tags"`
	UseCount     int       `json:"use_count" db:"use_count"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DailyTask is a concrete task offered on one calendar date
type DailyTask struct {
	ID           int64      `json:"id" db:"id"`
	TaskDate     string     `json:"task_date" db:"task_date"`
	TemplateID   *int64     `json:"template_id" db:"template_id"`
	Tier         Tier       `json:"tier" db:"tier"`
	Title        string     `json:"title" db:"title"`
	Description  string     `json:"description" db:"description"`
	Requirements *string    `json:"requirements" db:"requirements"`
	TimeLimit    *int       `json:"time_limit" db:"time_limit"`
	WordLimitMin *int       `json:"word_limit_min" db:"word_limit_min"`
	WordLimitMax *int       `json:"word_limit_max" db:"word_limit_max"`
	AttrType     Attribute  `json:"attr_type" db:"attr_type"`
	XPReward     int64      `json:"xp_reward" db:"xp_reward"`
	AttrReward   int        `json:"attr_reward" db:"attr_reward"`
	Difficulty   string     `json:"difficulty" db:"difficulty"`
	Source       TaskSource `json:"source" db:"source"`
	ContentHash  string     `json:"content_hash" db:"content_hash"`
	IsClaimed    bool       `json:"is_claimed" db:"is_claimed"`
	IsCompleted  bool       `json:"is_completed" db:"is_completed"`
	SortOrder    int        `json:"sort_order" db:"sort_order"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// TaskRecord is one attempt at a daily task
type TaskRecord struct {
	ID          int64        `json:"id" db:"id"`
	TaskID      int64        `json:"task_id" db:"task_id"`
	Tier        Tier         `json:"tier" db:"tier"`
	Status      RecordStatus `json:"status" db:"status"`
	Content     string       `json:"content" db:"content"`
	WordCount   int          `json:"word_count" db:"word_count"`
	TimeSpent   int          `json:"time_spent" db:"time_spent"` // seconds
	Score       *int         `json:"score" db:"score"`
	Feedback    *string      `json:"feedback" db:"feedback"` // evaluation JSON
	XPEarned    int64        `json:"xp_earned" db:"xp_earned"`
	AttrEarned  int          `json:"attr_earned" db:"attr_earned"`
	AttrType    *string      `json:"attr_type" db:"attr_type"`
	SubmittedAt *time.Time   `json:"submitted_at" db:"submitted_at"`
	CompletedAt *time.Time   `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}
