package models

import "time"

// Achievement is a catalog entry evaluated by the rule engine
type Achievement struct {
	ID               int64  `json:"id" db:"id"`
	Code             string `json:"code" db:"code"`
	Name             string `json:"name" db:"name"`
	Description      string `json:"description" db:"description"`
	Category         string `json:"category" db:"category"`
	RequirementType  string `json:"requirement_type" db:"requirement_type"`
	RequirementValue int64  `json:"requirement_value" db:"requirement_value"`
	XPReward         int64  `json:"xp_reward" db:"xp_reward"`
	Icon             string `json:"icon" db:"icon"`
	IsHidden         bool   `json:"is_hidden" db:"is_hidden"`
	SortOrder        int    `json:"sort_order" db:"sort_order"`
}

// AchievementUnlock records that an achievement was earned
type AchievementUnlock struct {
	ID            int64     `json:"id" db:"id"`
	AchievementID int64     `json:"achievement_id" db:"achievement_id"`
	UnlockedAt    time.Time `json:"unlocked_at" db:"unlocked_at"`
}

// AchievementState is a catalog entry joined with its unlock time, if any
type AchievementState struct {
	Achievement
	UnlockedAt *time.Time `json:"unlocked_at" db:"unlocked_at"`
}

// Unlocked reports whether the achievement has been earned
func (s AchievementState) Unlocked() bool {
	return s.UnlockedAt != nil
}
