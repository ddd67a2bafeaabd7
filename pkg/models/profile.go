package models

import (
	"fmt"
	"time"
)

// Attribute is one of the six writing dimensions tracked on the profile
type Attribute string

const (
	AttrCharacter Attribute = "character"
	AttrConflict  Attribute = "conflict"
	AttrScene     Attribute = "scene"
	AttrDialogue  Attribute = "dialogue"
	AttrRhythm    Attribute = "rhythm"
	AttrStyle     Attribute = "style"

	// AttrComprehensive marks a task that trains all dimensions; it resolves
	// to one random attribute when the reward is granted.
	AttrComprehensive Attribute = "comprehensive"
)

// MaxAttributeValue is the ceiling of every attribute
const MaxAttributeValue = 100

// Attributes lists the six concrete attributes in display order
func Attributes() []Attribute {
	return []Attribute{AttrCharacter, AttrConflict, AttrScene, AttrDialogue, AttrRhythm, AttrStyle}
}

// ParseAttribute validates an attribute code, comprehensive included
func ParseAttribute(s string) (Attribute, error) {
	a := Attribute(s)
	if a == AttrComprehensive || a.Concrete() {
		return a, nil
	}
	return "", fmt.Errorf("unknown attribute %q", s)
}

// Concrete reports whether the attribute maps to a profile column
func (a Attribute) Concrete() bool {
	switch a {
	case AttrCharacter, AttrConflict, AttrScene, AttrDialogue, AttrRhythm, AttrStyle:
		return true
	}
	return false
}

// Column returns the profile column holding the attribute value
func (a Attribute) Column() string {
	return "attr_" + string(a)
}

// Profile is the single progression profile of the platform
type Profile struct {
	ID               int64     `json:"id" db:"id"`
	Nickname         string    `json:"nickname" db:"nickname"`
	CurrentLevel     int       `json:"current_level" db:"current_level"`
	CurrentTitle     string    `json:"current_title" db:"current_title"`
	TotalXP          int64     `json:"total_xp" db:"total_xp"`
	AttrCharacter    int       `json:"attr_character" db:"attr_character"`
	AttrConflict     int       `json:"attr_conflict" db:"attr_conflict"`
	AttrScene        int       `json:"attr_scene" db:"attr_scene"`
	AttrDialogue     int       `json:"attr_dialogue" db:"attr_dialogue"`
	AttrRhythm       int       `json:"attr_rhythm" db:"attr_rhythm"`
	AttrStyle        int       `json:"attr_style" db:"attr_style"`
	CurrentStreak    int       `json:"current_streak" db:"current_streak"`
	LongestStreak    int       `json:"longest_streak" db:"longest_streak"`
	LastActivityDate *string   `json:"last_activity_date" db:"last_activity_date"` // YYYY-MM-DD, nil before the first activity
	TotalPractices   int       `json:"total_practices" db:"total_practices"`
	TotalWords       int64     `json:"total_words" db:"total_words"`
	TotalTimeSpent   int64     `json:"total_time_spent" db:"total_time_spent"` // seconds
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Attribute returns the current value of a concrete attribute
func (p *Profile) Attribute(a Attribute) int {
	switch a {
	case AttrCharacter:
		return p.AttrCharacter
	case AttrConflict:
		return p.AttrConflict
	case AttrScene:
		return p.AttrScene
	case AttrDialogue:
		return p.AttrDialogue
	case AttrRhythm:
		return p.AttrRhythm
	case AttrStyle:
		return p.AttrStyle
	}
	return 0
}

// AttributeMap returns all six attributes keyed by name
func (p *Profile) AttributeMap() map[Attribute]int {
	m := make(map[Attribute]int, 6)
	for _, a := range Attributes() {
		m[a] = p.Attribute(a)
	}
	return m
}

// XPTransaction is an append-only ledger entry
type XPTransaction struct {
	ID          int64     `json:"id" db:"id"`
	SourceType  string    `json:"source_type" db:"source_type"`
	SourceID    *int64    `json:"source_id" db:"source_id"`
	XPAmount    int64     `json:"xp_amount" db:"xp_amount"`
	Multiplier  float64   `json:"multiplier" db:"multiplier"`
	AttrType    *string   `json:"attr_type" db:"attr_type"`
	AttrAmount  int       `json:"attr_amount" db:"attr_amount"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Level is one row of the static level table
type Level struct {
	Level       int    `json:"level" db:"level"`
	RequiredXP  int64  `json:"required_xp" db:"required_xp"`
	Title       string `json:"title" db:"title"`
	Stage       string `json:"stage" db:"stage"`
	Description string `json:"description" db:"description"`
}

// StreakReward configures the multiplier and one-off bonus for a streak length
type StreakReward struct {
	StreakDays   int     `json:"streak_days" db:"streak_days"`
	XPMultiplier float64 `json:"xp_multiplier" db:"xp_multiplier"`
	BonusXP      int64   `json:"bonus_xp" db:"bonus_xp"`
	Description  string  `json:"description" db:"description"`
}
