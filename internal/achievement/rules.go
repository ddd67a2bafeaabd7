package achievement

import (
	"fmt"
	"strings"

	"github.com/example/inkquest/pkg/models"
)

// Kind is the closed set of requirement types the catalog may use
type Kind int

const (
	KindTaskCount Kind = iota
	KindShortCount
	KindEpicCount
	KindStreakDays
	KindScoreAbove
	KindScoreStreak
	KindGradeS
	KindAttribute
	KindAllAttributes
	KindWordCount
	KindLevel
)

// Trigger is the event that caused an unlock check
type Trigger string

const (
	TriggerTaskComplete  Trigger = "task_complete"
	TriggerShortComplete Trigger = "short_complete"
	TriggerEpicComplete  Trigger = "epic_complete"
	TriggerStreakUpdate  Trigger = "streak_update"
	TriggerScoreReceived Trigger = "score_received"
	TriggerAttrUpdate    Trigger = "attr_update"
	TriggerWordsUpdate   Trigger = "words_update"
	TriggerLevelUp       Trigger = "level_up"
)

// ParseTrigger validates a trigger code
func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(s); t {
	case TriggerTaskComplete, TriggerShortComplete, TriggerEpicComplete, TriggerStreakUpdate,
		TriggerScoreReceived, TriggerAttrUpdate, TriggerWordsUpdate, TriggerLevelUp:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

// gradeSScore is the minimum score counted as an S grade
const gradeSScore = 95

// scoreStreakMin is the score every record of a score streak must reach
const scoreStreakMin = 80

// Requirement is a parsed catalog requirement type
type Requirement struct {
	Kind      Kind
	Attribute models.Attribute // KindAttribute only
}

// ParseRequirement maps a catalog code to its requirement
func ParseRequirement(code string) (Requirement, error) {
	switch code {
	case "task_complete":
		return Requirement{Kind: KindTaskCount}, nil
	case "short_complete":
		return Requirement{Kind: KindShortCount}, nil
	case "epic_complete":
		return Requirement{Kind: KindEpicCount}, nil
	case "streak_days":
		return Requirement{Kind: KindStreakDays}, nil
	case "score_above":
		return Requirement{Kind: KindScoreAbove}, nil
	case "score_streak":
		return Requirement{Kind: KindScoreStreak}, nil
	case "grade_s":
		return Requirement{Kind: KindGradeS}, nil
	case "all_attr":
		return Requirement{Kind: KindAllAttributes}, nil
	case "words_count":
		return Requirement{Kind: KindWordCount}, nil
	case "level_reach":
		return Requirement{Kind: KindLevel}, nil
	}
	if name, ok := strings.CutPrefix(code, "attr_"); ok {
		attr := models.Attribute(name)
		if attr.Concrete() {
			return Requirement{Kind: KindAttribute, Attribute: attr}, nil
		}
	}
	return Requirement{}, fmt.Errorf("unknown requirement type %q", code)
}

// Triggers lists the events that may unlock an achievement of this kind
func (r Requirement) Triggers() []Trigger {
	switch r.Kind {
	case KindTaskCount:
		return []Trigger{TriggerTaskComplete}
	case KindShortCount:
		return []Trigger{TriggerTaskComplete, TriggerShortComplete}
	case KindEpicCount:
		return []Trigger{TriggerTaskComplete, TriggerEpicComplete}
	case KindStreakDays:
		return []Trigger{TriggerStreakUpdate}
	case KindScoreAbove, KindScoreStreak, KindGradeS:
		return []Trigger{TriggerScoreReceived}
	case KindAttribute, KindAllAttributes:
		return []Trigger{TriggerAttrUpdate}
	case KindWordCount:
		return []Trigger{TriggerWordsUpdate, TriggerTaskComplete}
	case KindLevel:
		return []Trigger{TriggerLevelUp}
	}
	return nil
}

// Accepts reports whether trigger may unlock an achievement of this kind
func (r Requirement) Accepts(trigger Trigger) bool {
	for _, t := range r.Triggers() {
		if t == trigger {
			return true
		}
	}
	return false
}
