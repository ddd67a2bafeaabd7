package progression

import (
	"fmt"
	"math"

	"github.com/example/inkquest/pkg/models"
)

// SourceType identifies why XP was granted
type SourceType string

const (
	SourceMicroComplete     SourceType = "micro_complete"
	SourceShortComplete     SourceType = "short_complete"
	SourceEpicComplete      SourceType = "epic_complete"
	SourcePracticeSubmit    SourceType = "practice_submit"
	SourcePracticeEvaluated SourceType = "practice_evaluated"
	SourceSkillPractice     SourceType = "skill_practice"
	SourceFreewrite         SourceType = "freewrite"
	SourceTypingPractice    SourceType = "typing_practice"
	SourceDailyChallenge    SourceType = "daily_challenge"
	SourceWeeklyChallenge   SourceType = "weekly_challenge"
	SourceStreakBonus       SourceType = "streak_bonus"
	SourceAchievementUnlock SourceType = "achievement_unlock"
)

// sourceRule is the fixed XP formula of a source type:
// base + floor(score*ScoreRate) + floor(words*WordRate) + floor(accuracy*AccuracyRate).
// Catalog sources take their amount from the catalog row the caller passes.
type sourceRule struct {
	Name         string
	Base         int64
	ScoreRate    float64
	WordRate     float64
	AccuracyRate float64
	Catalog      bool
}

var sourceRules = map[SourceType]sourceRule{
	SourceMicroComplete:     {Name: "Micro task completed", Base: 10},
	SourceShortComplete:     {Name: "Short task completed", Base: 30},
	SourceEpicComplete:      {Name: "Epic task completed", Base: 150},
	SourcePracticeSubmit:    {Name: "Practice submitted", Base: 15},
	SourcePracticeEvaluated: {Name: "Practice evaluated", ScoreRate: 0.25},
	SourceSkillPractice:     {Name: "Skill practice", Base: 20},
	SourceFreewrite:         {Name: "Free writing", WordRate: 0.05},
	SourceTypingPractice:    {Name: "Typing practice", Base: 5, AccuracyRate: 0.2},
	SourceDailyChallenge:    {Name: "Daily challenge completed", Catalog: true},
	SourceWeeklyChallenge:   {Name: "Weekly challenge completed", Catalog: true},
	SourceStreakBonus:       {Name: "Streak bonus", Catalog: true},
	SourceAchievementUnlock: {Name: "Achievement unlocked", Catalog: true},
}

// CompletionSource returns the source type paid for completing a task of a tier
func CompletionSource(tier models.Tier) (SourceType, error) {
	switch tier {
	case models.TierMicro:
		return SourceMicroComplete, nil
	case models.TierShort:
		return SourceShortComplete, nil
	case models.TierEpic:
		return SourceEpicComplete, nil
	}
	return "", fmt.Errorf("unknown tier %q", tier)
}

// ParseSource validates a source type code
func ParseSource(s string) (SourceType, error) {
	if _, ok := sourceRules[SourceType(s)]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return SourceType(s), nil
}

func (r sourceRule) baseAmount(req GrantRequest) (int64, error) {
	if r.Catalog {
		if req.Amount < 0 {
			return 0, fmt.Errorf("%w: %d", ErrNegativeAmount, req.Amount)
		}
		return req.Amount, nil
	}
	amount := r.Base
	if r.ScoreRate > 0 {
		amount += int64(math.Floor(float64(req.Score) * r.ScoreRate))
	}
	if r.WordRate > 0 {
		amount += int64(math.Floor(float64(req.WordCount) * r.WordRate))
	}
	if r.AccuracyRate > 0 {
		amount += int64(math.Floor(req.Accuracy * r.AccuracyRate))
	}
	if amount < 0 {
		amount = 0
	}
	return amount, nil
}
