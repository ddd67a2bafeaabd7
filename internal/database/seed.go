package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

var levelThresholds = []int64{
	0, 100, 250, 475, 812, 1318, 2077, 3215, 4922, 7483,
	11324, 17086, 25729, 38693, 58140, 87310, 131065, 196697, 295146, 442819,
	664328, 996592, 1494988, 2242582, 3363973, 5046060, 7569190, 11353885, 17030928, 25546492,
	38319838, 57479857, 86219886, 129329929, 193994994, 290992591, 436488987, 654733580, 982100470, 1473150805,
	2209726308, 3314589562, 4971884443, 7457826765, 11186740247, 16780110471, 25170165807, 37755248810, 56632873315, 84949310073,
}

var stages = []struct {
	name string
	role string
}{
	{"Novice Village", "Ink Apprentice"},
	{"Technique Tower", "Craft Adept"},
	{"Short Story Forest", "Storyteller"},
	{"Novella Valley", "Novelist"},
	{"Novel Peak", "Grand Author"},
}

var romanRanks = []string{"I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X"}

// Levels returns the built-in level table
func Levels() []models.Level {
	levels := make([]models.Level, len(levelThresholds))
	for i, xp := range levelThresholds {
		stage := stages[i/10]
		levels[i] = models.Level{
			Level:       i + 1,
			RequiredXP:  xp,
			Title:       stage.role + " " + romanRanks[i%10],
			Stage:       stage.name,
			Description: fmt.Sprintf("%s, rank %d of 10", stage.name, i%10+1),
		}
	}
	return levels
}

// StreakRewards returns the built-in streak reward table
func StreakRewards() []models.StreakReward {
	return []models.StreakReward{
		{StreakDays: 1, XPMultiplier: 1.0, BonusXP: 0, Description: "First day of writing"},
		{StreakDays: 2, XPMultiplier: 1.0, BonusXP: 5, Description: "Two days in a row"},
		{StreakDays: 3, XPMultiplier: 1.1, BonusXP: 10, Description: "Three day streak"},
		{StreakDays: 7, XPMultiplier: 1.2, BonusXP: 30, Description: "A full week"},
		{StreakDays: 14, XPMultiplier: 1.3, BonusXP: 50, Description: "Two weeks"},
		{StreakDays: 21, XPMultiplier: 1.4, BonusXP: 80, Description: "Three weeks, a habit is formed"},
		{StreakDays: 30, XPMultiplier: 1.5, BonusXP: 150, Description: "A month of writing"},
		{StreakDays: 60, XPMultiplier: 1.6, BonusXP: 300, Description: "Two months"},
		{StreakDays: 100, XPMultiplier: 1.8, BonusXP: 500, Description: "One hundred days"},
		{StreakDays: 365, XPMultiplier: 2.0, BonusXP: 2000, Description: "A year of ink"},
	}
}

// Achievements returns the built-in achievement catalog
func Achievements() []models.Achievement {
	var list []models.Achievement
	order := 0
	add := func(a models.Achievement) {
		order++
		a.SortOrder = order
		list = append(list, a)
	}

	for _, n := range []int64{1, 2, 5, 10, 20, 50, 100, 200, 500} {
		add(models.Achievement{
			Code: fmt.Sprintf("tasks_%d", n), Name: fmt.Sprintf("%d Tasks", n),
			Description: fmt.Sprintf("Complete %d writing tasks", n), Category: "tasks",
			RequirementType: "task_complete", RequirementValue: n,
			XPReward: min64(1000, 10*n), Icon: "pen",
		})
	}
	for _, n := range []int64{1, 10, 50} {
		add(models.Achievement{
			Code: fmt.Sprintf("short_%d", n), Name: fmt.Sprintf("%d Short Pieces", n),
			Description: fmt.Sprintf("Complete %d short tasks", n), Category: "tasks",
			RequirementType: "short_complete", RequirementValue: n,
			XPReward: 20 * n, Icon: "page",
		})
	}
	for _, n := range []int64{1, 5, 10} {
		add(models.Achievement{
			Code: fmt.Sprintf("epic_%d", n), Name: fmt.Sprintf("%d Epic Works", n),
			Description: fmt.Sprintf("Complete %d epic tasks", n), Category: "tasks",
			RequirementType: "epic_complete", RequirementValue: n,
			XPReward: 100 * n, Icon: "book", IsHidden: n >= 10,
		})
	}
	for _, attr := range models.Attributes() {
		for _, v := range []int64{10, 20, 30, 40, 50, 70, 100} {
			add(models.Achievement{
				Code: fmt.Sprintf("attr_%s_%d", attr, v), Name: fmt.Sprintf("%s %d", attr, v),
				Description: fmt.Sprintf("Raise %s to %d", attr, v), Category: "attributes",
				RequirementType: "attr_" + string(attr), RequirementValue: v,
				XPReward: 25 + v, Icon: "star",
			})
		}
	}
	add(models.Achievement{
		Code: "all_attr_50", Name: "Well Rounded",
		Description: "Raise every attribute to 50", Category: "attributes",
		RequirementType: "all_attr", RequirementValue: 50,
		XPReward: 500, Icon: "crown", IsHidden: true,
	})
	for _, w := range []int64{500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000} {
		add(models.Achievement{
			Code: fmt.Sprintf("words_%d", w), Name: fmt.Sprintf("%d Words", w),
			Description: fmt.Sprintf("Write %d words in total", w), Category: "words",
			RequirementType: "words_count", RequirementValue: w,
			XPReward: min64(2000, int64(math.Ceil(float64(w)/500))), Icon: "scroll",
		})
	}
	for lv := int64(5); lv <= 50; lv += 5 {
		add(models.Achievement{
			Code: fmt.Sprintf("level_%d", lv), Name: fmt.Sprintf("Level %d", lv),
			Description: fmt.Sprintf("Reach level %d", lv), Category: "levels",
			RequirementType: "level_reach", RequirementValue: lv,
			XPReward: lv * 10, Icon: "flag", IsHidden: lv == 50,
		})
	}
	for _, s := range []int64{1, 2, 3, 5, 7, 10, 15, 21, 30, 45, 60, 90, 100, 180, 365} {
		add(models.Achievement{
			Code: fmt.Sprintf("streak_%d", s), Name: fmt.Sprintf("%d Day Streak", s),
			Description: fmt.Sprintf("Write on %d consecutive days", s), Category: "streaks",
			RequirementType: "streak_days", RequirementValue: s,
			XPReward: s * 5, Icon: "flame", IsHidden: s >= 100,
		})
	}
	for _, score := range []int64{80, 85, 90, 95} {
		xp := int64(40)
		if score == 95 {
			xp = 150
		}
		add(models.Achievement{
			Code: fmt.Sprintf("score_%d", score), Name: fmt.Sprintf("Scored %d", score),
			Description: fmt.Sprintf("Receive a score of %d or more", score), Category: "quality",
			RequirementType: "score_above", RequirementValue: score,
			XPReward: xp, Icon: "medal",
		})
	}
	for _, c := range []int64{1, 5, 10, 20, 50} {
		add(models.Achievement{
			Code: fmt.Sprintf("grade_s_%d", c), Name: fmt.Sprintf("%d S Grades", c),
			Description: fmt.Sprintf("Score 95 or more on %d tasks", c), Category: "quality",
			RequirementType: "grade_s", RequirementValue: c,
			XPReward: 50 + 10*c, Icon: "gem", IsHidden: c >= 10,
		})
	}
	add(models.Achievement{
		Code: "score_streak_5", Name: "Consistent Quality",
		Description: "Score 80 or more on five tasks in a row", Category: "quality",
		RequirementType: "score_streak", RequirementValue: 5,
		XPReward: 100, Icon: "chain",
	})
	return list
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

// Templates returns the built-in task template catalog
func Templates() []models.TaskTemplate {
	micro := func(code, title, desc string, attr models.Attribute) models.TaskTemplate {
		r := models.TierMicro.DefaultReward()
		return models.TaskTemplate{
			Tier: models.TierMicro, Code: code, Title: title, Description: desc,
			TimeLimit: intPtr(5), WordLimitMax: intPtr(100),
			AttrType: attr, XPReward: r.XP, AttrReward: r.Attr,
			Difficulty: string(models.DifficultyEasy), IsActive: true,
		}
	}
	short := func(code, title, desc string, attr models.Attribute, req string) models.TaskTemplate {
		r := models.TierShort.DefaultReward()
		return models.TaskTemplate{
			Tier: models.TierShort, Code: code, Title: title, Description: desc, Requirements: strPtr(req),
			TimeLimit: intPtr(20), WordLimitMin: intPtr(150), WordLimitMax: intPtr(350),
			AttrType: attr, XPReward: r.XP, AttrReward: r.Attr,
			Difficulty: string(models.DifficultyNormal), IsActive: true,
		}
	}
	epic := func(code, title, desc, req string) models.TaskTemplate {
		r := models.TierEpic.DefaultReward()
		return models.TaskTemplate{
			Tier: models.TierEpic, Code: code, Title: title, Description: desc, Requirements: strPtr(req),
			WordLimitMin: intPtr(800), WordLimitMax: intPtr(1500),
			AttrType: models.AttrComprehensive, XPReward: r.XP, AttrReward: r.Attr,
			Difficulty: string(models.DifficultyHard), IsActive: true,
		}
	}

	return []models.TaskTemplate{
		micro("micro_stranger", "A Stranger's Hands", "Describe a stranger using only their hands.", models.AttrCharacter),
		micro("micro_habit", "Telling Habit", "Show a character's mood through one small habit, without naming the mood.", models.AttrCharacter),
		micro("micro_want", "One Want", "Write a single paragraph in which a character wants something they cannot ask for.", models.AttrCharacter),
		micro("micro_door", "The Locked Door", "Two people stand on opposite sides of a locked door. Write the moment before one of them speaks.", models.AttrConflict),
		micro("micro_lie", "Small Lie", "Write a moment where a character tells a harmless lie that matters more than they think.", models.AttrConflict),
		micro("micro_rain", "Rain on Glass", "Describe a room during a storm using at least three senses.", models.AttrScene),
		micro("micro_kitchen", "Morning Kitchen", "Describe a kitchen at dawn so the reader knows who lives there.", models.AttrScene),
		micro("micro_station", "Last Train", "Describe an empty station after the last train has left.", models.AttrScene),
		micro("micro_subtext", "Talking Around It", "Write six lines of dialogue where two people avoid the real subject.", models.AttrDialogue),
		micro("micro_interrupt", "Interrupted", "Write an exchange where one speaker keeps being interrupted.", models.AttrDialogue),
		micro("micro_phone", "One Side of a Call", "Write only one side of a phone call so the other side can be inferred.", models.AttrDialogue),
		micro("micro_sprint", "Chase", "Write a chase in short sentences that speed up as it goes.", models.AttrRhythm),
		micro("micro_slow", "Stillness", "Write a long single sentence that captures a slow afternoon.", models.AttrRhythm),
		micro("micro_color", "Without Blue", "Describe the sea without using the word blue.", models.AttrStyle),
		micro("micro_verbs", "Strong Verbs", "Rewrite a plain sentence of your choice three times with sharper verbs.", models.AttrStyle),

		short("short_return", "The Return", "A character comes back to a place they swore they would never see again.", models.AttrCharacter, "Reveal the reason for the oath only through action."),
		short("short_choice", "Two Doors", "A character must choose between loyalty and honesty.", models.AttrConflict, "End on the moment of choice."),
		short("short_market", "Night Market", "Tell a small story set in a crowded night market.", models.AttrScene, "Use the setting to drive the plot."),
		short("short_argument", "The Argument", "Two siblings argue about something trivial that stands for something serious.", models.AttrDialogue, "At least half of the piece is dialogue."),
		short("short_countdown", "Countdown", "A story that takes place in the last five minutes before something happens.", models.AttrRhythm, "Control pace through sentence length."),
		short("short_letter", "Unsent Letter", "Write a letter the narrator will never send.", models.AttrStyle, "Keep a consistent, distinct voice."),
		short("short_inheritance", "Inheritance", "Someone inherits an object they do not understand.", models.AttrCharacter, "Let the object change the character."),

		epic("epic_lighthouse", "The Lighthouse Keeper", "Write a complete story about the last keeper of an automated lighthouse.", "Three scenes, a clear turning point, and an ending that echoes the opening."),
		epic("epic_heist", "The Quiet Heist", "Write a complete story about a theft in which nothing valuable is taken.", "Build tension across at least two reversals."),
		epic("epic_reunion", "Reunion", "Write a complete story about a reunion twenty years late.", "Alternate past and present without losing the reader."),
	}
}

// SeedCatalog inserts the built-in catalogs; existing rows are left untouched
func SeedCatalog(ctx context.Context, db *sqlx.DB, now time.Time) error {
	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, l := range Levels() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO level_config (level, required_xp, title, stage, description)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (level) DO NOTHING
			`, l.Level, l.RequiredXP, l.Title, l.Stage, l.Description)
			if err != nil {
				return fmt.Errorf("failed to seed level %d: %w", l.Level, err)
			}
		}
		for _, s := range StreakRewards() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO streak_rewards (streak_days, xp_multiplier, bonus_xp, description)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (streak_days) DO NOTHING
			`, s.StreakDays, s.XPMultiplier, s.BonusXP, s.Description)
			if err != nil {
				return fmt.Errorf("failed to seed streak reward %d: %w", s.StreakDays, err)
			}
		}
		for _, a := range Achievements() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO achievements (code, name, description, category, requirement_type, requirement_value, xp_reward, icon, is_hidden, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (code) DO NOTHING
			`, a.Code, a.Name, a.Description, a.Category, a.RequirementType, a.RequirementValue, a.XPReward, a.Icon, a.IsHidden, a.SortOrder)
			if err != nil {
				return fmt.Errorf("failed to seed achievement %s: %w", a.Code, err)
			}
		}
		templates := NewTemplateRepository(tx)
		for _, t := range Templates() {
			t := t
			if err := templates.InsertIfMissing(ctx, &t, now); err != nil {
				return err
			}
		}
		return nil
	})
}
