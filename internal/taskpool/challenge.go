package taskpool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

const (
	highScore         = 80
	weeklyDefaultGoal = 1000 // words, when the epic template has no minimum
	weeklyXP          = 200
)

type dailyKind struct {
	Type        models.ChallengeType
	Title       string
	Description string // formatted with the target
	Target      int
	XP          int64
}

var dailyKinds = []dailyKind{
	{models.ChallengeTaskCount, "Warm-up", "Complete %d micro tasks today", 3, 50},
	{models.ChallengeWordCount, "Word flow", "Write %d words today", 500, 50},
	{models.ChallengeShortComplete, "Story day", "Complete %d short task(s) today", 1, 60},
	{models.ChallengeScoreAbove, "Quality day", "Score 80 or more on %d task(s) today", 1, 70},
}

var errWeeklyExists = errors.New("weekly challenge already exists")

// Challenges manages the daily goal and the weekly epic task
type Challenges struct {
	db     *sqlx.DB
	ledger *progression.Ledger
	log    *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChallenges creates a challenge manager that pays rewards through ledger
func NewChallenges(db *sqlx.DB, ledger *progression.Ledger, log *logger.Logger, rng *rand.Rand) *Challenges {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Challenges{db: db, ledger: ledger, log: log, rng: rng}
}

// ScaleTarget raises a challenge target by 10% per level above the first
func ScaleTarget(target, level int) int {
	if level < 1 {
		level = 1
	}
	scaled := float64(target) * (1 + float64(level-1)*0.1)
	return int(math.Ceil(scaled - 1e-9))
}

// WeekStart returns the Monday of the week containing t
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func (c *Challenges) pick(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}

func (c *Challenges) level(ctx context.Context) (int, error) {
	view, err := c.ledger.Profile(ctx)
	if err != nil {
		return 0, err
	}
	return view.CurrentLevel, nil
}

// Daily returns today's challenge, creating it on first use
func (c *Challenges) Daily(ctx context.Context) (*models.DailyChallenge, error) {
	repo := database.NewChallengeRepository(c.db)
	today := progression.DateOf(c.ledger.Now())
	existing, err := repo.GetDaily(ctx, today)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	level, err := c.level(ctx)
	if err != nil {
		return nil, err
	}
	kind := dailyKinds[c.pick(len(dailyKinds))]
	target := ScaleTarget(kind.Target, level)
	err = repo.CreateDaily(ctx, &models.DailyChallenge{
		ChallengeDate: today,
		ChallengeType: kind.Type,
		Title:         kind.Title,
		Description:   fmt.Sprintf(kind.Description, target),
		TargetValue:   target,
		XPReward:      kind.XP,
	})
	if err != nil {
		return nil, err
	}
	created, err := repo.GetDaily(ctx, today)
	if err != nil {
		return nil, err
	}
	c.log.Info("daily challenge created", "date", today, "type", created.ChallengeType, "target", created.TargetValue)
	return created, nil
}

// Weekly returns this week's challenge, creating it and its epic task on
// first use. It returns nil without error when there is no epic template.
func (c *Challenges) Weekly(ctx context.Context) (*models.WeeklyChallenge, error) {
	repo := database.NewChallengeRepository(c.db)
	now := c.ledger.Now()
	start := WeekStart(now)
	weekStart := progression.DateOf(start)
	existing, err := repo.GetWeekly(ctx, weekStart)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	level, err := c.level(ctx)
	if err != nil {
		return nil, err
	}

	var created *models.WeeklyChallenge
	err = database.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		templates := database.NewTemplateRepository(tx)
		sample, err := templates.RandomActive(ctx, models.TierEpic, 1)
		if err != nil {
			return err
		}
		if len(sample) == 0 {
			return nil
		}
		tmpl := sample[0]

		task := FromTemplate(tmpl, weekStart, 0, now)
		if err := database.NewDailyTaskRepository(tx).Create(ctx, task); err != nil {
			return err
		}
		if err := templates.IncrementUseCount(ctx, tmpl.ID); err != nil {
			return err
		}

		goal := weeklyDefaultGoal
		if tmpl.WordLimitMin != nil && *tmpl.WordLimitMin > 0 {
			goal = *tmpl.WordLimitMin
		}
		theme := tmpl.Title
		if tmpl.Tags != nil && *tmpl.Tags != "" {
			theme = *tmpl.Tags
		}
		wc := &models.WeeklyChallenge{
			WeekStart:    weekStart,
			WeekEnd:      progression.DateOf(start.AddDate(0, 0, 6)),
			TemplateID:   task.TemplateID,
			TaskID:       &task.ID,
			Title:        tmpl.Title,
			Theme:        theme,
			Description:  tmpl.Description,
			Requirements: tmpl.Requirements,
			WordLimitMin: tmpl.WordLimitMin,
			WordLimitMax: tmpl.WordLimitMax,
			TargetValue:  ScaleTarget(goal, level),
			XPReward:     weeklyXP,
		}
		ok, err := database.NewChallengeRepository(tx).CreateWeekly(ctx, wc)
		if err != nil {
			return err
		}
		if !ok {
			return errWeeklyExists
		}
		created = wc
		return nil
	})
	if err != nil && !errors.Is(err, errWeeklyExists) {
		return nil, err
	}
	if err == nil && created == nil {
		return nil, nil
	}

	weekly, err := repo.GetWeekly(ctx, weekStart)
	if err != nil {
		return nil, err
	}
	if created != nil {
		c.log.Info("weekly challenge created", "week", weekStart, "title", weekly.Title, "task_id", *weekly.TaskID)
	}
	return weekly, nil
}

// Progress reports the state of both challenges after a completion
type Progress struct {
	Daily           *models.DailyChallenge     `json:"daily,omitempty"`
	DailyCompleted  bool                       `json:"daily_completed"`
	Weekly          *models.WeeklyChallenge    `json:"weekly,omitempty"`
	WeeklyCompleted bool                       `json:"weekly_completed"`
	Grants          []*progression.GrantResult `json:"grants,omitempty"`
}

// Record recomputes the progress of today's and this week's challenges from
// the completed task records, closing and paying a challenge once its
// target is reached. Calling it again changes nothing.
func (c *Challenges) Record(ctx context.Context) (*Progress, error) {
	daily, err := c.Daily(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily challenge: %w", err)
	}
	weekly, err := c.Weekly(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load weekly challenge: %w", err)
	}

	now := c.ledger.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := WeekStart(dayStart)

	res := &Progress{}
	err = database.WithTx(ctx, c.db, func(tx *sqlx.Tx) error {
		records := database.NewTaskRecordRepository(tx)
		repo := database.NewChallengeRepository(tx)

		day, err := records.CompletionTotals(ctx, dayStart, dayStart.AddDate(0, 0, 1), highScore)
		if err != nil {
			return err
		}
		if !daily.IsCompleted {
			daily.CurrentValue = dailyValue(daily.ChallengeType, day)
			if err := repo.SetDailyProgress(ctx, daily.ID, daily.CurrentValue); err != nil {
				return err
			}
			if daily.CurrentValue >= daily.TargetValue {
				closed, err := repo.CompleteDaily(ctx, daily.ID, now)
				if err != nil {
					return err
				}
				if closed {
					grant, err := c.pay(ctx, tx, progression.SourceDailyChallenge, daily.ID, daily.XPReward, daily.Title)
					if err != nil {
						return err
					}
					res.Grants = append(res.Grants, grant)
					daily.IsCompleted = true
					daily.CompletedAt = &now
					res.DailyCompleted = true
				}
			}
		}
		res.Daily = daily

		if weekly == nil {
			return nil
		}
		if !weekly.IsCompleted {
			week, err := records.CompletionTotals(ctx, weekStart, weekStart.AddDate(0, 0, 7), highScore)
			if err != nil {
				return err
			}
			weekly.CurrentValue = week.EpicWords
			if err := repo.SetWeeklyProgress(ctx, weekly.ID, weekly.CurrentValue); err != nil {
				return err
			}
			if weekly.CurrentValue >= weekly.TargetValue {
				closed, err := repo.CompleteWeekly(ctx, weekly.ID, now)
				if err != nil {
					return err
				}
				if closed {
					grant, err := c.pay(ctx, tx, progression.SourceWeeklyChallenge, weekly.ID, weekly.XPReward, weekly.Title)
					if err != nil {
						return err
					}
					res.Grants = append(res.Grants, grant)
					weekly.IsCompleted = true
					weekly.CompletedAt = &now
					res.WeeklyCompleted = true
				}
			}
		}
		res.Weekly = weekly
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.DailyCompleted {
		c.log.Info("daily challenge completed", "id", daily.ID, "xp", daily.XPReward)
	}
	if res.WeeklyCompleted {
		c.log.Info("weekly challenge completed", "id", weekly.ID, "xp", weekly.XPReward)
	}
	return res, nil
}

func (c *Challenges) pay(ctx context.Context, tx *sqlx.Tx, source progression.SourceType, id, xp int64, title string) (*progression.GrantResult, error) {
	return c.ledger.GrantTx(ctx, tx, progression.GrantRequest{
		Source:      source,
		SourceID:    &id,
		Amount:      xp,
		Description: title,
		Once:        true,
	})
}

func dailyValue(t models.ChallengeType, totals *database.CompletionTotals) int {
	switch t {
	case models.ChallengeTaskCount:
		return totals.Micro
	case models.ChallengeWordCount:
		return totals.Words
	case models.ChallengeShortComplete:
		return totals.Short
	case models.ChallengeScoreAbove:
		return totals.HighScores
	}
	return 0
}
