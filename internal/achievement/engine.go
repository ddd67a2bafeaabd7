package achievement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

// Context carries event data some rules need
type Context struct {
	Score *int
	Tier  models.Tier
}

// Unlocked is an achievement earned by a CheckUnlocks call
type Unlocked struct {
	models.Achievement
	UnlockedAt time.Time                `json:"unlocked_at"`
	XPAwarded  int64                    `json:"xp_awarded"`
	Grant      *progression.GrantResult `json:"-"`
}

// Engine evaluates the achievement catalog against the profile
type Engine struct {
	db     *sqlx.DB
	ledger *progression.Ledger
	log    *logger.Logger
}

// NewEngine creates a rule engine paying rewards through ledger
func NewEngine(db *sqlx.DB, ledger *progression.Ledger, log *logger.Logger) *Engine {
	return &Engine{db: db, ledger: ledger, log: log}
}

// counters caches aggregate queries for one evaluation pass
type counters struct {
	records   *database.TaskRecordRepository
	completed map[models.Tier]int64
	gradeS    *int64
}

func (c *counters) completedCount(ctx context.Context, tier models.Tier) (int64, error) {
	if n, ok := c.completed[tier]; ok {
		return n, nil
	}
	n, err := c.records.CountCompleted(ctx, tier)
	if err != nil {
		return 0, err
	}
	c.completed[tier] = n
	return n, nil
}

func (c *counters) gradeSCount(ctx context.Context) (int64, error) {
	if c.gradeS != nil {
		return *c.gradeS, nil
	}
	n, err := c.records.CountScoreAtLeast(ctx, gradeSScore)
	if err != nil {
		return 0, err
	}
	c.gradeS = &n
	return n, nil
}

// CheckUnlocks evaluates every locked achievement whose rule listens to
// trigger and unlocks those that are met. Each unlock and its XP reward
// are written in one transaction.
func (e *Engine) CheckUnlocks(ctx context.Context, trigger Trigger, data Context) ([]Unlocked, error) {
	locked, err := database.NewAchievementRepository(e.db).Locked(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := database.NewProfileRepository(e.db).GetOrCreate(ctx, e.ledger.Levels().First().Title, e.ledger.Now())
	if err != nil {
		return nil, err
	}
	c := &counters{records: database.NewTaskRecordRepository(e.db), completed: map[models.Tier]int64{}}

	unlocked := []Unlocked{}
	for _, a := range locked {
		req, err := ParseRequirement(a.RequirementType)
		if err != nil {
			e.log.Warn("skipping achievement with unknown requirement", "code", a.Code, "requirement_type", a.RequirementType)
			continue
		}
		if !req.Accepts(trigger) {
			continue
		}
		met, err := e.met(ctx, req, a.RequirementValue, profile, data, c)
		if err != nil {
			return unlocked, fmt.Errorf("failed to evaluate achievement %s: %w", a.Code, err)
		}
		if !met {
			continue
		}
		u, err := e.unlock(ctx, a)
		if err != nil {
			return unlocked, err
		}
		if u != nil {
			unlocked = append(unlocked, *u)
		}
	}
	return unlocked, nil
}

func (e *Engine) met(ctx context.Context, req Requirement, target int64, p *models.Profile, data Context, c *counters) (bool, error) {
	switch req.Kind {
	case KindScoreAbove:
		return data.Score != nil && int64(*data.Score) >= target, nil
	case KindScoreStreak:
		scores, err := c.records.RecentScores(ctx, int(target))
		if err != nil {
			return false, err
		}
		if int64(len(scores)) < target {
			return false, nil
		}
		for _, s := range scores {
			if s < scoreStreakMin {
				return false, nil
			}
		}
		return true, nil
	case KindAllAttributes:
		for _, a := range models.Attributes() {
			if int64(p.Attribute(a)) < target {
				return false, nil
			}
		}
		return true, nil
	}
	current, err := e.current(ctx, req, p, c)
	if err != nil {
		return false, err
	}
	return current >= target, nil
}

// current returns the profile's value for a counting requirement
func (e *Engine) current(ctx context.Context, req Requirement, p *models.Profile, c *counters) (int64, error) {
	switch req.Kind {
	case KindTaskCount:
		return c.completedCount(ctx, "")
	case KindShortCount:
		return c.completedCount(ctx, models.TierShort)
	case KindEpicCount:
		return c.completedCount(ctx, models.TierEpic)
	case KindStreakDays:
		return int64(p.CurrentStreak), nil
	case KindScoreAbove:
		best, err := c.records.MaxScore(ctx)
		return int64(best), err
	case KindScoreStreak:
		scores, err := c.records.RecentScores(ctx, 100)
		if err != nil {
			return 0, err
		}
		var run int64
		for _, s := range scores {
			if s < scoreStreakMin {
				break
			}
			run++
		}
		return run, nil
	case KindGradeS:
		return c.gradeSCount(ctx)
	case KindAttribute:
		return int64(p.Attribute(req.Attribute)), nil
	case KindAllAttributes:
		lowest := int64(models.MaxAttributeValue)
		for _, a := range models.Attributes() {
			if v := int64(p.Attribute(a)); v < lowest {
				lowest = v
			}
		}
		return lowest, nil
	case KindWordCount:
		return p.TotalWords, nil
	case KindLevel:
		return int64(p.CurrentLevel), nil
	}
	return 0, fmt.Errorf("unhandled requirement kind %d", req.Kind)
}

// unlock records the achievement and pays its reward; it returns nil when
// another caller unlocked it first
func (e *Engine) unlock(ctx context.Context, a models.Achievement) (*Unlocked, error) {
	var u *Unlocked
	err := database.WithTx(ctx, e.db, func(tx *sqlx.Tx) error {
		now := e.ledger.Now()
		ok, err := database.NewAchievementRepository(tx).Unlock(ctx, a.ID, now)
		if err != nil || !ok {
			return err
		}
		id := a.ID
		grant, err := e.ledger.GrantTx(ctx, tx, progression.GrantRequest{
			Source:      progression.SourceAchievementUnlock,
			SourceID:    &id,
			Amount:      a.XPReward,
			Description: "Achievement unlocked: " + a.Name,
		})
		if err != nil {
			return err
		}
		u = &Unlocked{Achievement: a, UnlockedAt: now, XPAwarded: grant.XPAwarded, Grant: grant}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unlock achievement %s: %w", a.Code, err)
	}
	if u != nil {
		e.log.Info("achievement unlocked", "code", a.Code, "xp", u.XPAwarded)
	}
	return u, nil
}

// List returns the whole catalog with unlock state
func (e *Engine) List(ctx context.Context) ([]models.AchievementState, error) {
	return database.NewAchievementRepository(e.db).States(ctx)
}

// CategoryStats counts one category of the catalog
type CategoryStats struct {
	Total    int `json:"total"`
	Unlocked int `json:"unlocked"`
}

// Stats summarizes unlock progress over the catalog
type Stats struct {
	Total      int                      `json:"total"`
	Unlocked   int                      `json:"unlocked"`
	Percent    int                      `json:"percent"`
	Categories map[string]CategoryStats `json:"categories"`
}

// Stats returns unlock counts overall and per category
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	states, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{Total: len(states), Categories: map[string]CategoryStats{}}
	for _, st := range states {
		cat := s.Categories[st.Category]
		cat.Total++
		if st.Unlocked() {
			cat.Unlocked++
			s.Unlocked++
		}
		s.Categories[st.Category] = cat
	}
	if s.Total > 0 {
		s.Percent = s.Unlocked * 100 / s.Total
	}
	return s, nil
}

// Pending is a locked achievement with the profile's progress towards it
type Pending struct {
	models.Achievement
	Current int64 `json:"current"`
	Percent int   `json:"percent"`
}

// Next returns the visible locked achievements closest to completion
func (e *Engine) Next(ctx context.Context, limit int) ([]Pending, error) {
	locked, err := database.NewAchievementRepository(e.db).Locked(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := database.NewProfileRepository(e.db).GetOrCreate(ctx, e.ledger.Levels().First().Title, e.ledger.Now())
	if err != nil {
		return nil, err
	}
	c := &counters{records: database.NewTaskRecordRepository(e.db), completed: map[models.Tier]int64{}}

	pending := []Pending{}
	for _, a := range locked {
		if a.IsHidden {
			continue
		}
		req, err := ParseRequirement(a.RequirementType)
		if err != nil {
			continue
		}
		current, err := e.current(ctx, req, profile, c)
		if err != nil {
			return nil, err
		}
		p := Pending{Achievement: a, Current: current}
		if a.RequirementValue > 0 {
			p.Percent = int(current * 100 / a.RequirementValue)
			if p.Percent > 99 {
				p.Percent = 99
			}
		}
		pending = append(pending, p)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Percent > pending[j].Percent
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
