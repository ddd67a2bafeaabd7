package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

const dateLayout = "2006-01-02"

// DateOf formats t as a calendar date in t's location
func DateOf(t time.Time) string {
	return t.Format(dateLayout)
}

// DaysBetween returns the number of calendar days from a to b
func DaysBetween(a, b string) (int, error) {
	ta, err := time.Parse(dateLayout, a)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", a, err)
	}
	tb, err := time.Parse(dateLayout, b)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", b, err)
	}
	return int(tb.Sub(ta).Hours() / 24), nil
}

// TouchResult reports the streak after an activity
type TouchResult struct {
	StreakDays    int                  `json:"streak_days"`
	LongestStreak int                  `json:"longest_streak"`
	Broken        bool                 `json:"broken"`
	Updated       bool                 `json:"updated"`
	Multiplier    float64              `json:"multiplier"`
	Reward        *models.StreakReward `json:"reward,omitempty"`
	BonusXP       int64                `json:"bonus_xp"`
	Bonus         *GrantResult         `json:"bonus,omitempty"`
}

// StreakTracker maintains the consecutive-day counter
type StreakTracker struct {
	db     *sqlx.DB
	ledger *Ledger
	log    *logger.Logger
}

// NewStreakTracker creates a tracker that pays bonuses through ledger
func NewStreakTracker(db *sqlx.DB, ledger *Ledger, log *logger.Logger) *StreakTracker {
	return &StreakTracker{db: db, ledger: ledger, log: log}
}

// Touch records activity for today. Repeated calls on the same date
// change nothing.
func (s *StreakTracker) Touch(ctx context.Context) (*TouchResult, error) {
	var res *TouchResult
	err := database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var err error
		res, err = s.touch(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *StreakTracker) touch(ctx context.Context, tx *sqlx.Tx) (*TouchResult, error) {
	now := s.ledger.now()
	today := DateOf(now)
	profiles := database.NewProfileRepository(tx)

	profile, err := profiles.GetOrCreate(ctx, s.ledger.levels.First().Title, now)
	if err != nil {
		return nil, err
	}

	res := &TouchResult{StreakDays: profile.CurrentStreak, LongestStreak: profile.LongestStreak}
	next := 1
	if profile.LastActivityDate != nil {
		gap, err := DaysBetween(*profile.LastActivityDate, today)
		if err != nil {
			return nil, err
		}
		switch {
		case gap <= 0:
			// same day, or the clock moved backwards
			res.Multiplier, err = multiplierFor(ctx, tx, profile.CurrentStreak)
			return res, err
		case gap == 1:
			next = profile.CurrentStreak + 1
		default:
			res.Broken = profile.CurrentStreak > 0
		}
	}

	longest := profile.LongestStreak
	if next > longest {
		longest = next
	}
	if err := profiles.SetStreak(ctx, next, longest, today, now); err != nil {
		return nil, err
	}
	res.StreakDays = next
	res.LongestStreak = longest
	res.Updated = true
	if res.Broken {
		s.log.Info("streak broken", "previous", profile.CurrentStreak, "last_activity", *profile.LastActivityDate)
	}

	reward, err := database.NewStreakRewardRepository(tx).Exact(ctx, next)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to get streak reward: %w", err)
	}
	if reward != nil {
		res.Reward = reward
		if reward.BonusXP > 0 {
			bonus, err := s.ledger.GrantTx(ctx, tx, GrantRequest{
				Source:      SourceStreakBonus,
				Amount:      reward.BonusXP,
				Description: fmt.Sprintf("%d day streak: %s", next, reward.Description),
			})
			if err != nil {
				return nil, err
			}
			res.Bonus = bonus
			res.BonusXP = bonus.XPAwarded
		}
	}

	res.Multiplier, err = multiplierFor(ctx, tx, next)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Multiplier returns the XP multiplier that applies at a streak length
func (s *StreakTracker) Multiplier(ctx context.Context, streak int) (float64, error) {
	return multiplierFor(ctx, s.db, streak)
}

// RewardFor returns the reward configured for exactly this streak length, or nil
func (s *StreakTracker) RewardFor(ctx context.Context, streak int) (*models.StreakReward, error) {
	reward, err := database.NewStreakRewardRepository(s.db).Exact(ctx, streak)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return reward, err
}
