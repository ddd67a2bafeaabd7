package progression

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
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

var (
	ErrUnknownSource    = errors.New("unknown xp source")
	ErrNegativeAmount   = errors.New("xp amount must not be negative")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrNotOnceSource    = errors.New("xp source cannot be granted once per id")
)

// GrantRequest describes one XP award
type GrantRequest struct {
	Source      SourceType
	SourceID    *int64
	Amount      int64 // catalog sources only
	Score       int
	WordCount   int
	TimeSpent   int // seconds
	Accuracy    float64
	Attribute   models.Attribute
	AttrAmount  int
	Practice    bool // count towards total_practices
	Description string
	// Once skips the grant when a transaction for Source and SourceID
	// exists. Only database.OnceSources with a SourceID qualify.
	Once bool
}

// GrantResult reports what a grant changed
type GrantResult struct {
	TransactionID  int64            `json:"transaction_id"`
	XPAwarded      int64            `json:"xp_awarded"`
	BaseXP         int64            `json:"base_xp"`
	Multiplier     float64          `json:"multiplier"`
	Attribute      models.Attribute `json:"attribute,omitempty"`
	AttrAmount     int              `json:"attr_amount"`
	TotalXP        int64            `json:"total_xp"`
	PreviousLevel  int              `json:"previous_level"`
	Level          models.Level     `json:"level"`
	LeveledUp      bool             `json:"leveled_up"`
	AlreadyGranted bool             `json:"already_granted"`
	Profile        *ProfileView     `json:"profile,omitempty"`
}

// ProfileView is the profile together with its derived level progress
type ProfileView struct {
	*models.Profile
	Progress             Progress                 `json:"progress"`
	Attributes           map[models.Attribute]int `json:"attributes"`
	AchievementsUnlocked int                      `json:"achievements_unlocked"`
	AchievementsTotal    int                      `json:"achievements_total"`
}

// Ledger owns every change to the profile's XP, attributes and level
type Ledger struct {
	db     *sqlx.DB
	levels *LevelTable
	log    *logger.Logger
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLedger creates a ledger. now supplies the time in the platform's
// timezone; rng picks the attribute of comprehensive tasks.
func NewLedger(db *sqlx.DB, levels *LevelTable, log *logger.Logger, now func() time.Time, rng *rand.Rand) *Ledger {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Ledger{db: db, levels: levels, log: log, now: now, rng: rng}
}

// Levels returns the level table in use
func (l *Ledger) Levels() *LevelTable {
	return l.levels
}

// Now returns the ledger's current time
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Grant awards XP in its own transaction and returns the refreshed profile
func (l *Ledger) Grant(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	var res *GrantResult
	err := database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		var err error
		res, err = l.GrantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	res.Profile, err = l.Profile(ctx)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GrantTx awards XP inside the caller's transaction. Every write of the
// grant goes through tx.
func (l *Ledger) GrantTx(ctx context.Context, tx *sqlx.Tx, req GrantRequest) (*GrantResult, error) {
	rule, ok := sourceRules[req.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, req.Source)
	}
	if req.Attribute != "" && req.Attribute != models.AttrComprehensive && !req.Attribute.Concrete() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, req.Attribute)
	}

	txs := database.NewXPTransactionRepository(tx)
	profiles := database.NewProfileRepository(tx)
	now := l.now()

	if req.Once && (req.SourceID == nil || !database.IsOnceSource(string(req.Source))) {
		return nil, fmt.Errorf("%w: %q", ErrNotOnceSource, req.Source)
	}

	profile, err := profiles.GetOrCreate(ctx, l.levels.First().Title, now)
	if err != nil {
		return nil, err
	}

	base, err := rule.baseAmount(req)
	if err != nil {
		return nil, err
	}
	multiplier, err := multiplierFor(ctx, tx, profile.CurrentStreak)
	if err != nil {
		return nil, err
	}
	xp := applyMultiplier(base, multiplier)

	attr := req.Attribute
	if attr == models.AttrComprehensive {
		attr = l.randomAttribute()
	}
	applied := 0
	if attr != "" && req.AttrAmount > 0 {
		applied = req.AttrAmount
		if room := models.MaxAttributeValue - profile.Attribute(attr); applied > room {
			applied = room
		}
		if applied < 0 {
			applied = 0
		}
	}

	description := req.Description
	if description == "" {
		description = rule.Name
	}
	entry := &models.XPTransaction{
		SourceType:  string(req.Source),
		SourceID:    req.SourceID,
		XPAmount:    xp,
		Multiplier:  multiplier,
		AttrAmount:  applied,
		Description: description,
		CreatedAt:   now,
	}
	if attr != "" {
		a := string(attr)
		entry.AttrType = &a
	}
	if req.Once {
		created, err := txs.CreateOnce(ctx, entry)
		if err != nil {
			return nil, err
		}
		if !created {
			// the unique once index kept an earlier grant
			existing, err := txs.FindBySource(ctx, string(req.Source), *req.SourceID)
			if err != nil {
				return nil, fmt.Errorf("failed to read previous grant: %w", err)
			}
			return l.existingResult(ctx, profiles, existing)
		}
	} else if err := txs.Create(ctx, entry); err != nil {
		return nil, err
	}

	delta := database.ProfileDelta{XP: xp, Words: req.WordCount, TimeSpent: req.TimeSpent}
	if req.Practice {
		delta.Practices = 1
	}
	if err := profiles.ApplyDelta(ctx, delta, now); err != nil {
		return nil, err
	}
	if applied > 0 {
		if _, err := profiles.AddAttribute(ctx, attr, applied, models.MaxAttributeValue, now); err != nil {
			return nil, err
		}
	}

	total := profile.TotalXP + xp
	level := l.levels.Resolve(total, profile.CurrentLevel)
	res := &GrantResult{
		TransactionID: entry.ID,
		XPAwarded:     xp,
		BaseXP:        base,
		Multiplier:    multiplier,
		Attribute:     attr,
		AttrAmount:    applied,
		TotalXP:       total,
		PreviousLevel: profile.CurrentLevel,
		Level:         level,
	}
	if level.Level > profile.CurrentLevel {
		if err := profiles.SetLevel(ctx, level.Level, level.Title, now); err != nil {
			return nil, err
		}
		res.LeveledUp = true
		l.log.Info("level up", "from", profile.CurrentLevel, "to", level.Level, "title", level.Title, "total_xp", total)
	}
	return res, nil
}

func (l *Ledger) existingResult(ctx context.Context, profiles *database.ProfileRepository, t *models.XPTransaction) (*GrantResult, error) {
	profile, err := profiles.GetOrCreate(ctx, l.levels.First().Title, l.now())
	if err != nil {
		return nil, err
	}
	level, _ := l.levels.Get(profile.CurrentLevel)
	res := &GrantResult{
		TransactionID:  t.ID,
		XPAwarded:      t.XPAmount,
		Multiplier:     t.Multiplier,
		AttrAmount:     t.AttrAmount,
		TotalXP:        profile.TotalXP,
		PreviousLevel:  profile.CurrentLevel,
		Level:          level,
		AlreadyGranted: true,
	}
	if t.AttrType != nil {
		res.Attribute = models.Attribute(*t.AttrType)
	}
	return res, nil
}

func (l *Ledger) randomAttribute() models.Attribute {
	attrs := models.Attributes()
	l.mu.Lock()
	defer l.mu.Unlock()
	return attrs[l.rng.Intn(len(attrs))]
}

// applyMultiplier floors base*multiplier; the epsilon keeps products such
// as 50*1.4 from flooring to 69
func applyMultiplier(base int64, multiplier float64) int64 {
	return int64(math.Floor(float64(base)*multiplier + 1e-9))
}

// multiplierFor returns the multiplier of the largest configured streak
// length not above streak; 1.0 without an active streak
func multiplierFor(ctx context.Context, db sqlx.ExtContext, streak int) (float64, error) {
	if streak <= 0 {
		return 1.0, nil
	}
	reward, err := database.NewStreakRewardRepository(db).NearestBelow(ctx, streak)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 1.0, nil
		}
		return 0, fmt.Errorf("failed to get streak multiplier: %w", err)
	}
	return reward.XPMultiplier, nil
}

// Profile returns the profile with its level progress and achievement counts
func (l *Ledger) Profile(ctx context.Context) (*ProfileView, error) {
	profile, err := database.NewProfileRepository(l.db).GetOrCreate(ctx, l.levels.First().Title, l.now())
	if err != nil {
		return nil, err
	}
	achievements := database.NewAchievementRepository(l.db)
	unlocked, err := achievements.CountUnlocked(ctx)
	if err != nil {
		return nil, err
	}
	total, err := achievements.CountVisible(ctx)
	if err != nil {
		return nil, err
	}
	return &ProfileView{
		Profile:              profile,
		Progress:             l.levels.Progress(profile.TotalXP, profile.CurrentLevel),
		Attributes:           profile.AttributeMap(),
		AchievementsUnlocked: unlocked,
		AchievementsTotal:    total,
	}, nil
}

// History is a page of the ledger
type History struct {
	Transactions []models.XPTransaction `json:"transactions"`
	Total        int                    `json:"total"`
}

// History returns ledger entries newest first
func (l *Ledger) History(ctx context.Context, limit, offset int) (*History, error) {
	if limit <= 0 {
		limit = 20
	}
	repo := database.NewXPTransactionRepository(l.db)
	txs, err := repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &History{Transactions: txs, Total: total}, nil
}

// DayStats summarizes the XP earned today
type DayStats struct {
	Date    string                 `json:"date"`
	XP      int64                  `json:"xp"`
	Count   int                    `json:"count"`
	Sources []database.SourceTotal `json:"sources"`
}

// TodayStats returns today's XP grouped by source
func (l *Ledger) TodayStats(ctx context.Context) (*DayStats, error) {
	now := l.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	totals, err := database.NewXPTransactionRepository(l.db).TotalsSince(ctx, start)
	if err != nil {
		return nil, err
	}
	stats := &DayStats{Date: DateOf(now), Sources: totals}
	for _, t := range totals {
		stats.XP += t.XP
		stats.Count += t.Count
	}
	return stats, nil
}
