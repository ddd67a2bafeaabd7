package progression

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/pkg/models"
)

// LevelTable is the read-only list of level thresholds
type LevelTable struct {
	levels []models.Level
}

// LoadLevelTable reads the level table from storage
func LoadLevelTable(ctx context.Context, db sqlx.ExtContext) (*LevelTable, error) {
	levels, err := database.NewLevelRepository(db).All(ctx)
	if err != nil {
		return nil, err
	}
	return NewLevelTable(levels)
}

// NewLevelTable validates levels: numbered from 1 without gaps, starting at
// 0 XP, with strictly increasing thresholds
func NewLevelTable(levels []models.Level) (*LevelTable, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("level table is empty")
	}
	for i, l := range levels {
		if l.Level != i+1 {
			return nil, fmt.Errorf("level table has a gap at level %d", i+1)
		}
		if i == 0 && l.RequiredXP != 0 {
			return nil, fmt.Errorf("level 1 must require 0 XP, got %d", l.RequiredXP)
		}
		if i > 0 && l.RequiredXP <= levels[i-1].RequiredXP {
			return nil, fmt.Errorf("level %d threshold %d is not above level %d", l.Level, l.RequiredXP, l.Level-1)
		}
	}
	cp := make([]models.Level, len(levels))
	copy(cp, levels)
	return &LevelTable{levels: cp}, nil
}

// All returns a copy of the table
func (t *LevelTable) All() []models.Level {
	cp := make([]models.Level, len(t.levels))
	copy(cp, t.levels)
	return cp
}

// First returns level 1
func (t *LevelTable) First() models.Level {
	return t.levels[0]
}

// Max returns the highest level
func (t *LevelTable) Max() models.Level {
	return t.levels[len(t.levels)-1]
}

// Get returns a level by number
func (t *LevelTable) Get(level int) (models.Level, bool) {
	if level < 1 || level > len(t.levels) {
		return models.Level{}, false
	}
	return t.levels[level-1], true
}

// Resolve walks upward from current while totalXP reaches the next
// threshold. Levels never go down.
func (t *LevelTable) Resolve(totalXP int64, current int) models.Level {
	if current < 1 {
		current = 1
	}
	if current > len(t.levels) {
		current = len(t.levels)
	}
	idx := current - 1
	for idx+1 < len(t.levels) && totalXP >= t.levels[idx+1].RequiredXP {
		idx++
	}
	return t.levels[idx]
}

// Progress describes how far a profile is into its current level
type Progress struct {
	Current  models.Level  `json:"current"`
	Next     *models.Level `json:"next,omitempty"`
	InLevel  int64         `json:"in_level"`
	Needed   int64         `json:"needed"`
	Percent  int           `json:"percent"`
	MaxLevel bool          `json:"max_level"`
}

// Progress computes progress towards the next level, floored and capped at 100
func (t *LevelTable) Progress(totalXP int64, level int) Progress {
	cur, ok := t.Get(level)
	if !ok {
		cur = t.Resolve(totalXP, 1)
	}
	p := Progress{Current: cur, InLevel: totalXP - cur.RequiredXP}
	if cur.Level == t.Max().Level {
		p.Percent = 100
		p.MaxLevel = true
		return p
	}
	next := t.levels[cur.Level]
	p.Next = &next
	p.Needed = next.RequiredXP - cur.RequiredXP
	if p.InLevel < 0 {
		p.InLevel = 0
	}
	percent := p.InLevel * 100 / p.Needed
	if percent > 100 {
		percent = 100
	}
	p.Percent = int(percent)
	return p
}
