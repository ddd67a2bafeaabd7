package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/internal/achievement"
	"github.com/example/inkquest/internal/ai"
	"github.com/example/inkquest/internal/database"
	"github.com/example/inkquest/internal/progression"
	"github.com/example/inkquest/internal/taskpool"
	"github.com/example/inkquest/pkg/logger"
	"github.com/example/inkquest/pkg/models"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidState   = errors.New("invalid record state")
	ErrInProgress     = errors.New("record is being scored")
)

// Scorer grades a finished text. It never fails: when grading is not
// possible it returns fallbackScore with Fallback set.
type Scorer interface {
	EvaluateWithFallback(ctx context.Context, req ai.EvaluationRequest, fallbackScore int) ai.Evaluation
}

// Config tunes scoring
type Config struct {
	FallbackScore int
	ScoreTimeout  time.Duration
}

// Deps are the components a submission cascades into
type Deps struct {
	Ledger       *progression.Ledger
	Streak       *progression.StreakTracker
	Achievements *achievement.Engine
	Challenges   *taskpool.Challenges // optional
	Scorer       Scorer               // optional, nil always falls back
}

// Machine drives task records through draft, submitted and completed
type Machine struct {
	db   *sqlx.DB
	deps Deps
	cfg  Config
	log  *logger.Logger
}

// NewMachine creates a state machine
func NewMachine(db *sqlx.DB, deps Deps, cfg Config, log *logger.Logger) *Machine {
	if cfg.FallbackScore <= 0 {
		cfg.FallbackScore = 70
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 60 * time.Second
	}
	return &Machine{db: db, deps: deps, cfg: cfg, log: log}
}

// StartResult is the record a Start call returns
type StartResult struct {
	Record    *models.TaskRecord `json:"record"`
	Task      *models.DailyTask  `json:"task"`
	Resumed   bool               `json:"resumed"`
	Completed bool               `json:"completed"`
}

// Start opens a draft for a task. An unfinished attempt is resumed and a
// completed one is returned as is.
func (m *Machine) Start(ctx context.Context, taskID int64) (*StartResult, error) {
	res := &StartResult{}
	err := database.WithTx(ctx, m.db, func(tx *sqlx.Tx) error {
		tasks := database.NewDailyTaskRepository(tx)
		records := database.NewTaskRecordRepository(tx)

		task, err := tasks.Get(ctx, taskID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("%w: %d", ErrTaskNotFound, taskID)
			}
			return err
		}
		res.Task = task

		latest, err := records.LatestForTask(ctx, taskID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if latest != nil {
			res.Record = latest
			res.Completed = latest.Status == models.StatusCompleted
			res.Resumed = !res.Completed
			return nil
		}

		rec := &models.TaskRecord{
			TaskID:    taskID,
			Tier:      task.Tier,
			Status:    models.StatusDraft,
			CreatedAt: m.deps.Ledger.Now(),
		}
		if err := records.Create(ctx, rec); err != nil {
			return err
		}
		if err := tasks.MarkClaimed(ctx, taskID); err != nil {
			return err
		}
		task.IsClaimed = true
		res.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Machine) record(ctx context.Context, id int64) (*models.TaskRecord, error) {
	rec, err := database.NewTaskRecordRepository(m.db).Get(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}

// SaveDraft stores work in progress on an unfinished record
func (m *Machine) SaveDraft(ctx context.Context, recordID int64, content string, timeSpent int) (*models.TaskRecord, error) {
	records := database.NewTaskRecordRepository(m.db)
	rec, err := m.record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.StatusCompleted {
		return nil, fmt.Errorf("%w: record %d is already completed", ErrInvalidState, recordID)
	}
	saved, err := records.SaveContent(ctx, recordID, content, CountWords(content), timeSpent, m.deps.Ledger.Now())
	if err != nil {
		return nil, err
	}
	if !saved {
		return nil, fmt.Errorf("%w: record %d was completed meanwhile", ErrInvalidState, recordID)
	}
	return m.record(ctx, recordID)
}

// SubmitResult is everything a submission changed
type SubmitResult struct {
	Record      *models.TaskRecord       `json:"record"`
	Task        *models.DailyTask        `json:"task"`
	Evaluation  *ai.Evaluation           `json:"evaluation"`
	Grant       *progression.GrantResult `json:"grant,omitempty"`
	Streak      *progression.TouchResult `json:"streak,omitempty"`
	Unlocked    []achievement.Unlocked   `json:"unlocked"`
	Challenges  *taskpool.Progress       `json:"challenges,omitempty"`
	LeveledUp   bool                     `json:"leveled_up"`
	Profile     *progression.ProfileView `json:"profile,omitempty"`
	FailedSteps []string                 `json:"failed_steps,omitempty"`
}

// Submit finishes a record: it is scored, completed and then paid out. A
// record that is already completed only has its payout re-run, which
// grants nothing twice. While another call is scoring the same record
// Submit returns ErrInProgress.
func (m *Machine) Submit(ctx context.Context, recordID int64, content string, timeSpent int) (*SubmitResult, error) {
	rec, err := m.record(ctx, recordID)
	if err != nil {
		return nil, err
	}
	task, err := database.NewDailyTaskRepository(m.db).Get(ctx, rec.TaskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, rec.TaskID)
		}
		return nil, err
	}

	var eval ai.Evaluation
	if rec.Status == models.StatusCompleted {
		eval = storedEvaluation(rec)
	} else {
		eval, rec, err = m.complete(ctx, rec, task, content, timeSpent)
		if err != nil {
			return nil, err
		}
	}

	res := &SubmitResult{Task: task, Evaluation: &eval, Unlocked: []achievement.Unlocked{}}
	m.cascade(ctx, rec, task, &eval, res)

	if res.Record, err = m.record(ctx, recordID); err != nil {
		return nil, err
	}
	if res.Task, err = database.NewDailyTaskRepository(m.db).Get(ctx, task.ID); err != nil {
		return nil, err
	}
	if res.Profile, err = m.deps.Ledger.Profile(ctx); err != nil {
		res.fail(m.log, "profile", err)
	}
	return res, nil
}

// complete claims the record, scores it and marks it completed. Only the
// caller that moved the record to submitted calls the scorer; a caller that
// loses the completion gets the stored evaluation back.
func (m *Machine) complete(ctx context.Context, rec *models.TaskRecord, task *models.DailyTask, content string, timeSpent int) (ai.Evaluation, *models.TaskRecord, error) {
	records := database.NewTaskRecordRepository(m.db)
	words := CountWords(content)
	now := m.deps.Ledger.Now()
	claimed, err := records.MarkSubmitted(ctx, rec.ID, content, words, timeSpent, now, now.Add(-m.staleAfter()))
	if err != nil {
		return ai.Evaluation{}, nil, err
	}
	if !claimed {
		return m.stored(ctx, rec.ID)
	}

	eval := m.score(ctx, task, content, words)
	feedback, err := json.Marshal(eval)
	if err != nil {
		return ai.Evaluation{}, nil, fmt.Errorf("failed to encode feedback: %w", err)
	}
	done, err := records.MarkCompleted(ctx, rec.ID, eval.Score, string(feedback), m.deps.Ledger.Now())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ai.Evaluation{}, nil, fmt.Errorf("%w: task %d already has a completed record", ErrInvalidState, task.ID)
		}
		return ai.Evaluation{}, nil, err
	}
	if !done {
		m.log.Warn("record completed by another submission, keeping its score", "record_id", rec.ID)
		return m.stored(ctx, rec.ID)
	}
	m.log.Info("task completed", "record_id", rec.ID, "task_id", task.ID, "tier", task.Tier,
		"words", words, "score", eval.Score, "fallback", eval.Fallback)
	rec, err = m.record(ctx, rec.ID)
	if err != nil {
		return ai.Evaluation{}, nil, err
	}
	return eval, rec, nil
}

// stored returns the evaluation of a record completed elsewhere
func (m *Machine) stored(ctx context.Context, id int64) (ai.Evaluation, *models.TaskRecord, error) {
	rec, err := m.record(ctx, id)
	if err != nil {
		return ai.Evaluation{}, nil, err
	}
	if rec.Status != models.StatusCompleted {
		return ai.Evaluation{}, nil, fmt.Errorf("%w: record %d", ErrInProgress, id)
	}
	return storedEvaluation(rec), rec, nil
}

// staleAfter is how long a submitted record stays claimed before a retry
// may take it over
func (m *Machine) staleAfter() time.Duration {
	return 2 * m.cfg.ScoreTimeout
}

func (m *Machine) score(ctx context.Context, task *models.DailyTask, content string, words int) ai.Evaluation {
	if m.deps.Scorer == nil {
		return ai.Evaluation{Score: m.cfg.FallbackScore, Fallback: true, Err: ai.ErrDisabled}
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ScoreTimeout)
	defer cancel()
	eval := m.deps.Scorer.EvaluateWithFallback(ctx, ai.EvaluationRequest{Task: task, Content: content, WordCount: words}, m.cfg.FallbackScore)
	if eval.Fallback {
		m.log.Warn("scoring failed, using fallback score", "task_id", task.ID, "score", eval.Score, "error", eval.Err)
	}
	return eval
}

func storedEvaluation(rec *models.TaskRecord) ai.Evaluation {
	var eval ai.Evaluation
	if rec.Feedback != nil {
		_ = json.Unmarshal([]byte(*rec.Feedback), &eval)
	}
	if rec.Score != nil {
		eval.Score = *rec.Score
	}
	return eval
}

// cascade pays out a completed record. Steps are independent: a failing
// step is logged and reported while the rest still run.
func (m *Machine) cascade(ctx context.Context, rec *models.TaskRecord, task *models.DailyTask, eval *ai.Evaluation, res *SubmitResult) {
	leveledUp := false

	source, err := progression.CompletionSource(task.Tier)
	if err != nil {
		res.fail(m.log, "grant", err)
	} else {
		grant, err := m.deps.Ledger.Grant(ctx, progression.GrantRequest{
			Source:      source,
			SourceID:    &rec.ID,
			Attribute:   task.AttrType,
			AttrAmount:  task.AttrReward,
			WordCount:   rec.WordCount,
			TimeSpent:   rec.TimeSpent,
			Practice:    true,
			Description: "Completed: " + task.Title,
			Once:        true,
		})
		if err != nil {
			res.fail(m.log, "grant", err)
		} else {
			res.Grant = grant
			leveledUp = leveledUp || grant.LeveledUp
			if err := database.NewTaskRecordRepository(m.db).SetReward(ctx, rec.ID,
				grant.XPAwarded, grant.AttrAmount, string(grant.Attribute), m.deps.Ledger.Now()); err != nil {
				res.fail(m.log, "reward", err)
			}
		}
	}

	touch, err := m.deps.Streak.Touch(ctx)
	if err != nil {
		res.fail(m.log, "streak", err)
	} else {
		res.Streak = touch
		if touch.Bonus != nil {
			leveledUp = leveledUp || touch.Bonus.LeveledUp
		}
	}

	data := achievement.Context{Tier: task.Tier}
	if !eval.Fallback {
		score := eval.Score
		data.Score = &score
	}
	triggers := []achievement.Trigger{achievement.TriggerTaskComplete}
	switch task.Tier {
	case models.TierShort:
		triggers = append(triggers, achievement.TriggerShortComplete)
	case models.TierEpic:
		triggers = append(triggers, achievement.TriggerEpicComplete)
	}
	if data.Score != nil {
		triggers = append(triggers, achievement.TriggerScoreReceived)
	}
	triggers = append(triggers, achievement.TriggerStreakUpdate, achievement.TriggerAttrUpdate, achievement.TriggerWordsUpdate)

	seen := map[string]bool{}
	check := func(trigger achievement.Trigger) bool {
		unlocked, err := m.deps.Achievements.CheckUnlocks(ctx, trigger, data)
		if err != nil {
			res.fail(m.log, "achievements:"+string(trigger), err)
			return false
		}
		up := false
		for _, u := range unlocked {
			if seen[u.Code] {
				continue
			}
			seen[u.Code] = true
			res.Unlocked = append(res.Unlocked, u)
			if u.Grant != nil && u.Grant.LeveledUp {
				up = true
			}
		}
		return up
	}
	for _, trigger := range triggers {
		leveledUp = check(trigger) || leveledUp
	}

	if err := database.NewDailyTaskRepository(m.db).MarkCompleted(ctx, task.ID); err != nil {
		res.fail(m.log, "task", err)
	}

	if m.deps.Challenges != nil {
		progress, err := m.deps.Challenges.Record(ctx)
		if err != nil {
			res.fail(m.log, "challenges", err)
		} else {
			res.Challenges = progress
			for _, g := range progress.Grants {
				leveledUp = leveledUp || g.LeveledUp
			}
		}
	}

	// level rewards can level up again; the level table is finite
	for i := 0; leveledUp && i < 5; i++ {
		res.LeveledUp = true
		leveledUp = check(achievement.TriggerLevelUp)
	}
}

func (r *SubmitResult) fail(log *logger.Logger, step string, err error) {
	log.Error("submission step failed", "step", step, "error", err)
	r.FailedSteps = append(r.FailedSteps, step)
}
