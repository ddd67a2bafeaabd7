package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// TaskRecordRepository handles attempts at daily tasks
type TaskRecordRepository struct {
	db sqlx.ExtContext
}

// NewTaskRecordRepository creates a new repository instance
func NewTaskRecordRepository(db sqlx.ExtContext) *TaskRecordRepository {
	return &TaskRecordRepository{db: db}
}

// Create inserts a record and sets its id
func (r *TaskRecordRepository) Create(ctx context.Context, rec *models.TaskRecord) error {
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.CreatedAt
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO task_records (task_id, tier, status, content, word_count, time_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, rec.TaskID, rec.Tier, rec.Status, rec.Content, rec.WordCount, rec.TimeSpent, rec.CreatedAt, rec.UpdatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to create task record: %w", err)
	}
	return nil
}

// Get returns a record by id
func (r *TaskRecordRepository) Get(ctx context.Context, id int64) (*models.TaskRecord, error) {
	var rec models.TaskRecord
	if err := sqlx.GetContext(ctx, r.db, &rec, "SELECT * FROM task_records WHERE id = $1", id); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// LatestForTask returns the completed record of a task if there is one,
// otherwise its newest record
func (r *TaskRecordRepository) LatestForTask(ctx context.Context, taskID int64) (*models.TaskRecord, error) {
	var rec models.TaskRecord
	err := sqlx.GetContext(ctx, r.db, &rec, `
		SELECT * FROM task_records WHERE task_id = $1
		ORDER BY CASE WHEN status = $2 THEN 0 ELSE 1 END, id DESC
		LIMIT 1
	`, taskID, models.StatusCompleted)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

// SaveContent stores the text of an unfinished record without changing its
// status. It reports false when the record is already completed.
func (r *TaskRecordRepository) SaveContent(ctx context.Context, id int64, content string, words, timeSpent int, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_records SET content = $1, word_count = $2, time_spent = $3, updated_at = $4
		WHERE id = $5 AND status <> $6
	`, content, words, timeSpent, now.UTC(), id, models.StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to save task record: %w", err)
	}
	return affected(res)
}

// MarkSubmitted stores the final text and moves a draft to submitted. A
// record already submitted before staleBefore is taken over as well, so an
// attempt whose scoring never finished can be retried. It reports false when
// another submission holds the record or it is completed.
func (r *TaskRecordRepository) MarkSubmitted(ctx context.Context, id int64, content string, words, timeSpent int, now, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_records SET status = $1, content = $2, word_count = $3, time_spent = $4,
			submitted_at = $5, updated_at = $6
		WHERE id = $7 AND (status = $8 OR (status = $9 AND submitted_at < $10))
	`, models.StatusSubmitted, content, words, timeSpent, now.UTC(), now.UTC(), id,
		models.StatusDraft, models.StatusSubmitted, staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to submit task record: %w", err)
	}
	return affected(res)
}

// MarkCompleted stores the score and moves the record to completed. It
// reports false when the record was completed in the meantime, leaving the
// stored score untouched.
func (r *TaskRecordRepository) MarkCompleted(ctx context.Context, id int64, score int, feedback string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE task_records SET status = $1, score = $2, feedback = $3, completed_at = $4, updated_at = $5
		WHERE id = $6 AND status <> $7
	`, models.StatusCompleted, score, feedback, now.UTC(), now.UTC(), id, models.StatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to complete task record: %w", err)
	}
	return affected(res)
}

// SetReward stores what the completion paid out
func (r *TaskRecordRepository) SetReward(ctx context.Context, id int64, xp int64, attr int, attrType string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE task_records SET xp_earned = $1, attr_earned = $2, attr_type = $3, updated_at = $4
		WHERE id = $5
	`, xp, attr, attrType, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to store task reward: %w", err)
	}
	return nil
}

// CountCompleted returns the number of completed records, of one tier when
// tier is not empty
func (r *TaskRecordRepository) CountCompleted(ctx context.Context, tier models.Tier) (int64, error) {
	var n int64
	var err error
	if tier == "" {
		err = sqlx.GetContext(ctx, r.db, &n,
			"SELECT COUNT(*) FROM task_records WHERE status = $1", models.StatusCompleted)
	} else {
		err = sqlx.GetContext(ctx, r.db, &n,
			"SELECT COUNT(*) FROM task_records WHERE status = $1 AND tier = $2", models.StatusCompleted, tier)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count completed records: %w", err)
	}
	return n, nil
}

// RecentScores returns scores of the newest n scored completed records
func (r *TaskRecordRepository) RecentScores(ctx context.Context, n int) ([]int, error) {
	scores := []int{}
	err := sqlx.SelectContext(ctx, r.db, &scores, `
		SELECT score FROM task_records
		WHERE status = $1 AND score IS NOT NULL
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`, models.StatusCompleted, n)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scores: %w", err)
	}
	return scores, nil
}

// CountScoreAtLeast returns the number of completed records scored min or higher
func (r *TaskRecordRepository) CountScoreAtLeast(ctx context.Context, min int) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.db, &n,
		"SELECT COUNT(*) FROM task_records WHERE status = $1 AND score >= $2", models.StatusCompleted, min)
	if err != nil {
		return 0, fmt.Errorf("failed to count scores: %w", err)
	}
	return n, nil
}

// MaxScore returns the best score of any completed record, 0 when none
func (r *TaskRecordRepository) MaxScore(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n,
		"SELECT COALESCE(MAX(score), 0) FROM task_records WHERE status = $1", models.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to get best score: %w", err)
	}
	return n, nil
}

// CompletionTotals summarizes the records completed in a time range
type CompletionTotals struct {
	Micro      int `db:"micro"`
	Short      int `db:"short"`
	Epic       int `db:"epic"`
	Words      int `db:"words"`
	EpicWords  int `db:"epic_words"`
	HighScores int `db:"high_scores"`
}

// CompletionTotals counts records completed in [from, to); HighScores
// counts those scored minScore or higher
func (r *TaskRecordRepository) CompletionTotals(ctx context.Context, from, to time.Time, minScore int) (*CompletionTotals, error) {
	var totals CompletionTotals
	err := sqlx.GetContext(ctx, r.db, &totals, `
		SELECT
			COALESCE(SUM(CASE WHEN tier = $1 THEN 1 ELSE 0 END), 0) AS micro,
			COALESCE(SUM(CASE WHEN tier = $2 THEN 1 ELSE 0 END), 0) AS short,
			COALESCE(SUM(CASE WHEN tier = $3 THEN 1 ELSE 0 END), 0) AS epic,
			COALESCE(SUM(word_count), 0) AS words,
			COALESCE(SUM(CASE WHEN tier = $4 THEN word_count ELSE 0 END), 0) AS epic_words,
			COALESCE(SUM(CASE WHEN score >= $5 THEN 1 ELSE 0 END), 0) AS high_scores
		FROM task_records
		WHERE status = $6 AND completed_at >= $7 AND completed_at < $8
	`, models.TierMicro, models.TierShort, models.TierEpic, models.TierEpic, minScore,
		models.StatusCompleted, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to sum completed records: %w", err)
	}
	return &totals, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
