package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/inkquest/pkg/models"
)

// XPTransactionRepository handles the append-only XP ledger
type XPTransactionRepository struct {
	db sqlx.ExtContext
}

// NewXPTransactionRepository creates a new repository instance
func NewXPTransactionRepository(db sqlx.ExtContext) *XPTransactionRepository {
	return &XPTransactionRepository{db: db}
}

// Create appends a transaction
func (r *XPTransactionRepository) Create(ctx context.Context, t *models.XPTransaction) error {
	t.CreatedAt = t.CreatedAt.UTC()
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO xp_transactions (source_type, source_id, xp_amount, multiplier, attr_type, attr_amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, t.SourceType, t.SourceID, t.XPAmount, t.Multiplier, t.AttrType, t.AttrAmount, t.Description, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create xp transaction: %w", err)
	}
	return nil
}

// CreateOnce inserts t unless a transaction for the same once-only source
// and source id exists. It reports whether t was written.
func (r *XPTransactionRepository) CreateOnce(ctx context.Context, t *models.XPTransaction) (bool, error) {
	t.CreatedAt = t.CreatedAt.UTC()
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO xp_transactions (source_type, source_id, xp_amount, multiplier, attr_type, attr_amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, t.SourceType, t.SourceID, t.XPAmount, t.Multiplier, t.AttrType, t.AttrAmount, t.Description, t.CreatedAt).Scan(&t.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create xp transaction: %w", err)
	}
	return true, nil
}

// FindBySource returns the first transaction recorded for a source
func (r *XPTransactionRepository) FindBySource(ctx context.Context, sourceType string, sourceID int64) (*models.XPTransaction, error) {
	var t models.XPTransaction
	err := sqlx.GetContext(ctx, r.db, &t, `
		SELECT * FROM xp_transactions WHERE source_type = $1 AND source_id = $2
		ORDER BY id LIMIT 1
	`, sourceType, sourceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// Sum returns the total of all transactions
func (r *XPTransactionRepository) Sum(ctx context.Context) (int64, error) {
	var total int64
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COALESCE(SUM(xp_amount), 0) FROM xp_transactions"); err != nil {
		return 0, fmt.Errorf("failed to sum xp transactions: %w", err)
	}
	return total, nil
}

// List returns transactions newest first
func (r *XPTransactionRepository) List(ctx context.Context, limit, offset int) ([]models.XPTransaction, error) {
	txs := []models.XPTransaction{}
	err := sqlx.SelectContext(ctx, r.db, &txs,
		"SELECT * FROM xp_transactions ORDER BY id DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list xp transactions: %w", err)
	}
	return txs, nil
}

// Count returns the number of transactions
func (r *XPTransactionRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, "SELECT COUNT(*) FROM xp_transactions"); err != nil {
		return 0, fmt.Errorf("failed to count xp transactions: %w", err)
	}
	return n, nil
}

// SourceTotal aggregates transactions of one source type
type SourceTotal struct {
	SourceType string `json:"source_type" db:"source_type"`
	Count      int    `json:"count" db:"count"`
	XP         int64  `json:"xp" db:"xp"`
}

// TotalsSince groups transactions created at or after since by source type
func (r *XPTransactionRepository) TotalsSince(ctx context.Context, since time.Time) ([]SourceTotal, error) {
	totals := []SourceTotal{}
	err := sqlx.SelectContext(ctx, r.db, &totals, `
		SELECT source_type, COUNT(*) AS count, COALESCE(SUM(xp_amount), 0) AS xp
		FROM xp_transactions
		WHERE created_at >= $1
		GROUP BY source_type
		ORDER BY source_type
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate xp transactions: %w", err)
	}
	return totals, nil
}
