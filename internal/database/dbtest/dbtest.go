// Package dbtest provides an in-memory database for package tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/example/inkquest/internal/database"
)

// Open returns a migrated in-memory SQLite database. The catalogs are
// seeded unless seed is false.
func Open(t *testing.T, seed bool) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Connect(ctx, database.Config{Driver: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if seed {
		require.NoError(t, database.SeedCatalog(ctx, db, time.Now()))
	}
	return db
}

// Clock is a manually advanced time source
type Clock struct {
	now time.Time
}

// NewClock starts a clock at the given instant
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current instant
func (c *Clock) Now() time.Time {
	return c.now
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.now = t
}

// AddDays moves the clock forward by n calendar days
func (c *Clock) AddDays(n int) {
	c.now = c.now.AddDate(0, 0, n)
}
