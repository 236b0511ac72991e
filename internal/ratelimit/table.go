package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Counter records one attempt in the rate_limits relation and returns the
// count within the current window. Rows whose last attempt is before
// windowStart restart at 1.
type Counter interface {
	Hit(ctx context.Context, addr, bucket string, now, windowStart time.Time) (int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// TableGuard enforces a Policy over a Counter.
type TableGuard struct {
	counter Counter
	policy  Policy
	now     func() time.Time
}

// NewTableGuard creates a guard backed by the rate_limits table.
func NewTableGuard(counter Counter, policy Policy, now func() time.Time) *TableGuard {
	if now == nil {
		now = time.Now
	}
	return &TableGuard{counter: counter, policy: policy, now: now}
}

// Allow records the attempt and reports whether it is within the policy.
func (g *TableGuard) Allow(ctx context.Context, addr, bucket string) (bool, error) {
	now := g.now().UTC()
	n, err := g.counter.Hit(ctx, addr, bucket, now, now.Add(-g.policy.Window))
	if err != nil {
		return false, err
	}
	return n <= g.policy.MaxAttempts, nil
}

// Prune deletes rows idle for longer than the window.
func (g *TableGuard) Prune(ctx context.Context) (int64, error) {
	return g.counter.Prune(ctx, g.now().UTC().Add(-g.policy.Window))
}

// PostgresCounter stores attempts in PostgreSQL.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

// NewPostgresCounter creates a counter over pool.
func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

// Hit upserts the attempt row.
func (c *PostgresCounter) Hit(ctx context.Context, addr, bucket string, now, windowStart time.Time) (int, error) {
	const query = `INSERT INTO rate_limits (ip_address, endpoint, attempt_count, last_attempt)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (ip_address, endpoint) DO UPDATE SET
			attempt_count = CASE WHEN rate_limits.last_attempt < $4 THEN 1 ELSE rate_limits.attempt_count + 1 END,
			last_attempt = EXCLUDED.last_attempt
		RETURNING attempt_count`
	var n int
	if err := c.pool.QueryRow(ctx, query, addr, bucket, now, windowStart).Scan(&n); err != nil {
		return 0, fmt.Errorf("rate limit hit: %w", err)
	}
	return n, nil
}

// Prune deletes rows last touched before the cutoff.
func (c *PostgresCounter) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM rate_limits WHERE last_attempt < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SQLiteCounter stores attempts in SQLite, with times as Unix milliseconds.
type SQLiteCounter struct {
	db *sql.DB
}

// NewSQLiteCounter creates a counter over db.
func NewSQLiteCounter(db *sql.DB) *SQLiteCounter {
	return &SQLiteCounter{db: db}
}

// Hit upserts the attempt row.
func (c *SQLiteCounter) Hit(ctx context.Context, addr, bucket string, now, windowStart time.Time) (int, error) {
	const query = `INSERT INTO rate_limits (ip_address, endpoint, attempt_count, last_attempt)
		VALUES (?1, ?2, 1, ?3)
		ON CONFLICT (ip_address, endpoint) DO UPDATE SET
			attempt_count = CASE WHEN rate_limits.last_attempt < ?4 THEN 1 ELSE rate_limits.attempt_count + 1 END,
			last_attempt = excluded.last_attempt
		RETURNING attempt_count`
	var n int
	err := c.db.QueryRowContext(ctx, query, addr, bucket, now.UnixMilli(), windowStart.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("rate limit hit: %w", err)
	}
	return n, nil
}

// Prune deletes rows last touched before the cutoff.
func (c *SQLiteCounter) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE last_attempt < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune rate limits: %w", err)
	}
	return res.RowsAffected()
}
