package polls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zamapoll/backend/internal/models"
)

// SQLiteRepository handles poll persistence in SQLite. Timestamps are stored
// as Unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a polls repository over an open database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InsertPoll inserts a poll and its options.
func (r *SQLiteRepository) InsertPoll(ctx context.Context, p *models.Poll, options []string) ([]models.Option, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertPoll = `INSERT INTO polls (id, question, created_at, is_active, max_votes, expire_date)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertPoll,
		p.ID, p.Question, toMillis(p.CreatedAt), p.IsActive, p.MaxVotes, nullableMillis(p.ExpireDate),
	); err != nil {
		return nil, fmt.Errorf("insert poll: %w", err)
	}

	out := make([]models.Option, 0, len(options))
	const insertOption = `INSERT INTO options (poll_id, option_text) VALUES (?, ?)`
	for _, text := range options {
		res, err := tx.ExecContext(ctx, insertOption, p.ID, text)
		if err != nil {
			return nil, fmt.Errorf("insert option: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("option id: %w", err)
		}
		out = append(out, models.Option{ID: id, PollID: p.ID, Text: text})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// GetPoll returns a poll by ID with its total vote count.
func (r *SQLiteRepository) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	const query = `SELECT p.id, p.question, p.created_at, p.is_active, p.max_votes, p.expire_date,
			COALESCE((SELECT SUM(o.votes) FROM options o WHERE o.poll_id = p.id), 0)
		FROM polls p WHERE p.id = ?`
	var (
		p       models.Poll
		created int64
		expire  sql.NullInt64
		total   int64
	)
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Question, &created, &p.IsActive, &p.MaxVotes, &expire, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	if expire.Valid {
		t := fromMillis(expire.Int64)
		p.ExpireDate = &t
	}
	p.TotalVotes = int(total)
	return &p, nil
}

// GetOption returns an option of a poll.
func (r *SQLiteRepository) GetOption(ctx context.Context, pollID string, optionID int64) (*models.Option, error) {
	const query = `SELECT id, poll_id, option_text, votes FROM options WHERE id = ? AND poll_id = ?`
	var o models.Option
	err := r.db.QueryRowContext(ctx, query, optionID, pollID).Scan(&o.ID, &o.PollID, &o.Text, &o.Votes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOptions returns the options of a poll in creation order.
func (r *SQLiteRepository) ListOptions(ctx context.Context, pollID string) ([]models.Option, error) {
	const query = `SELECT id, poll_id, option_text, votes FROM options WHERE poll_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.Votes); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// HasVoted reports whether email has a vote in the poll.
func (r *SQLiteRepository) HasVoted(ctx context.Context, pollID, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = ? AND email = ?)`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, pollID, email).Scan(&exists)
	return exists, err
}

// InsertVote records a vote and bumps the option counter in one transaction.
// Transactions begin IMMEDIATE, so concurrent writers serialize on the busy timeout.
func (r *SQLiteRepository) InsertVote(ctx context.Context, v *models.Vote) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var belongs bool
	const checkOption = `SELECT EXISTS (SELECT 1 FROM options WHERE id = ? AND poll_id = ?)`
	if err := tx.QueryRowContext(ctx, checkOption, v.OptionID, v.PollID).Scan(&belongs); err != nil {
		return fmt.Errorf("check option: %w", err)
	}
	if !belongs {
		return ErrInvalidOption
	}

	const insertVote = `INSERT INTO votes (poll_id, email, option_id, ip_address, voted_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)
		ON CONFLICT (poll_id, email) DO NOTHING`
	res, err := tx.ExecContext(ctx, insertVote, v.PollID, v.Email, v.OptionID, v.IPAddress, toMillis(v.VotedAt))
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	if n == 0 {
		return ErrAlreadyVoted
	}
	if v.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("vote id: %w", err)
	}

	const bump = `UPDATE options SET votes = votes + 1 WHERE id = ? AND poll_id = ?`
	res, err = tx.ExecContext(ctx, bump, v.OptionID, v.PollID)
	if err != nil {
		return fmt.Errorf("increment option: %w", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("increment option: %w", err)
	}
	if n == 0 {
		return ErrInvalidOption
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeactivateExpired marks active polls past their expiry as inactive.
func (r *SQLiteRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE polls SET is_active = 0 WHERE is_active = 1 AND expire_date IS NOT NULL AND expire_date < ?`
	res, err := r.db.ExecContext(ctx, query, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}
