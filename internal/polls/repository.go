package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zamapoll/backend/internal/models"
)

// PostgresRepository handles poll persistence in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a polls repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// InsertPoll inserts a poll and its options.
func (r *PostgresRepository) InsertPoll(ctx context.Context, p *models.Poll, options []string) ([]models.Option, error) {
	out := make([]models.Option, 0, len(options))
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const insertPoll = `INSERT INTO polls (id, question, created_at, is_active, max_votes, expire_date)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, insertPoll, p.ID, p.Question, p.CreatedAt, p.IsActive, p.MaxVotes, p.ExpireDate); err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}

		const insertOption = `INSERT INTO options (poll_id, option_text) VALUES ($1, $2) RETURNING id`
		for _, text := range options {
			o := models.Option{PollID: p.ID, Text: text}
			if err := tx.QueryRow(ctx, insertOption, p.ID, text).Scan(&o.ID); err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetPoll returns a poll by ID with its total vote count.
func (r *PostgresRepository) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	const query = `SELECT p.id, p.question, p.created_at, p.is_active, p.max_votes, p.expire_date,
			COALESCE((SELECT SUM(o.votes) FROM options o WHERE o.poll_id = p.id), 0)
		FROM polls p WHERE p.id = $1`
	var p models.Poll
	var total int64
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.Question, &p.CreatedAt, &p.IsActive, &p.MaxVotes, &p.ExpireDate, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.TotalVotes = int(total)
	return &p, nil
}

// GetOption returns an option of a poll.
func (r *PostgresRepository) GetOption(ctx context.Context, pollID string, optionID int64) (*models.Option, error) {
	const query = `SELECT id, poll_id, option_text, votes FROM options WHERE id = $1 AND poll_id = $2`
	var o models.Option
	err := r.pool.QueryRow(ctx, query, optionID, pollID).Scan(&o.ID, &o.PollID, &o.Text, &o.Votes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOptions returns the options of a poll in creation order.
func (r *PostgresRepository) ListOptions(ctx context.Context, pollID string) ([]models.Option, error) {
	const query = `SELECT id, poll_id, option_text, votes FROM options WHERE poll_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, pollID)
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
func (r *PostgresRepository) HasVoted(ctx context.Context, pollID, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM votes WHERE poll_id = $1 AND email = $2)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, pollID, email).Scan(&exists)
	return exists, err
}

// InsertVote records a vote and bumps the option counter in one transaction.
func (r *PostgresRepository) InsertVote(ctx context.Context, v *models.Vote) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var belongs bool
		const checkOption = `SELECT EXISTS (SELECT 1 FROM options WHERE id = $1 AND poll_id = $2)`
		if err := tx.QueryRow(ctx, checkOption, v.OptionID, v.PollID).Scan(&belongs); err != nil {
			return fmt.Errorf("check option: %w", err)
		}
		if !belongs {
			return ErrInvalidOption
		}

		const insertVote = `INSERT INTO votes (poll_id, email, option_id, ip_address, voted_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5)
			ON CONFLICT (poll_id, email) DO NOTHING
			RETURNING id`
		err := tx.QueryRow(ctx, insertVote, v.PollID, v.Email, v.OptionID, v.IPAddress, v.VotedAt).Scan(&v.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyVoted
		}
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}

		const bump = `UPDATE options SET votes = votes + 1 WHERE id = $1 AND poll_id = $2`
		tag, err := tx.Exec(ctx, bump, v.OptionID, v.PollID)
		if err != nil {
			return fmt.Errorf("increment option: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidOption
		}
		return nil
	})
}

// DeactivateExpired marks active polls past their expiry as inactive.
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE polls SET is_active = FALSE WHERE is_active AND expire_date IS NOT NULL AND expire_date < $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
