package polls

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zamapoll/backend/internal/models"
)

// Repository is the storage backend behind a Store.
type Repository interface {
	// InsertPoll persists p and its options in one transaction and returns the options in order.
	InsertPoll(ctx context.Context, p *models.Poll, options []string) ([]models.Option, error)
	// GetPoll returns the poll with its current total vote count, or ErrNotFound.
	GetPoll(ctx context.Context, id string) (*models.Poll, error)
	// GetOption returns ErrOptionNotFound unless the option belongs to pollID.
	GetOption(ctx context.Context, pollID string, optionID int64) (*models.Option, error)
	// ListOptions returns a poll's options in creation order.
	ListOptions(ctx context.Context, pollID string) ([]models.Option, error)
	HasVoted(ctx context.Context, pollID, email string) (bool, error)
	// InsertVote records v and increments its option's counter atomically.
	// It returns ErrAlreadyVoted or ErrInvalidOption without changing anything.
	InsertVote(ctx context.Context, v *models.Vote) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Settings are the defaults applied to new polls.
type Settings struct {
	Lifetime time.Duration
	MaxVotes int
	Now      func() time.Time
}

// Store owns poll validation and the voting lifecycle gate.
type Store struct {
	repo     Repository
	lifetime time.Duration
	maxVotes int
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore creates a poll store over repo.
func NewStore(repo Repository, s Settings, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Lifetime <= 0 {
		s.Lifetime = DefaultLifetime
	}
	if s.MaxVotes == 0 {
		s.MaxVotes = DefaultMaxVotes
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Store{repo: repo, lifetime: s.Lifetime, maxVotes: s.MaxVotes, now: s.Now, logger: logger}
}

// Now is the store's clock.
func (s *Store) Now() time.Time { return s.now() }

// CreatePoll validates and persists a new poll with its options.
func (s *Store) CreatePoll(ctx context.Context, question string, options []string) (*models.PollWithOptions, error) {
	q, opts, err := NormalizeInput(question, options)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expire := now.Add(s.lifetime)
	p := &models.Poll{
		ID:         NewID(),
		Question:   q,
		CreatedAt:  now,
		IsActive:   true,
		MaxVotes:   s.maxVotes,
		ExpireDate: &expire,
	}
	saved, err := s.repo.InsertPoll(ctx, p, opts)
	if err != nil {
		return nil, fmt.Errorf("insert poll: %w", err)
	}

	s.logger.Info("poll created", zap.String("poll_id", p.ID), zap.Int("options", len(saved)))
	return &models.PollWithOptions{Poll: *p, Options: saved}, nil
}

// GetPoll returns a poll by id. Malformed ids are rejected before any lookup.
func (s *Store) GetPoll(ctx context.Context, id string) (*models.Poll, error) {
	if !ValidID(id) {
		return nil, ErrMalformedID
	}
	return s.repo.GetPoll(ctx, id)
}

// GetPollWithOptions returns a poll and its options in creation order.
func (s *Store) GetPollWithOptions(ctx context.Context, id string) (*models.PollWithOptions, error) {
	p, err := s.GetPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	opts, err := s.repo.ListOptions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	return &models.PollWithOptions{Poll: *p, Options: opts}, nil
}

// GetOption returns an option of pollID.
func (s *Store) GetOption(ctx context.Context, pollID string, optionID int64) (*models.Option, error) {
	if !ValidID(pollID) {
		return nil, ErrMalformedID
	}
	return s.repo.GetOption(ctx, pollID, optionID)
}

// ListOptions returns a poll's options in creation order.
func (s *Store) ListOptions(ctx context.Context, pollID string) ([]models.Option, error) {
	if !ValidID(pollID) {
		return nil, ErrMalformedID
	}
	return s.repo.ListOptions(ctx, pollID)
}

// HasVoted reports whether email already has a confirmed vote in pollID.
func (s *Store) HasVoted(ctx context.Context, pollID, email string) (bool, error) {
	if !ValidID(pollID) {
		return false, ErrMalformedID
	}
	return s.repo.HasVoted(ctx, pollID, NormalizeEmail(email))
}

// CommitVote records a confirmed vote. The lifecycle gate is checked again
// here; uniqueness is left to the storage constraint.
func (s *Store) CommitVote(ctx context.Context, pollID string, optionID int64, email, addr string) (*models.Vote, error) {
	p, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !Votable(p, now) {
		return nil, ErrNotVotable
	}

	v := &models.Vote{
		PollID:    pollID,
		OptionID:  optionID,
		Email:     NormalizeEmail(email),
		IPAddress: addr,
		VotedAt:   now,
	}
	if err := s.repo.InsertVote(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Tally returns the poll's options ordered by votes descending, then creation order.
func (s *Store) Tally(ctx context.Context, pollID string) (*models.Results, error) {
	p, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	opts, err := s.repo.ListOptions(ctx, pollID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	sort.SliceStable(opts, func(i, j int) bool {
		if opts[i].Votes != opts[j].Votes {
			return opts[i].Votes > opts[j].Votes
		}
		return opts[i].ID < opts[j].ID
	})

	total := 0
	for _, o := range opts {
		total += o.Votes
	}
	entries := make([]models.TallyEntry, 0, len(opts))
	for _, o := range opts {
		entries = append(entries, models.TallyEntry{
			OptionID:   o.ID,
			Text:       o.Text,
			Votes:      o.Votes,
			Percentage: percentage(o.Votes, total),
		})
	}
	p.TotalVotes = total
	return &models.Results{Poll: *p, TotalVotes: total, Options: entries}, nil
}

// DeactivateExpired closes polls whose expiry has passed.
func (s *Store) DeactivateExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deactivate expired polls: %w", err)
	}
	return n, nil
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func percentage(votes, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(votes)*1000/float64(total)) / 10
}
