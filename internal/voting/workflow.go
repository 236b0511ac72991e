// Package voting implements the email-confirmed vote flow. A vote intent is
// carried inside a signed token mailed to the voter and only written when the
// link is followed.
package voting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/zamapoll/backend/internal/apperrors"
	"github.com/zamapoll/backend/internal/mailer"
	"github.com/zamapoll/backend/internal/models"
	"github.com/zamapoll/backend/internal/polls"
	"github.com/zamapoll/backend/internal/ratelimit"
	"github.com/zamapoll/backend/internal/token"
)

// PurposeConfirm namespaces confirmation tokens.
const PurposeConfirm = "email-confirm"

// DefaultTokenTTL is how long a confirmation link stays valid.
const DefaultTokenTTL = time.Hour

var (
	ErrRateLimited        = apperrors.New(apperrors.CodeRateLimited, "too many attempts, try again later")
	ErrInvalidEmail       = apperrors.New(apperrors.CodeValidation, "a valid email address is required")
	ErrDuplicateVote      = apperrors.New(apperrors.CodeDuplicateVote, "a vote has already been cast with this email")
	ErrDuplicateAtConfirm = apperrors.New(apperrors.CodeDuplicateAtConfirm, "this vote has already been confirmed")
	ErrTokenExpired       = apperrors.New(apperrors.CodeTokenExpired, "the confirmation link has expired, please vote again")
	ErrTokenInvalid       = apperrors.New(apperrors.CodeTokenInvalid, "invalid confirmation link")
)

// Payload keys of a confirmation token.
const (
	keyPollID   = "poll_id"
	keyOptionID = "option_id"
	keyEmail    = "email"
	keyIP       = "ip"
)

// Settings configure the workflow.
type Settings struct {
	AppName  string
	BaseURL  string
	TokenTTL time.Duration
}

// VoteRequest is a submitted, unconfirmed vote.
type VoteRequest struct {
	PollID     string
	OptionID   int64
	Email      string
	SourceAddr string
}

// Pending describes a vote awaiting confirmation.
type Pending struct {
	PollID    string    `json:"poll_id"`
	OptionID  int64     `json:"option_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Workflow fronts poll creation and the two-phase vote.
type Workflow struct {
	store    *polls.Store
	codec    *token.Codec
	sender   mailer.Sender
	guard    ratelimit.Guard
	settings Settings
	validate *validator.Validate
	logger   *zap.Logger
}

// NewWorkflow wires the vote workflow.
func NewWorkflow(store *polls.Store, codec *token.Codec, sender mailer.Sender, guard ratelimit.Guard, s Settings, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = ratelimit.Unlimited{}
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = DefaultTokenTTL
	}
	if s.AppName == "" {
		s.AppName = "Zama Poll"
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	return &Workflow{
		store:    store,
		codec:    codec,
		sender:   sender,
		guard:    guard,
		settings: s,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreatePoll rate limits and creates a poll.
func (w *Workflow) CreatePoll(ctx context.Context, addr, question string, options []string) (*models.PollWithOptions, error) {
	if !ratelimit.Allow(ctx, w.guard, w.logger, addr, ratelimit.BucketCreatePoll) {
		return nil, ErrRateLimited
	}
	return w.store.CreatePoll(ctx, question, options)
}

// InitiateVote checks a vote request and mails a confirmation link.
// Nothing is persisted; a delivery failure leaves no trace besides the rate counter.
func (w *Workflow) InitiateVote(ctx context.Context, req VoteRequest) (*Pending, error) {
	if !ratelimit.Allow(ctx, w.guard, w.logger, req.SourceAddr, ratelimit.BucketVote) {
		return nil, ErrRateLimited
	}

	email, err := w.normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	p, err := w.store.GetPoll(ctx, req.PollID)
	switch {
	case errors.Is(err, polls.ErrNotFound):
		return nil, polls.ErrNotVotable
	case err != nil:
		return nil, err
	}
	if !polls.Votable(p, w.store.Now()) {
		return nil, polls.ErrNotVotable
	}

	if _, err := w.store.GetOption(ctx, p.ID, req.OptionID); err != nil {
		if errors.Is(err, polls.ErrOptionNotFound) {
			return nil, polls.ErrInvalidOption
		}
		return nil, err
	}

	voted, err := w.store.HasVoted(ctx, p.ID, email)
	if err != nil {
		return nil, fmt.Errorf("check existing vote: %w", err)
	}
	if voted {
		return nil, ErrDuplicateVote
	}

	issued := w.codec.IssuedAt()
	tok, err := w.codec.Mint(map[string]string{
		keyPollID:   p.ID,
		keyOptionID: strconv.FormatInt(req.OptionID, 10),
		keyEmail:    email,
		keyIP:       req.SourceAddr,
	}, PurposeConfirm)
	if err != nil {
		return nil, fmt.Errorf("mint confirmation token: %w", err)
	}

	body, err := w.renderEmail(p, w.ConfirmURL(tok))
	if err != nil {
		return nil, err
	}
	subject := w.settings.AppName + " | Confirm Your Vote"
	if err := w.sender.Send(ctx, email, subject, body); err != nil {
		w.logger.Error("confirmation email failed",
			zap.String("poll_id", p.ID),
			zap.String("to", mailer.MaskEmail(email)),
			zap.Error(err),
		)
		return nil, apperrors.Wrap(apperrors.CodeDeliveryFailed, "verification email could not be sent", err)
	}

	w.logger.Info("vote pending confirmation", zap.String("poll_id", p.ID), zap.String("to", mailer.MaskEmail(email)))
	return &Pending{
		PollID:    p.ID,
		OptionID:  req.OptionID,
		Email:     mailer.MaskEmail(email),
		ExpiresAt: issued.Add(w.settings.TokenTTL).UTC(),
	}, nil
}

// ConfirmVote verifies a confirmation token and commits the vote it carries.
func (w *Workflow) ConfirmVote(ctx context.Context, raw string) (*models.Vote, error) {
	payload, err := w.codec.Verify(raw, PurposeConfirm, w.settings.TokenTTL)
	switch {
	case errors.Is(err, token.ErrExpired):
		return nil, ErrTokenExpired
	case err != nil:
		return nil, ErrTokenInvalid
	}

	pollID, email := payload[keyPollID], payload[keyEmail]
	optionID, err := strconv.ParseInt(payload[keyOptionID], 10, 64)
	if err != nil || pollID == "" || email == "" {
		return nil, ErrTokenInvalid
	}

	v, err := w.store.CommitVote(ctx, pollID, optionID, email, payload[keyIP])
	if err != nil {
		if errors.Is(err, polls.ErrAlreadyVoted) {
			return nil, ErrDuplicateAtConfirm
		}
		return nil, err
	}

	w.logger.Info("vote confirmed",
		zap.String("poll_id", v.PollID),
		zap.Int64("option_id", v.OptionID),
		zap.String("email", mailer.MaskEmail(v.Email)),
	)
	return v, nil
}

// ConfirmURL is the public link that confirms tok.
func (w *Workflow) ConfirmURL(tok string) string {
	return w.settings.BaseURL + "/votes/confirm/" + url.PathEscape(tok)
}

func (w *Workflow) normalizeEmail(raw string) (string, error) {
	email := polls.NormalizeEmail(raw)
	if err := w.validate.Var(email, "required,max=254,email"); err != nil {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

var confirmTemplate = template.Must(template.New("confirm").Parse(`<html><body style="font-family: Arial, sans-serif">
<h2>{{.AppName}} - Confirm Your Vote</h2>
<p>You voted on: <strong>{{.Question}}</strong></p>
<p>To complete your vote, click the link below:</p>
<p><a href="{{.Link}}" style="background:#4F46E5;color:#fff;padding:10px 16px;border-radius:6px;text-decoration:none;">Confirm My Vote</a></p>
<p style="color:#666">This link is valid for {{.Validity}}.</p>
</body></html>
`))

func (w *Workflow) renderEmail(p *models.Poll, link string) (string, error) {
	var buf bytes.Buffer
	err := confirmTemplate.Execute(&buf, struct {
		AppName, Question, Validity string
		Link                        template.URL
	}{
		AppName:  w.settings.AppName,
		Question: p.Question,
		Validity: humanDuration(w.settings.TokenTTL),
		Link:     template.URL(link),
	})
	if err != nil {
		return "", fmt.Errorf("render confirmation email: %w", err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
