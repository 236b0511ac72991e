package voting

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zamapoll/backend/internal/apperrors"
	"github.com/zamapoll/backend/internal/models"
	"github.com/zamapoll/backend/internal/polls"
	"github.com/zamapoll/backend/internal/ratelimit"
	"github.com/zamapoll/backend/internal/testutil"
	"github.com/zamapoll/backend/internal/token"
)

type sentMessage struct {
	to, subject, body string
}

// captureSender records messages instead of delivering them.
type captureSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *captureSender) Send(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

var linkPattern = regexp.MustCompile(`https://polls\.example\.com/votes/confirm/([A-Za-z0-9_.\-]+)`)

func (s *captureSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no email was sent")
	}
	m := linkPattern.FindStringSubmatch(s.sent[len(s.sent)-1].body)
	if m == nil {
		t.Fatalf("no confirmation link in body:\n%s", s.sent[len(s.sent)-1].body)
	}
	return m[1]
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	workflow *Workflow
	store    *polls.Store
	sender   *captureSender
	clock    *testutil.Clock
}

func newFixture(t *testing.T, guard ratelimit.Guard) *fixture {
	t.Helper()
	return newFixtureWithSettings(t, guard, polls.Settings{})
}

func newFixtureWithSettings(t *testing.T, guard ratelimit.Guard, settings polls.Settings) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC))
	settings.Now = clock.Now
	store := polls.NewStore(polls.NewSQLiteRepository(testutil.OpenSQLite(t)), settings, nil)
	codec, err := token.NewCodec("workflow-test-secret", token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	sender := &captureSender{}
	w := NewWorkflow(store, codec, sender, guard, Settings{
		AppName:  "Zama Poll",
		BaseURL:  "https://polls.example.com/",
		TokenTTL: time.Hour,
	}, nil)
	return &fixture{workflow: w, store: store, sender: sender, clock: clock}
}

func (f *fixture) createPoll(t *testing.T) *models.PollWithOptions {
	t.Helper()
	p, err := f.workflow.CreatePoll(context.Background(), "203.0.113.50", "Best language?", []string{"Go", "Rust"})
	if err != nil {
		t.Fatalf("CreatePoll() error = %v", err)
	}
	return p
}

func (f *fixture) initiate(t *testing.T, pollID string, optionID int64, email string) string {
	t.Helper()
	if _, err := f.workflow.InitiateVote(context.Background(), VoteRequest{
		PollID: pollID, OptionID: optionID, Email: email, SourceAddr: "198.51.100.23",
	}); err != nil {
		t.Fatalf("InitiateVote() error = %v", err)
	}
	return f.sender.lastToken(t)
}

func TestVoteConfirmFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	goOpt, rustOpt := p.Options[0], p.Options[1]

	pending, err := f.workflow.InitiateVote(ctx, VoteRequest{
		PollID: p.ID, OptionID: goOpt.ID, Email: "  A@B.com ", SourceAddr: "198.51.100.23",
	})
	if err != nil {
		t.Fatalf("InitiateVote() error = %v", err)
	}
	if want := time.Date(2025, 9, 1, 11, 0, 0, 0, time.UTC); !pending.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want %v", pending.ExpiresAt, want)
	}
	if pending.Email != "a***@b.com" {
		t.Fatalf("pending email = %q, want masked", pending.Email)
	}

	msg := f.sender.sent[0]
	if msg.to != "a@b.com" {
		t.Fatalf("email sent to %q, want normalized address", msg.to)
	}
	if !strings.Contains(msg.subject, "Confirm Your Vote") || !strings.Contains(msg.body, "Best language?") {
		t.Fatalf("unexpected message %+v", msg)
	}

	// Nothing is written before confirmation.
	if voted, _ := f.store.HasVoted(ctx, p.ID, "a@b.com"); voted {
		t.Fatal("vote must not be persisted before confirmation")
	}

	f.clock.Advance(10 * time.Minute)
	v, err := f.workflow.ConfirmVote(ctx, f.sender.lastToken(t))
	if err != nil {
		t.Fatalf("ConfirmVote() error = %v", err)
	}
	if v.PollID != p.ID || v.OptionID != goOpt.ID || v.Email != "a@b.com" || v.IPAddress != "198.51.100.23" {
		t.Fatalf("vote = %+v", v)
	}

	res, err := f.store.Tally(ctx, p.ID)
	if err != nil {
		t.Fatalf("Tally() error = %v", err)
	}
	if res.Options[0].OptionID != goOpt.ID || res.Options[0].Votes != 1 {
		t.Fatalf("Go entry = %+v, want 1 vote", res.Options[0])
	}
	if res.Options[1].OptionID != rustOpt.ID || res.Options[1].Votes != 0 {
		t.Fatalf("Rust entry = %+v, want 0 votes", res.Options[1])
	}
}

func TestConfirmTwiceIsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	tok := f.initiate(t, p.ID, p.Options[0].ID, "a@b.com")

	if _, err := f.workflow.ConfirmVote(ctx, tok); err != nil {
		t.Fatalf("first ConfirmVote() error = %v", err)
	}
	if _, err := f.workflow.ConfirmVote(ctx, tok); !errors.Is(err, ErrDuplicateAtConfirm) {
		t.Fatalf("second ConfirmVote() error = %v, want ErrDuplicateAtConfirm", err)
	}

	got, err := f.store.GetPoll(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPoll() error = %v", err)
	}
	if got.TotalVotes != 1 {
		t.Fatalf("TotalVotes = %d, want 1", got.TotalVotes)
	}
}

func TestTwoPendingTokensForOneEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	first := f.initiate(t, p.ID, p.Options[0].ID, "a@b.com")
	second := f.initiate(t, p.ID, p.Options[1].ID, "a@b.com")

	if _, err := f.workflow.ConfirmVote(ctx, second); err != nil {
		t.Fatalf("ConfirmVote(second) error = %v", err)
	}
	if _, err := f.workflow.ConfirmVote(ctx, first); !errors.Is(err, ErrDuplicateAtConfirm) {
		t.Fatalf("ConfirmVote(first) error = %v, want ErrDuplicateAtConfirm", err)
	}
	opts, err := f.store.ListOptions(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListOptions() error = %v", err)
	}
	if opts[0].Votes != 0 || opts[1].Votes != 1 {
		t.Fatalf("votes = [%d %d], want [0 1]", opts[0].Votes, opts[1].Votes)
	}
}

func TestConcurrentConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	tok := f.initiate(t, p.ID, p.Options[0].ID, "race@example.com")

	const workers = 12
	var wg sync.WaitGroup
	var ok, dup int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.ConfirmVote(ctx, tok)
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ErrDuplicateAtConfirm):
				atomic.AddInt32(&dup, 1)
			default:
				t.Errorf("ConfirmVote() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dup != workers-1 {
		t.Fatalf("ok = %d, dup = %d; want exactly one confirmation", ok, dup)
	}
}

func TestConfirmExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	tok := f.initiate(t, p.ID, p.Options[0].ID, "a@b.com")

	f.clock.Advance(2 * time.Hour)
	if _, err := f.workflow.ConfirmVote(ctx, tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ConfirmVote() error = %v, want ErrTokenExpired", err)
	}
	if voted, _ := f.store.HasVoted(ctx, p.ID, "a@b.com"); voted {
		t.Fatal("expired confirmation must not record a vote")
	}
}

func TestConfirmInvalidToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	tok := f.initiate(t, p.ID, p.Options[0].ID, "a@b.com")

	other, err := token.NewCodec("workflow-test-secret", token.WithClock(f.clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	wrongPurpose, err := other.Mint(map[string]string{"poll_id": p.ID, "option_id": "1", "email": "x@y.com"}, "password-reset")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	missingFields, err := other.Mint(map[string]string{"poll_id": p.ID}, PurposeConfirm)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	for name, raw := range map[string]string{
		"truncated":      tok[:len(tok)-4],
		"garbage":        "hello",
		"wrong purpose":  wrongPurpose,
		"missing fields": missingFields,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := f.workflow.ConfirmVote(ctx, raw); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("ConfirmVote() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestConfirmAfterPollClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithSettings(t, nil, polls.Settings{Lifetime: 30 * time.Minute})
	p := f.createPoll(t)
	tok := f.initiate(t, p.ID, p.Options[0].ID, "a@b.com")

	// The token is still fresh but the poll expired in between.
	f.clock.Advance(45 * time.Minute)
	if _, err := f.workflow.ConfirmVote(ctx, tok); !errors.Is(err, polls.ErrNotVotable) {
		t.Fatalf("ConfirmVote() error = %v, want ErrNotVotable", err)
	}
	if voted, _ := f.store.HasVoted(ctx, p.ID, "a@b.com"); voted {
		t.Fatal("vote on a closed poll must not be recorded")
	}
}

func TestInitiateVoteErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	other := f.createPoll(t)

	if _, err := f.workflow.ConfirmVote(ctx, f.initiate(t, p.ID, p.Options[0].ID, "taken@example.com")); err != nil {
		t.Fatalf("ConfirmVote() error = %v", err)
	}

	tests := []struct {
		name     string
		req      VoteRequest
		wantCode apperrors.Code
	}{
		{"invalid email", VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "not-an-email"}, apperrors.CodeValidation},
		{"email without dot in domain", VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "a@localhost"}, apperrors.CodeValidation},
		{"empty email", VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "   "}, apperrors.CodeValidation},
		{"malformed poll id", VoteRequest{PollID: "zzz", OptionID: 1, Email: "a@b.com"}, apperrors.CodeMalformedID},
		{"missing poll", VoteRequest{PollID: "abcdefabcdef", OptionID: 1, Email: "a@b.com"}, apperrors.CodePollNotVotable},
		{"option of other poll", VoteRequest{PollID: p.ID, OptionID: other.Options[0].ID, Email: "a@b.com"}, apperrors.CodeInvalidOption},
		{"unknown option", VoteRequest{PollID: p.ID, OptionID: 99999, Email: "a@b.com"}, apperrors.CodeInvalidOption},
		{"already voted", VoteRequest{PollID: p.ID, OptionID: p.Options[1].ID, Email: "TAKEN@example.com"}, apperrors.CodeDuplicateVote},
	}

	before := f.sender.count()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.workflow.InitiateVote(ctx, tt.req)
			if got := apperrors.CodeOf(err); got != tt.wantCode {
				t.Fatalf("InitiateVote() error = %v (code %s), want %s", err, got, tt.wantCode)
			}
		})
	}
	if f.sender.count() != before {
		t.Fatal("rejected requests must not send email")
	}
}

func TestInitiateVoteOnExpiredPoll(t *testing.T) {
	f := newFixture(t, nil)
	p := f.createPoll(t)
	f.clock.Advance(31 * 24 * time.Hour)

	_, err := f.workflow.InitiateVote(context.Background(), VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "a@b.com"})
	if !errors.Is(err, polls.ErrNotVotable) {
		t.Fatalf("InitiateVote() error = %v, want ErrNotVotable", err)
	}
}

func TestInitiateVoteDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.createPoll(t)
	f.sender.err = errors.New("mailgun: unexpected status 401")

	_, err := f.workflow.InitiateVote(ctx, VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "a@b.com"})
	if apperrors.CodeOf(err) != apperrors.CodeDeliveryFailed {
		t.Fatalf("InitiateVote() error = %v, want DELIVERY_FAILED", err)
	}
	if voted, _ := f.store.HasVoted(ctx, p.ID, "a@b.com"); voted {
		t.Fatal("failed delivery must not persist anything")
	}
}

func TestRateLimited(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC))
	db := testutil.OpenSQLite(t)
	guard := ratelimit.NewTableGuard(ratelimit.NewSQLiteCounter(db), ratelimit.Policy{MaxAttempts: 2, Window: 5 * time.Minute}, clock.Now)
	f := newFixture(t, guard)
	p := f.createPoll(t)

	req := VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "a@b.com", SourceAddr: "192.0.2.77"}
	for i := 0; i < 2; i++ {
		if _, err := f.workflow.InitiateVote(ctx, req); err != nil {
			t.Fatalf("InitiateVote() attempt %d error = %v", i+1, err)
		}
	}
	if _, err := f.workflow.InitiateVote(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("InitiateVote() third attempt error = %v, want ErrRateLimited", err)
	}

	// Creating polls uses its own bucket.
	if _, err := f.workflow.CreatePoll(ctx, "192.0.2.77", "Another question?", []string{"Yes", "No"}); err != nil {
		t.Fatalf("CreatePoll() error = %v", err)
	}
}

type brokenGuard struct{}

func (brokenGuard) Allow(context.Context, string, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestGuardFailureAllows(t *testing.T) {
	f := newFixture(t, brokenGuard{})
	p := f.createPoll(t)
	if _, err := f.workflow.InitiateVote(context.Background(), VoteRequest{PollID: p.ID, OptionID: p.Options[0].ID, Email: "a@b.com"}); err != nil {
		t.Fatalf("InitiateVote() error = %v, want allowed when limiter fails", err)
	}
}

func TestConfirmURLEscapesToken(t *testing.T) {
	f := newFixture(t, nil)
	if got := f.workflow.ConfirmURL("abc.def-ghi_jkl"); got != "https://polls.example.com/votes/confirm/abc.def-ghi_jkl" {
		t.Fatalf("ConfirmURL() = %q", got)
	}
}
