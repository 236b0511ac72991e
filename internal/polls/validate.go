package polls

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zamapoll/backend/internal/models"
	"github.com/zamapoll/backend/pkg/utils"
)

const (
	IDLength = 12

	MinQuestionLen = 10
	MaxQuestionLen = 500
	MinOptions     = 2
	MaxOptions     = 10
	MinOptionLen   = 2
	MaxOptionLen   = 200

	DefaultMaxVotes = 1000
	DefaultLifetime = 30 * 24 * time.Hour
)

var idPattern = regexp.MustCompile(`^[a-f0-9]{12}$`)

// NewID returns a fresh 12 character lowercase hex poll id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// ValidID reports whether id has the shape of a poll id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Votable reports whether p accepts votes at now.
// The max-votes part reads the current total and is not serialized with inserts.
func Votable(p *models.Poll, now time.Time) bool {
	if p == nil || !p.IsActive {
		return false
	}
	if p.ExpireDate != nil && now.After(*p.ExpireDate) {
		return false
	}
	if p.MaxVotes > 0 && p.TotalVotes >= p.MaxVotes {
		return false
	}
	return true
}

// NormalizeInput sanitizes a poll submission and checks it.
// Options outside the length bounds are treated as blank and dropped.
func NormalizeInput(question string, options []string) (string, []string, error) {
	q := utils.CleanText(question)
	switch n := utils.RuneLen(q); {
	case n < MinQuestionLen:
		return "", nil, validationError(fmt.Sprintf("question must be at least %d characters", MinQuestionLen))
	case n > MaxQuestionLen:
		return "", nil, validationError(fmt.Sprintf("question must be at most %d characters", MaxQuestionLen))
	}

	kept := make([]string, 0, len(options))
	seen := make(map[string]struct{}, len(options))
	for _, raw := range options {
		opt := utils.CleanText(raw)
		if n := utils.RuneLen(opt); n < MinOptionLen || n > MaxOptionLen {
			continue
		}
		if _, dup := seen[opt]; dup {
			return "", nil, validationError("options must be unique")
		}
		seen[opt] = struct{}{}
		kept = append(kept, opt)
	}

	if len(kept) < MinOptions {
		return "", nil, validationError(fmt.Sprintf("at least %d options of %d-%d characters are required", MinOptions, MinOptionLen, MaxOptionLen))
	}
	if len(kept) > MaxOptions {
		return "", nil, validationError(fmt.Sprintf("at most %d options are allowed", MaxOptions))
	}
	return q, kept, nil
}
