package models

import "time"

// Poll is a single-choice question with a fixed set of options.
type Poll struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	CreatedAt  time.Time  `json:"created_at"`
	IsActive   bool       `json:"is_active"`
	MaxVotes   int        `json:"max_votes"`
	ExpireDate *time.Time `json:"expire_date,omitempty"`
	TotalVotes int        `json:"total_votes"`
}

// Option is one answer of a poll. Votes only ever grows.
type Option struct {
	ID     int64  `json:"id"`
	PollID string `json:"poll_id"`
	Text   string `json:"text"`
	Votes  int    `json:"votes"`
}

// PollWithOptions is a poll with its options in creation order.
type PollWithOptions struct {
	Poll
	Options []Option `json:"options"`
}
