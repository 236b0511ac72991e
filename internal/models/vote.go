package models

import "time"

// Vote is a confirmed ballot. At most one exists per (poll, email).
type Vote struct {
	ID        int64     `json:"id"`
	PollID    string    `json:"poll_id"`
	OptionID  int64     `json:"option_id"`
	Email     string    `json:"-"`
	IPAddress string    `json:"-"`
	VotedAt   time.Time `json:"voted_at"`
}

// TallyEntry is one option's share of a poll's votes.
type TallyEntry struct {
	OptionID   int64   `json:"option_id"`
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Results is the tally of a poll, highest count first.
type Results struct {
	Poll       Poll         `json:"poll"`
	TotalVotes int          `json:"total_votes"`
	Options    []TallyEntry `json:"options"`
}
