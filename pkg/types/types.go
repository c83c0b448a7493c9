package types

import (
	"time"
)

// Test lifecycle statuses. A test moves forward only: ready -> active ->
// finished. Cancellation is terminal from ready or active.
const (
	TestStatusReady     = "ready"
	TestStatusActive    = "active"
	TestStatusFinished  = "finished"
	TestStatusCancelled = "cancelled"
)

// MaxResponseWords caps how many words one participant may contribute to a
// single test. Extra entries are dropped, not rejected.
const MaxResponseWords = 15

// Test is one round of the word-association exercise, identified by a
// prompt word and its lifecycle status.
type Test struct {
	ID         int64      `json:"id"`
	Word       string     `json:"word"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// IsTerminal reports whether the test can no longer transition.
func (t *Test) IsTerminal() bool {
	return t.Status == TestStatusFinished || t.Status == TestStatusCancelled
}

// Participant is a durable identity (username + session token) that may
// reconnect across multiple live connections. ConnectionID is the ephemeral
// transport handle and is empty while the participant is offline.
type Participant struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	SessionID    string    `json:"sessionId"`
	ConnectionID string    `json:"-"`
	TestID       *int64    `json:"testId,omitempty"`
	HasSubmitted bool      `json:"hasSubmitted"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Response is one word contributed by one participant for one test, with
// its 1-based entry position. Immutable once written.
type Response struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	TestID    int64     `json:"testId"`
	Username  string    `json:"username,omitempty"`
	Word      string    `json:"word"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// RosterEntry is the admin-facing view of one connected participant.
type RosterEntry struct {
	Username     string    `json:"username"`
	HasSubmitted bool      `json:"hasSubmitted"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// WordCount is one row of a per-test frequency table. Words are compared
// case-insensitively when counted.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// TestStatistics aggregates a single test's results.
type TestStatistics struct {
	Test        *Test `json:"test"`
	UserCount   int   `json:"userCount"`
	TotalWords  int   `json:"totalWords"`
	UniqueWords int   `json:"uniqueWords"`
}

// TestSummary is a history row: a test plus its participation counts.
type TestSummary struct {
	Test
	UserCount     int `json:"userCount"`
	ResponseCount int `json:"responseCount"`
}
