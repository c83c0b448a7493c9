package types

import "time"

// Push event names. These are the wire-level names clients switch on, so
// they are part of the public contract and never renamed casually.
const (
	EventUserConnected  = "user-connected"
	EventAdminConnected = "admin-connected"
	EventSubmitWords    = "submit-words"

	EventUserStatus          = "user-status"
	EventTestStarted         = "test-started"
	EventTestFinished        = "test-finished"
	EventTestCancelled       = "test-cancelled"
	EventUserReset           = "user-reset"
	EventEmergencyReset      = "emergency-reset"
	EventUserCount           = "user-count"
	EventUserListUpdate      = "user-list-update"
	EventUserSubmitted       = "user-submitted"
	EventSubmissionConfirmed = "submission-confirmed"
	EventAdminStatus         = "admin-status"
	EventError               = "error"
)

// Event is the envelope for every push message, inbound and outbound.
type Event struct {
	Name      string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps an event envelope.
func NewEvent(name string, data interface{}) Event {
	return Event{Name: name, Data: data, Timestamp: time.Now()}
}

// UserStatusPayload replays a participant's current state on connect or
// reconnect. SessionID carries the durable token the client must present
// on its next connection.
type UserStatusPayload struct {
	Connected    bool   `json:"connected"`
	Username     string `json:"username"`
	SessionID    string `json:"sessionId"`
	HasSubmitted bool   `json:"hasSubmitted"`
	TestActive   bool   `json:"testActive"`
	TestWord     string `json:"testWord,omitempty"`
}

// TestStartedPayload announces an activated test.
type TestStartedPayload struct {
	TestID int64  `json:"testId"`
	Word   string `json:"word"`
}

// TestRefPayload references a test by ID, used for finish and cancel
// announcements.
type TestRefPayload struct {
	TestID int64 `json:"testId"`
}

// UserCountPayload carries the connected head count.
type UserCountPayload struct {
	Count int `json:"count"`
}

// UserListPayload carries the full admin-facing roster.
type UserListPayload struct {
	Users []RosterEntry `json:"users"`
}

// UserSubmittedPayload mirrors one participant's completed submission to
// admin observers.
type UserSubmittedPayload struct {
	Username  string `json:"username"`
	WordCount int    `json:"wordCount"`
}

// AdminStatusPayload is the full snapshot replayed to a connecting admin.
type AdminStatusPayload struct {
	ActiveTest *Test         `json:"activeTest"`
	LatestTest *Test         `json:"latestTest"`
	UserCount  int           `json:"userCount"`
	Users      []RosterEntry `json:"users"`
}

// ErrorPayload is pushed when an inbound event cannot be honored.
type ErrorPayload struct {
	Message string `json:"message"`
}
