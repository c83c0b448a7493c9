package broadcast

import (
	"log"
	"time"

	"wordassoc/pkg/types"
)

// Event helpers. Each builds the wire payload and enqueues it on the
// appropriate audience; delivery failures are logged, not returned, since
// a push is advisory and the REST surface remains authoritative.

// TestStarted announces a newly activated test to everyone. Participants
// that already submitted in the current cycle are excluded so they do not
// re-enter the input view.
func (b *Broadcaster) TestStarted(testID int64, word string) {
	op := &operation{
		kind:     opEvent,
		audience: audienceAll,
		event:    types.NewEvent(types.EventTestStarted, types.TestStartedPayload{TestID: testID, Word: word}),
	}
	if b.submittedFilter != nil {
		if ids := b.submittedFilter(); len(ids) > 0 {
			op.exclude = make(map[string]bool, len(ids))
			for _, id := range ids {
				op.exclude[id] = true
			}
		}
	}
	if err := b.enqueue(op); err != nil {
		log.Printf("Failed to broadcast test-started: %v", err)
	}
}

// TestFinished announces that the active test was finished.
func (b *Broadcaster) TestFinished(testID int64) {
	b.announce(types.NewEvent(types.EventTestFinished, types.TestRefPayload{TestID: testID}))
}

// TestCancelled announces that a test was cancelled before completion.
func (b *Broadcaster) TestCancelled(testID int64) {
	b.announce(types.NewEvent(types.EventTestCancelled, types.TestRefPayload{TestID: testID}))
}

// UserReset tells every client to return to the idle view and clear
// submission state.
func (b *Broadcaster) UserReset() {
	b.announce(types.NewEvent(types.EventUserReset, nil))
}

// EmergencyReset tells every client that its session is gone and a full
// re-identification is required.
func (b *Broadcaster) EmergencyReset(at time.Time) {
	b.announce(types.NewEvent(types.EventEmergencyReset, map[string]interface{}{"resetAt": at}))
}

// RosterUpdate pushes the head count to everyone and the full roster to
// admin observers.
func (b *Broadcaster) RosterUpdate(count int, users []types.RosterEntry) {
	b.announce(types.NewEvent(types.EventUserCount, types.UserCountPayload{Count: count}))
	if err := b.BroadcastAdmins(types.NewEvent(types.EventUserListUpdate, types.UserListPayload{Users: users})); err != nil {
		log.Printf("Failed to broadcast user-list-update: %v", err)
	}
}

// UserSubmitted mirrors a completed submission to admin observers.
func (b *Broadcaster) UserSubmitted(username string, wordCount int) {
	if err := b.BroadcastAdmins(types.NewEvent(types.EventUserSubmitted, types.UserSubmittedPayload{Username: username, WordCount: wordCount})); err != nil {
		log.Printf("Failed to broadcast user-submitted: %v", err)
	}
}

// SubmissionConfirmed acknowledges a submission to the submitting
// connection only.
func (b *Broadcaster) SubmissionConfirmed(connID string, wordCount int) {
	if err := b.SendTo(connID, types.NewEvent(types.EventSubmissionConfirmed, map[string]interface{}{"wordCount": wordCount})); err != nil {
		log.Printf("Failed to send submission-confirmed: %v", err)
	}
}

// UserStatus replays current state to a single reconnecting participant.
func (b *Broadcaster) UserStatus(connID string, payload types.UserStatusPayload) {
	if err := b.SendTo(connID, types.NewEvent(types.EventUserStatus, payload)); err != nil {
		log.Printf("Failed to send user-status: %v", err)
	}
}

// AdminStatus replays the current snapshot to a single admin connection.
func (b *Broadcaster) AdminStatus(connID string, payload types.AdminStatusPayload) {
	if err := b.SendTo(connID, types.NewEvent(types.EventAdminStatus, payload)); err != nil {
		log.Printf("Failed to send admin-status: %v", err)
	}
}

func (b *Broadcaster) announce(event types.Event) {
	if err := b.BroadcastAll(event); err != nil {
		log.Printf("Failed to broadcast %s: %v", event.Name, err)
	}
}
