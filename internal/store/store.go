package store

import (
	"context"
	"time"

	"wordassoc/pkg/types"
)

// Store is the persistence contract for tests, participants, and responses.
// It is the single source of truth; the in-memory roster in
// internal/registry is a rebuildable cache on top of it.
//
// Query methods that look up "the current X" return (nil, nil) when no such
// row exists; lookups by ID return types.ErrTestNotFound or
// types.ErrParticipantNotFound.
type Store interface {
	// Test lifecycle. Transition methods only write status and timestamps;
	// state-machine guards live in internal/lifecycle.
	CreateTest(ctx context.Context, word string) (int64, error)
	GetTest(ctx context.Context, id int64) (*types.Test, error)
	StartTest(ctx context.Context, id int64, at time.Time) error
	FinishTest(ctx context.Context, id int64, at time.Time) error
	CancelTest(ctx context.Context, id int64, at time.Time) error

	// CancelOpenTests cancels every ready or active test and returns how
	// many rows changed. Used by the reset coordinator.
	CancelOpenTests(ctx context.Context, at time.Time) (int, error)

	ActiveTest(ctx context.Context) (*types.Test, error)
	ReadyTest(ctx context.Context) (*types.Test, error)
	LatestTest(ctx context.Context) (*types.Test, error)
	LatestFinishedTest(ctx context.Context) (*types.Test, error)
	ListTests(ctx context.Context, limit int) ([]*types.Test, error)
	ListFinishedTests(ctx context.Context, limit int) ([]*types.TestSummary, error)

	// Participants.
	CreateParticipant(ctx context.Context, username, sessionID string, testID *int64) (int64, error)
	ParticipantBySessionID(ctx context.Context, sessionID string) (*types.Participant, error)
	UpdateParticipantConnection(ctx context.Context, id int64, connectionID string) error
	SetParticipantTest(ctx context.Context, id int64, testID *int64) error

	// SubmitResponses atomically marks the participant submitted and writes
	// the position-tagged word batch. Fails with types.ErrAlreadySubmitted
	// if the submitted flag is already set.
	SubmitResponses(ctx context.Context, userID, testID int64, words []string) error

	// Reset operations.
	ResetParticipants(ctx context.Context) error
	ClearSessionTokens(ctx context.Context) error

	// Aggregates for the results views.
	TestResponses(ctx context.Context, testID int64) ([]*types.Response, error)
	WordFrequency(ctx context.Context, testID int64) ([]*types.WordCount, error)
	TestStatistics(ctx context.Context, testID int64) (*types.TestStatistics, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
