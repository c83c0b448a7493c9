package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"wordassoc/internal/store"
	"wordassoc/pkg/types"
)

// Registry tracks which participants are currently online. It is a
// rebuildable cache keyed by connection handle; the store remains the
// source of truth for durable identity and submission state. Everything a
// disconnect needs to clean up lives here, so a dropped socket never
// touches participant rows.
type Registry struct {
	store store.Store

	mu     sync.RWMutex
	byConn map[string]*types.Participant
}

// New creates an empty registry over the given store.
func New(st store.Store) *Registry {
	return &Registry{
		store:  st,
		byConn: make(map[string]*types.Participant),
	}
}

// RegisterConnection resolves a durable participant for an incoming
// connection and records it in the roster.
//
// An empty or unknown session token creates a fresh participant with a new
// token; a recognized token re-attaches the existing identity, preserving
// its submission state for the current cycle. Either way the participant is
// associated with the active test if one is running and they are not
// already part of it.
func (r *Registry) RegisterConnection(ctx context.Context, sessionToken, username, connID string) (*types.Participant, error) {
	participant, err := r.ResolveSession(ctx, sessionToken, username)
	if err != nil {
		return nil, err
	}

	if err := r.store.UpdateParticipantConnection(ctx, participant.ID, connID); err != nil {
		return nil, fmt.Errorf("failed to record connection: %w", err)
	}
	participant.ConnectionID = connID

	r.mu.Lock()
	// The same identity may reconnect before the old socket is reaped.
	// Drop any stale handle so the roster never counts one person twice.
	for id, p := range r.byConn {
		if p.ID == participant.ID && id != connID {
			delete(r.byConn, id)
		}
	}
	r.byConn[connID] = participant
	r.mu.Unlock()

	log.Printf("Participant %s connected (connection %s)", participant.Username, connID)

	return snapshot(participant), nil
}

// ResolveSession resolves or creates a durable participant without
// touching the roster. The REST join endpoint uses it directly; the push
// channel wraps it in RegisterConnection.
func (r *Registry) ResolveSession(ctx context.Context, sessionToken, username string) (*types.Participant, error) {
	if !types.IsValidUsername(username) {
		return nil, types.ErrInvalidUsername
	}

	active, err := r.store.ActiveTest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active test: %w", err)
	}

	participant, err := r.resolve(ctx, sessionToken, username, active)
	if err != nil {
		return nil, err
	}

	if active != nil && (participant.TestID == nil || *participant.TestID != active.ID) {
		if err := r.store.SetParticipantTest(ctx, participant.ID, &active.ID); err != nil {
			return nil, fmt.Errorf("failed to associate participant with test: %w", err)
		}
		participant.TestID = &active.ID
		participant.HasSubmitted = false
	}

	return participant, nil
}

func (r *Registry) resolve(ctx context.Context, sessionToken, username string, active *types.Test) (*types.Participant, error) {
	if sessionToken != "" {
		participant, err := r.store.ParticipantBySessionID(ctx, sessionToken)
		if err == nil {
			return participant, nil
		}
		if !errors.Is(err, types.ErrParticipantNotFound) {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
		// Unknown token, likely left over from before an emergency reset.
		// Fall through and mint a new identity.
	}

	var testID *int64
	if active != nil {
		testID = &active.ID
	}

	token := uuid.New().String()
	id, err := r.store.CreateParticipant(ctx, username, token, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", err)
	}

	participant, err := r.store.ParticipantBySessionID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to load new participant %d: %w", id, err)
	}

	return participant, nil
}

// RecordSubmission persists a word batch for the connection's participant
// against the active test. Returns the stored word count.
func (r *Registry) RecordSubmission(ctx context.Context, connID string, words []string) (*types.Participant, int, error) {
	r.mu.RLock()
	participant, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return nil, 0, types.ErrNotRegistered
	}

	normalized := types.NormalizeWords(words)
	if len(normalized) == 0 {
		return nil, 0, types.ErrEmptyWordList
	}

	active, err := r.store.ActiveTest(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to look up active test: %w", err)
	}
	if active == nil {
		return nil, 0, types.ErrNoActiveTest
	}

	// A participant still carrying state from an earlier cycle joins the
	// running test on first submission. Re-associating clears the stored
	// submitted flag, so the flag stays scoped to this test.
	if participant.TestID == nil || *participant.TestID != active.ID {
		if err := r.store.SetParticipantTest(ctx, participant.ID, &active.ID); err != nil {
			return nil, 0, fmt.Errorf("failed to associate participant with test: %w", err)
		}
	}

	if err := r.store.SubmitResponses(ctx, participant.ID, active.ID, normalized); err != nil {
		return nil, 0, err
	}

	r.mu.Lock()
	if p, ok := r.byConn[connID]; ok {
		p.HasSubmitted = true
		p.TestID = &active.ID
	}
	r.mu.Unlock()

	return snapshot(participant), len(normalized), nil
}

// RecordSubmissionBySession is the REST variant of RecordSubmission: the
// caller identifies by durable session token instead of a live connection.
// Any online roster entry for the same participant is updated so the push
// and REST views stay consistent.
func (r *Registry) RecordSubmissionBySession(ctx context.Context, sessionToken string, words []string) (*types.Participant, int, error) {
	if sessionToken == "" {
		return nil, 0, types.ErrUnauthorized
	}

	participant, err := r.store.ParticipantBySessionID(ctx, sessionToken)
	if err != nil {
		return nil, 0, err
	}

	normalized := types.NormalizeWords(words)
	if len(normalized) == 0 {
		return nil, 0, types.ErrEmptyWordList
	}

	active, err := r.store.ActiveTest(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to look up active test: %w", err)
	}
	if active == nil {
		return nil, 0, types.ErrNoActiveTest
	}

	if participant.TestID == nil || *participant.TestID != active.ID {
		if err := r.store.SetParticipantTest(ctx, participant.ID, &active.ID); err != nil {
			return nil, 0, fmt.Errorf("failed to associate participant with test: %w", err)
		}
		participant.TestID = &active.ID
		participant.HasSubmitted = false
	}

	if err := r.store.SubmitResponses(ctx, participant.ID, active.ID, normalized); err != nil {
		return nil, 0, err
	}
	participant.HasSubmitted = true
	participant.TestID = &active.ID

	r.mu.Lock()
	for _, p := range r.byConn {
		if p.ID == participant.ID {
			p.HasSubmitted = true
			p.TestID = &active.ID
		}
	}
	r.mu.Unlock()

	return snapshot(participant), len(normalized), nil
}

// UnregisterConnection removes a connection handle from the roster. The
// participant row is untouched so the identity survives for reconnection.
func (r *Registry) UnregisterConnection(connID string) *types.Participant {
	r.mu.Lock()
	participant, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	log.Printf("Participant %s disconnected (connection %s)", participant.Username, connID)

	return snapshot(participant)
}

// ParticipantByConnection returns the roster entry for a connection handle.
func (r *Registry) ParticipantByConnection(connID string) (*types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participant, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return snapshot(participant), true
}

// Count returns how many participants are online.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// SnapshotRoster returns the connected participants ordered by join time.
func (r *Registry) SnapshotRoster() []types.RosterEntry {
	r.mu.RLock()
	entries := make([]types.RosterEntry, 0, len(r.byConn))
	for _, p := range r.byConn {
		entries = append(entries, types.RosterEntry{
			Username:     p.Username,
			HasSubmitted: p.HasSubmitted,
			ConnectedAt:  p.ConnectedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ConnectedAt.Equal(entries[j].ConnectedAt) {
			return entries[i].Username < entries[j].Username
		}
		return entries[i].ConnectedAt.Before(entries[j].ConnectedAt)
	})

	return entries
}

// SubmittedConnectionIDs lists connections whose participant already
// submitted in the current cycle.
func (r *Registry) SubmittedConnectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, p := range r.byConn {
		if p.HasSubmitted {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClearSubmissionsForTest resets the cycle state of everyone online who
// was part of the given test. Runs when a test finishes or is cancelled,
// so a participant who stays connected starts the next cycle fresh.
func (r *Registry) ClearSubmissionsForTest(testID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.byConn {
		if p.TestID != nil && *p.TestID == testID {
			p.HasSubmitted = false
			p.TestID = nil
		}
	}
}

// ClearSubmissions resets the submitted flag for everyone online. Used by
// the soft reset after the store rows have been cleared.
func (r *Registry) ClearSubmissions() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.byConn {
		p.HasSubmitted = false
		p.TestID = nil
	}
}

// Clear empties the roster entirely. Used by the emergency reset before
// connections are torn down.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn = make(map[string]*types.Participant)
}

func snapshot(p *types.Participant) *types.Participant {
	cp := *p
	if p.TestID != nil {
		id := *p.TestID
		cp.TestID = &id
	}
	return &cp
}
