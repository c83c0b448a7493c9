package lifecycle

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"wordassoc/internal/store"
	"wordassoc/pkg/types"
)

// Notifier pushes committed state changes to connected clients. The
// broadcaster satisfies it; tests use a recording fake.
type Notifier interface {
	TestStarted(testID int64, word string)
	TestFinished(testID int64)
	TestCancelled(testID int64)
}

// Roster clears per-cycle submission state for connected participants when
// a test leaves the active state. The session registry satisfies it. The
// submitted flag belongs to a test association; once that test is over,
// anyone still connected starts the next cycle unsubmitted.
type Roster interface {
	ClearSubmissionsForTest(testID int64)
}

// Manager owns the test state machine. Every transition is serialized
// under one mutex and persisted before any notification goes out, so a
// client that polls right after a push always sees the new state.
type Manager struct {
	store    store.Store
	notifier Notifier
	roster   Roster
	mu       sync.Mutex
}

// NewManager creates a lifecycle manager.
func NewManager(st store.Store, notifier Notifier, roster Roster) *Manager {
	return &Manager{store: st, notifier: notifier, roster: roster}
}

// CreateTest registers a new test in the ready state. A ready test that
// was never started does not block creation; a newer ready test simply
// supersedes it. Only a running test does.
func (m *Manager) CreateTest(ctx context.Context, word string) (*types.Test, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil, types.ErrEmptyWord
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveTest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active test: %w", err)
	}
	if active != nil {
		return nil, types.ErrActiveTestExists
	}

	id, err := m.store.CreateTest(ctx, word)
	if err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}

	log.Printf("Test %d created with word %q", id, word)

	return m.store.GetTest(ctx, id)
}

// StartTest activates a ready test. Fails if the test is not in the ready
// state or another test is already running.
func (m *Manager) StartTest(ctx context.Context, id int64) (*types.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	test, err := m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if test.Status != types.TestStatusReady {
		return nil, fmt.Errorf("cannot start test %d in state %s: %w", id, test.Status, types.ErrTestNotReady)
	}

	active, err := m.store.ActiveTest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active test: %w", err)
	}
	if active != nil {
		return nil, types.ErrActiveTestExists
	}

	if err := m.store.StartTest(ctx, id, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to start test %d: %w", id, err)
	}

	test, err = m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Printf("Test %d started with word %q", test.ID, test.Word)
	m.notifier.TestStarted(test.ID, test.Word)

	return test, nil
}

// FinishTest ends the active test. Only the currently active test can be
// finished.
func (m *Manager) FinishTest(ctx context.Context, id int64) (*types.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	test, err := m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if test.Status != types.TestStatusActive {
		return nil, fmt.Errorf("cannot finish test %d in state %s: %w", id, test.Status, types.ErrTestNotActive)
	}

	if err := m.store.FinishTest(ctx, id, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to finish test %d: %w", id, err)
	}

	test, err = m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Printf("Test %d finished", test.ID)
	m.roster.ClearSubmissionsForTest(test.ID)
	m.notifier.TestFinished(test.ID)

	return test, nil
}

// CancelTest abandons a ready or active test. Terminal tests cannot be
// cancelled again.
func (m *Manager) CancelTest(ctx context.Context, id int64) (*types.Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	test, err := m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}
	if test.IsTerminal() {
		return nil, fmt.Errorf("cannot cancel test %d in state %s: %w", id, test.Status, types.ErrTestNotActive)
	}

	if err := m.store.CancelTest(ctx, id, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to cancel test %d: %w", id, err)
	}

	test, err = m.store.GetTest(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Printf("Test %d cancelled", test.ID)
	m.roster.ClearSubmissionsForTest(test.ID)
	m.notifier.TestCancelled(test.ID)

	return test, nil
}

// ActiveTest returns the running test, or nil when none is running.
func (m *Manager) ActiveTest(ctx context.Context) (*types.Test, error) {
	return m.store.ActiveTest(ctx)
}

// ReadyTest returns the most recent test awaiting start, or nil.
func (m *Manager) ReadyTest(ctx context.Context) (*types.Test, error) {
	return m.store.ReadyTest(ctx)
}

// LatestTest returns the most recently created test regardless of state.
func (m *Manager) LatestTest(ctx context.Context) (*types.Test, error) {
	return m.store.LatestTest(ctx)
}

// LatestFinishedTest returns the most recently completed test, or nil.
func (m *Manager) LatestFinishedTest(ctx context.Context) (*types.Test, error) {
	return m.store.LatestFinishedTest(ctx)
}

// GetTest returns a test by ID.
func (m *Manager) GetTest(ctx context.Context, id int64) (*types.Test, error) {
	return m.store.GetTest(ctx, id)
}
