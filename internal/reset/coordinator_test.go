package reset

import (
	"context"
	"sync"
	"testing"
	"time"

	"wordassoc/internal/registry"
	"wordassoc/internal/store"
	"wordassoc/pkg/types"
)

type mockNotifier struct {
	mu         sync.Mutex
	cancelled  []int64
	userResets int
	emergency  int
	closedAll  int
	order      []string
}

func (m *mockNotifier) TestCancelled(testID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, testID)
	m.order = append(m.order, "test-cancelled")
}

func (m *mockNotifier) UserReset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userResets++
	m.order = append(m.order, "user-reset")
}

func (m *mockNotifier) EmergencyReset(_ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergency++
	m.order = append(m.order, "emergency-reset")
}

func (m *mockNotifier) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closedAll++
	m.order = append(m.order, "close-all")
	return nil
}

type mockTokens struct {
	mu          sync.Mutex
	invalidated int
}

func (m *mockTokens) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

func setup(t *testing.T) (*Coordinator, store.Store, *registry.Registry, *mockNotifier, *mockTokens) {
	t.Helper()

	st := store.NewMemory()
	reg := registry.New(st)
	notifier := &mockNotifier{}
	tokens := &mockTokens{}
	return NewCoordinator(st, reg, notifier, tokens), st, reg, notifier, tokens
}

func TestSoftResetReturnsEveryoneToIdle(t *testing.T) {
	ctx := context.Background()
	c, st, reg, notifier, _ := setup(t)

	testID, _ := st.CreateTest(ctx, "kitap")
	_ = st.StartTest(ctx, testID, time.Now())
	p, _ := reg.RegisterConnection(ctx, "", "alice", "conn-1")
	_, _, _ = reg.RecordSubmission(ctx, "conn-1", []string{"defter"})

	if err := c.SoftReset(ctx); err != nil {
		t.Fatalf("SoftReset failed: %v", err)
	}

	test, _ := st.GetTest(ctx, testID)
	if test.Status != types.TestStatusCancelled {
		t.Errorf("expected active test cancelled, got %s", test.Status)
	}

	// Identity and connection survive; only submission state is cleared.
	stored, err := st.ParticipantBySessionID(ctx, p.SessionID)
	if err != nil {
		t.Fatalf("identity lost in soft reset: %v", err)
	}
	if stored.HasSubmitted {
		t.Error("expected submitted flag cleared in store")
	}
	if reg.Count() != 1 {
		t.Errorf("expected participant still online, count=%d", reg.Count())
	}
	if len(reg.SubmittedConnectionIDs()) != 0 {
		t.Error("expected no submitted connections in roster")
	}

	if len(notifier.cancelled) != 1 || notifier.cancelled[0] != testID {
		t.Errorf("expected test-cancelled for %d, got %v", testID, notifier.cancelled)
	}
	if notifier.userResets != 1 {
		t.Errorf("expected one user-reset, got %d", notifier.userResets)
	}
}

func TestSoftResetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, st, reg, notifier, _ := setup(t)

	testID, _ := st.CreateTest(ctx, "kitap")
	_ = st.StartTest(ctx, testID, time.Now())
	_, _ = reg.RegisterConnection(ctx, "", "alice", "conn-1")

	if err := c.SoftReset(ctx); err != nil {
		t.Fatalf("first SoftReset failed: %v", err)
	}
	if err := c.SoftReset(ctx); err != nil {
		t.Fatalf("second SoftReset failed: %v", err)
	}

	// No test to cancel the second time around.
	if len(notifier.cancelled) != 1 {
		t.Errorf("expected one test-cancelled, got %v", notifier.cancelled)
	}
	if notifier.userResets != 2 {
		t.Errorf("expected user-reset each run, got %d", notifier.userResets)
	}
}

func TestEmergencyResetWipesEverything(t *testing.T) {
	ctx := context.Background()
	c, st, reg, notifier, tokens := setup(t)

	_, _ = st.CreateTest(ctx, "pending")
	activeID, _ := st.CreateTest(ctx, "running")
	_ = st.StartTest(ctx, activeID, time.Now())
	p, _ := reg.RegisterConnection(ctx, "", "alice", "conn-1")

	at, err := c.EmergencyReset(ctx)
	if err != nil {
		t.Fatalf("EmergencyReset failed: %v", err)
	}
	if at.IsZero() {
		t.Error("expected a reset timestamp")
	}

	active, _ := st.ActiveTest(ctx)
	if active != nil {
		t.Errorf("expected no active test, got %+v", active)
	}
	ready, _ := st.ReadyTest(ctx)
	if ready != nil {
		t.Errorf("expected no ready test, got %+v", ready)
	}

	// The old token no longer resolves anything.
	if _, err := st.ParticipantBySessionID(ctx, p.SessionID); err == nil {
		t.Error("expected session token revoked")
	}
	if reg.Count() != 0 {
		t.Errorf("expected empty roster, got %d", reg.Count())
	}
	if tokens.invalidated != 1 {
		t.Errorf("expected admin tokens invalidated once, got %d", tokens.invalidated)
	}
	if notifier.emergency != 1 || notifier.closedAll != 1 {
		t.Errorf("expected one announcement and one close-all, got %d/%d", notifier.emergency, notifier.closedAll)
	}
}

func TestEmergencyResetAnnouncesBeforeClosing(t *testing.T) {
	ctx := context.Background()
	c, _, _, notifier, _ := setup(t)

	if _, err := c.EmergencyReset(ctx); err != nil {
		t.Fatalf("EmergencyReset failed: %v", err)
	}

	if len(notifier.order) != 2 || notifier.order[0] != "emergency-reset" || notifier.order[1] != "close-all" {
		t.Errorf("expected announce then close, got %v", notifier.order)
	}
}

func TestEmergencyResetWithoutTokenStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	reg := registry.New(st)
	c := NewCoordinator(st, reg, &mockNotifier{}, nil)

	if _, err := c.EmergencyReset(ctx); err != nil {
		t.Fatalf("EmergencyReset with nil tokens failed: %v", err)
	}
}
