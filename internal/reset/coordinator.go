package reset

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"wordassoc/internal/registry"
	"wordassoc/internal/store"
)

// Notifier is the push surface the coordinator needs. The broadcaster
// satisfies it.
type Notifier interface {
	TestCancelled(testID int64)
	UserReset()
	EmergencyReset(at time.Time)
	CloseAll() error
}

// TokenInvalidator revokes server-held admin login sessions. Satisfied by
// the API auth token store.
type TokenInvalidator interface {
	InvalidateAll()
}

// Coordinator runs the two reset protocols. Both are serialized under one
// mutex so concurrent reset requests cannot interleave their steps, and
// both follow the same ordering: persist first, then clear in-memory
// state, then notify.
type Coordinator struct {
	store    store.Store
	registry *registry.Registry
	notifier Notifier
	tokens   TokenInvalidator
	mu       sync.Mutex
}

// NewCoordinator creates a reset coordinator. tokens may be nil when no
// admin auth layer is wired, such as in tests.
func NewCoordinator(st store.Store, reg *registry.Registry, notifier Notifier, tokens TokenInvalidator) *Coordinator {
	return &Coordinator{store: st, registry: reg, notifier: notifier, tokens: tokens}
}

// SoftReset returns every participant to the idle view: any open test is
// cancelled, submission flags are cleared, identities and connections
// survive. Running it twice is the same as running it once.
func (c *Coordinator) SoftReset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.store.ActiveTest(ctx)
	if err != nil {
		return fmt.Errorf("failed to look up active test: %w", err)
	}
	if active != nil {
		if err := c.store.CancelTest(ctx, active.ID, time.Now()); err != nil {
			return fmt.Errorf("failed to cancel active test: %w", err)
		}
	}

	if err := c.store.ResetParticipants(ctx); err != nil {
		return fmt.Errorf("failed to reset participants: %w", err)
	}

	c.registry.ClearSubmissions()

	if active != nil {
		c.notifier.TestCancelled(active.ID)
	}
	c.notifier.UserReset()

	log.Println("Soft reset complete")

	return nil
}

// EmergencyReset wipes all live state: every open test is cancelled, every
// session token is revoked so no stored identity can be resumed, the
// roster is emptied, and every connection is force-closed. Returns the
// reset timestamp that was announced to clients.
func (c *Coordinator) EmergencyReset(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := time.Now()

	cancelled, err := c.store.CancelOpenTests(ctx, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to cancel open tests: %w", err)
	}

	if err := c.store.ClearSessionTokens(ctx); err != nil {
		return time.Time{}, fmt.Errorf("failed to clear session tokens: %w", err)
	}

	c.registry.Clear()
	if c.tokens != nil {
		c.tokens.InvalidateAll()
	}

	// Announce before tearing sockets down; the broadcaster processes
	// these in order, so every client hears the reset before its
	// connection dies.
	c.notifier.EmergencyReset(at)
	if err := c.notifier.CloseAll(); err != nil {
		log.Printf("Failed to close connections during emergency reset: %v", err)
	}

	log.Printf("Emergency reset complete, %d open test(s) cancelled", cancelled)

	return at, nil
}
