package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"wordassoc/pkg/types"
)

// Conn is the minimal connection surface the broadcaster needs. Satisfied
// by *ws.Connection; tests use lightweight fakes.
type Conn interface {
	ID() string
	WriteJSON(v interface{}) error
	Close() error
}

type audience int

const (
	audienceAll audience = iota
	audienceParticipants
	audienceAdmins
	audienceDirect
)

type opKind int

const (
	opEvent opKind = iota
	opRegister
	opUnregister
	opCloseAll
)

// operation flows through a single channel so that registration, emission,
// and teardown are processed in submission order. Per-audience delivery
// order then follows from the single run goroutine plus each connection's
// FIFO write channel.
type operation struct {
	kind     opKind
	conn     Conn
	admin    bool
	connID   string
	audience audience
	targetID string
	exclude  map[string]bool
	event    types.Event
	done     chan struct{}
}

// Broadcaster fans lifecycle and roster events out to two audiences: all
// connected participants, and admin observers. Callers enqueue; one run
// goroutine delivers.
type Broadcaster struct {
	operations      chan *operation
	shutdownChannel chan struct{}

	participants map[string]Conn
	admins       map[string]Conn

	// submittedFilter reports connection handles that must not re-enter
	// the input view when a test starts. Set once at wiring time.
	submittedFilter func() []string

	running bool
	mu      sync.RWMutex
}

// New creates a broadcaster. Call Start before enqueueing.
func New() *Broadcaster {
	return &Broadcaster{
		operations:      make(chan *operation, 1000),
		shutdownChannel: make(chan struct{}),
		participants:    make(map[string]Conn),
		admins:          make(map[string]Conn),
	}
}

// SetSubmittedFilter installs the roster lookup used to gate test-started
// delivery. Must be called before Start.
func (b *Broadcaster) SetSubmittedFilter(filter func() []string) {
	b.submittedFilter = filter
}

// Start begins the delivery goroutine.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	log.Println("Starting broadcaster...")
	go b.run(ctx)

	return nil
}

// Stop shuts down the delivery goroutine.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrNotRunning
	}
	b.running = false

	select {
	case <-b.shutdownChannel:
	default:
		close(b.shutdownChannel)
	}

	return nil
}

func (b *Broadcaster) enqueue(op *operation) error {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return ErrNotRunning
	}
	b.mu.RUnlock()

	select {
	case b.operations <- op:
		return nil
	default:
		return ErrChannelFull
	}
}

// AddParticipant joins a connection to the participant audience.
func (b *Broadcaster) AddParticipant(conn Conn) error {
	return b.enqueue(&operation{kind: opRegister, conn: conn})
}

// AddAdmin joins a connection to the admin-observer audience.
func (b *Broadcaster) AddAdmin(conn Conn) error {
	return b.enqueue(&operation{kind: opRegister, conn: conn, admin: true})
}

// Remove drops a connection from whichever audience holds it.
func (b *Broadcaster) Remove(connID string) error {
	return b.enqueue(&operation{kind: opUnregister, connID: connID})
}

// BroadcastAll delivers an event to every connected client, participants
// and admins alike.
func (b *Broadcaster) BroadcastAll(event types.Event) error {
	return b.enqueue(&operation{kind: opEvent, audience: audienceAll, event: event})
}

// BroadcastAdmins delivers an event to admin observers only.
func (b *Broadcaster) BroadcastAdmins(event types.Event) error {
	return b.enqueue(&operation{kind: opEvent, audience: audienceAdmins, event: event})
}

// SendTo delivers an event to a single connection.
func (b *Broadcaster) SendTo(connID string, event types.Event) error {
	return b.enqueue(&operation{kind: opEvent, audience: audienceDirect, targetID: connID, event: event})
}

// CloseAll force-closes every connection in both audiences and empties
// them. It is enqueued like any emission, so a broadcast submitted before
// CloseAll is delivered before the sockets are torn down. Blocks until the
// teardown has been processed.
func (b *Broadcaster) CloseAll() error {
	done := make(chan struct{})
	if err := b.enqueue(&operation{kind: opCloseAll, done: done}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return ErrCloseTimeout
	case <-b.shutdownChannel:
		return ErrNotRunning
	}
}

func (b *Broadcaster) run(ctx context.Context) {
	defer log.Println("Broadcaster stopped")

	for {
		select {
		case op := <-b.operations:
			b.handle(op)

		case <-b.shutdownChannel:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (b *Broadcaster) handle(op *operation) {
	switch op.kind {
	case opRegister:
		if op.conn == nil {
			log.Println("Attempted to register nil connection")
			return
		}
		if op.admin {
			b.admins[op.conn.ID()] = op.conn
		} else {
			b.participants[op.conn.ID()] = op.conn
		}

	case opUnregister:
		delete(b.participants, op.connID)
		delete(b.admins, op.connID)

	case opEvent:
		b.deliver(op)

	case opCloseAll:
		for id, conn := range b.participants {
			if err := conn.Close(); err != nil {
				log.Printf("Failed to close participant connection %s: %v", id, err)
			}
		}
		for id, conn := range b.admins {
			if err := conn.Close(); err != nil {
				log.Printf("Failed to close admin connection %s: %v", id, err)
			}
		}
		b.participants = make(map[string]Conn)
		b.admins = make(map[string]Conn)
		if op.done != nil {
			close(op.done)
		}
	}
}

func (b *Broadcaster) deliver(op *operation) {
	writeTo := func(id string, conn Conn) {
		if op.exclude != nil && op.exclude[id] {
			return
		}
		if err := conn.WriteJSON(op.event); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", op.event.Name, id, err)
		}
	}

	switch op.audience {
	case audienceAll:
		for id, conn := range b.participants {
			writeTo(id, conn)
		}
		for id, conn := range b.admins {
			writeTo(id, conn)
		}

	case audienceParticipants:
		for id, conn := range b.participants {
			writeTo(id, conn)
		}

	case audienceAdmins:
		for id, conn := range b.admins {
			writeTo(id, conn)
		}

	case audienceDirect:
		if conn, ok := b.participants[op.targetID]; ok {
			writeTo(op.targetID, conn)
		} else if conn, ok := b.admins[op.targetID]; ok {
			writeTo(op.targetID, conn)
		}
	}
}
