package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wordassoc/internal/broadcast"
	"wordassoc/internal/lifecycle"
	"wordassoc/internal/registry"
	"wordassoc/pkg/types"
)

const (
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Handler upgrades HTTP requests to WebSocket connections and runs their
// read loops. A connection is anonymous until its first identifying event:
// user-connected joins the participant audience, admin-connected joins the
// admin audience.
type Handler struct {
	upgrader    websocket.Upgrader
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	lifecycle   *lifecycle.Manager
}

// NewHandler creates a WebSocket handler.
func NewHandler(reg *registry.Registry, b *broadcast.Broadcaster, lm *lifecycle.Manager) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin enforcement is left to the deployment proxy;
			// the classroom setup serves page and socket from one host.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry:    reg,
		broadcaster: b,
		lifecycle:   lm,
	}
}

// inboundMessage is the envelope clients send; Data is decoded per event.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectPayload struct {
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

type submitPayload struct {
	Words []string `json:"words"`
}

// Handle upgrades the request and serves the connection until it drops.
func (h *Handler) Handle(c *gin.Context) {
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	conn := NewConnection(socket)
	defer h.teardown(conn)

	go h.pingLoop(conn, socket)

	socket.SetReadLimit(64 * 1024)
	_ = socket.SetReadDeadline(time.Now().Add(readDeadline))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Connection %s read error: %v", conn.ID(), err)
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(readDeadline))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(conn, "invalid message format")
			continue
		}

		h.dispatch(c.Request.Context(), conn, msg)
	}
}

func (h *Handler) pingLoop(conn *Connection, socket *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-conn.Context().Done():
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, msg inboundMessage) {
	switch msg.Event {
	case types.EventUserConnected:
		h.handleUserConnected(ctx, conn, msg.Data)

	case types.EventAdminConnected:
		h.handleAdminConnected(ctx, conn)

	case types.EventSubmitWords:
		h.handleSubmitWords(ctx, conn, msg.Data)

	default:
		h.sendError(conn, "unknown event: "+msg.Event)
	}
}

func (h *Handler) handleUserConnected(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload connectPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "invalid connect payload")
		return
	}

	participant, err := h.registry.RegisterConnection(ctx, payload.SessionID, payload.Username, conn.ID())
	if err != nil {
		h.sendError(conn, errorMessage(err))
		return
	}

	if err := h.broadcaster.AddParticipant(conn); err != nil {
		log.Printf("Failed to add participant connection %s: %v", conn.ID(), err)
		return
	}

	status := types.UserStatusPayload{
		Connected:    true,
		Username:     participant.Username,
		SessionID:    participant.SessionID,
		HasSubmitted: participant.HasSubmitted,
	}
	if active, err := h.lifecycle.ActiveTest(ctx); err == nil && active != nil {
		status.TestActive = true
		status.TestWord = active.Word
	}
	h.broadcaster.UserStatus(conn.ID(), status)

	h.broadcaster.RosterUpdate(h.registry.Count(), h.registry.SnapshotRoster())
}

func (h *Handler) handleAdminConnected(ctx context.Context, conn *Connection) {
	if err := h.broadcaster.AddAdmin(conn); err != nil {
		log.Printf("Failed to add admin connection %s: %v", conn.ID(), err)
		return
	}

	snapshot := types.AdminStatusPayload{
		UserCount: h.registry.Count(),
		Users:     h.registry.SnapshotRoster(),
	}
	if active, err := h.lifecycle.ActiveTest(ctx); err == nil {
		snapshot.ActiveTest = active
	}
	if latest, err := h.lifecycle.LatestTest(ctx); err == nil {
		snapshot.LatestTest = latest
	}
	h.broadcaster.AdminStatus(conn.ID(), snapshot)
}

func (h *Handler) handleSubmitWords(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload submitPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.sendError(conn, "invalid submission payload")
		return
	}

	participant, count, err := h.registry.RecordSubmission(ctx, conn.ID(), payload.Words)
	if err != nil {
		h.sendError(conn, errorMessage(err))
		return
	}

	h.broadcaster.SubmissionConfirmed(conn.ID(), count)
	h.broadcaster.UserSubmitted(participant.Username, count)
	h.broadcaster.RosterUpdate(h.registry.Count(), h.registry.SnapshotRoster())
}

func (h *Handler) teardown(conn *Connection) {
	_ = conn.Close()

	participant := h.registry.UnregisterConnection(conn.ID())
	if err := h.broadcaster.Remove(conn.ID()); err != nil && !errors.Is(err, broadcast.ErrNotRunning) {
		log.Printf("Failed to remove connection %s: %v", conn.ID(), err)
	}

	if participant != nil {
		h.broadcaster.RosterUpdate(h.registry.Count(), h.registry.SnapshotRoster())
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	if err := conn.WriteJSON(types.NewEvent(types.EventError, types.ErrorPayload{Message: message})); err != nil {
		log.Printf("Failed to send error to %s: %v", conn.ID(), err)
	}
}

// errorMessage maps internal errors to client-safe text.
func errorMessage(err error) string {
	switch {
	case types.IsValidation(err), types.IsInvalidState(err), types.IsConflict(err), types.IsUnauthorized(err):
		return err.Error()
	default:
		return "internal error"
	}
}
