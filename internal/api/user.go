package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wordassoc/pkg/types"
)

const sessionHeader = "X-Session-ID"

func sessionToken(c *gin.Context) string {
	if token := c.GetHeader(sessionHeader); token != "" {
		return token
	}
	return c.Query("sessionId")
}

// handleUserStatus is the poll twin of the user-status push event. An
// unknown or missing session still gets the test state, so a participant
// page can render before identifying.
func (s *Server) handleUserStatus(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := s.lifecycle.ActiveTest(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	status := gin.H{
		"connected":  false,
		"testActive": active != nil,
	}
	if active != nil {
		status["testWord"] = active.Word
	}

	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusOK, status)
		return
	}

	participant, err := s.store.ParticipantBySessionID(ctx, token)
	if err != nil {
		if errors.Is(err, types.ErrParticipantNotFound) {
			c.JSON(http.StatusOK, status)
			return
		}
		respondError(c, err)
		return
	}

	hasSubmitted := participant.HasSubmitted
	if active != nil && (participant.TestID == nil || *participant.TestID != active.ID) {
		// The stored flag belongs to an earlier cycle.
		hasSubmitted = false
	}

	// Point the client at the results view once its test has finished.
	shouldRedirect := false
	if participant.TestID != nil {
		if test, err := s.store.GetTest(ctx, *participant.TestID); err == nil && test.Status == types.TestStatusFinished {
			shouldRedirect = true
		}
	}

	status["connected"] = true
	status["username"] = participant.Username
	status["hasSubmitted"] = hasSubmitted
	status["shouldRedirect"] = shouldRedirect

	c.JSON(http.StatusOK, status)
}

type connectRequest struct {
	Username string `json:"username"`
}

// handleUserConnect is the REST join: it resolves or creates the durable
// identity and hands back the session token to present on the push channel
// and on later polls. It does not put the participant on the live roster;
// only a WebSocket connection does that.
func (s *Server) handleUserConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	participant, err := s.registry.ResolveSession(c.Request.Context(), sessionToken(c), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}

	active, err := s.lifecycle.ActiveTest(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"username":     participant.Username,
		"sessionId":    participant.SessionID,
		"hasSubmitted": participant.HasSubmitted,
		"testActive":   active != nil,
	}
	if active != nil {
		resp["testWord"] = active.Word
	}

	c.JSON(http.StatusOK, resp)
}

type submitRequest struct {
	Words []string `json:"words"`
}

func (s *Server) handleUserSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "words are required"})
		return
	}

	participant, count, err := s.registry.RecordSubmissionBySession(c.Request.Context(), sessionToken(c), req.Words)
	if err != nil {
		respondError(c, err)
		return
	}

	s.broadcaster.UserSubmitted(participant.Username, count)
	s.broadcaster.RosterUpdate(s.registry.Count(), s.registry.SnapshotRoster())

	c.JSON(http.StatusOK, gin.H{"success": true, "wordCount": count})
}
