package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"wordassoc/pkg/types"
)

type createTestRequest struct {
	Word string `json:"word"`
}

func (s *Server) handleCreateTest(c *gin.Context) {
	var req createTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "word is required"})
		return
	}

	test, err := s.lifecycle.CreateTest(c.Request.Context(), req.Word)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"test": test})
}

func (s *Server) testIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("testId"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid test id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleStartTest(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}

	test, err := s.lifecycle.StartTest(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"test": test})
}

func (s *Server) handleFinishTest(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}

	test, err := s.lifecycle.FinishTest(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"test": test})
}

func (s *Server) handleCancelTest(c *gin.Context) {
	id, ok := s.testIDParam(c)
	if !ok {
		return
	}

	test, err := s.lifecycle.CancelTest(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"test": test})
}

// handleAdminDashboard returns the same snapshot the push channel replays on
// admin connect, so dashboards can poll or push interchangeably.
func (s *Server) handleAdminDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	active, err := s.lifecycle.ActiveTest(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	ready, err := s.lifecycle.ReadyTest(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	latest, err := s.lifecycle.LatestTest(ctx)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"activeTest":     active,
		"readyTest":      ready,
		"latestTest":     latest,
		"connectedUsers": s.registry.Count(),
		"usersList":      s.registry.SnapshotRoster(),
	})
}

func (s *Server) handleAdminTests(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	tests, err := s.store.ListTests(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if tests == nil {
		tests = []*types.Test{}
	}

	c.JSON(http.StatusOK, gin.H{"tests": tests})
}

func (s *Server) handleSoftReset(c *gin.Context) {
	if err := s.resets.SoftReset(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleEmergencyReset(c *gin.Context) {
	at, err := s.resets.EmergencyReset(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "resetAt": at})
}

// handleJoinQR renders the participant join link as a QR code for
// projecting at the front of the room.
func (s *Server) handleJoinQR(c *gin.Context) {
	png, err := qrcode.Encode(s.cfg.BaseURL(), qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
