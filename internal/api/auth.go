package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"wordassoc/pkg/types"
)

const adminTokenHeader = "X-Admin-Token"

// TokenStore holds issued admin login tokens in memory. Tokens do not
// survive a restart, which doubles as a crude global logout. The emergency
// reset calls InvalidateAll through the reset coordinator.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]bool
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]bool)}
}

// Issue mints and records a fresh token.
func (s *TokenStore) Issue() string {
	token := uuid.New().String()
	s.mu.Lock()
	s.tokens[token] = true
	s.mu.Unlock()
	return token
}

// Valid reports whether the token is currently recognized.
func (s *TokenStore) Valid(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[token]
}

// Revoke forgets one token.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// InvalidateAll forgets every issued token.
func (s *TokenStore) InvalidateAll() {
	s.mu.Lock()
	s.tokens = make(map[string]bool)
	s.mu.Unlock()
}

func adminToken(c *gin.Context) string {
	if token := c.GetHeader(adminTokenHeader); token != "" {
		return token
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireAdmin aborts requests that do not carry a valid admin token.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.tokens.Valid(adminToken(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": types.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleAdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": s.tokens.Issue()})
}

func (s *Server) handleAdminLogout(c *gin.Context) {
	if token := adminToken(c); token != "" {
		s.tokens.Revoke(token)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAdminAuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": s.tokens.Valid(adminToken(c))})
}
