package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"wordassoc/internal/broadcast"
	"wordassoc/internal/config"
	"wordassoc/internal/lifecycle"
	"wordassoc/internal/registry"
	"wordassoc/internal/reset"
	"wordassoc/internal/store"
	"wordassoc/internal/ws"
	"wordassoc/pkg/types"
)

// Server owns the HTTP surface: the REST API, the health check, and the
// WebSocket upgrade endpoint. Push and REST share the same underlying
// state, so a poll after a push event always agrees with it.
type Server struct {
	cfg         *config.Config
	engine      *gin.Engine
	store       store.Store
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	lifecycle   *lifecycle.Manager
	resets      *reset.Coordinator
	tokens      *TokenStore
	limiter     *rateLimiter
	wsHandler   *ws.Handler
	done        chan struct{}
}

// NewServer wires the HTTP layer over the given components.
func NewServer(
	cfg *config.Config,
	st store.Store,
	reg *registry.Registry,
	b *broadcast.Broadcaster,
	lm *lifecycle.Manager,
	rc *reset.Coordinator,
	tokens *TokenStore,
	wsHandler *ws.Handler,
) *Server {
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:         cfg,
		store:       st,
		registry:    reg,
		broadcaster: b,
		lifecycle:   lm,
		resets:      rc,
		tokens:      tokens,
		limiter:     newRateLimiter(cfg.RateLimit),
		wsHandler:   wsHandler,
		done:        make(chan struct{}),
	}
	s.engine = s.buildEngine()

	go s.limiter.cleanupLoop(s.done)

	return s
}

func (s *Server) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/ws", s.wsHandler.Handle)

	api := engine.Group("/api")
	api.Use(s.limiter.middleware())

	admin := api.Group("/admin")
	{
		admin.POST("/login", s.handleAdminLogin)
		admin.GET("/status", s.handleAdminAuthStatus)

		authed := admin.Group("")
		authed.Use(s.requireAdmin())
		{
			authed.POST("/logout", s.handleAdminLogout)
			authed.GET("/dashboard", s.handleAdminDashboard)
			authed.GET("/tests", s.handleAdminTests)
			authed.POST("/test", s.handleCreateTest)
			authed.POST("/test/:testId/start", s.handleStartTest)
			authed.POST("/test/:testId/finish", s.handleFinishTest)
			authed.POST("/cancel-test/:testId", s.handleCancelTest)
			authed.POST("/soft-reset", s.handleSoftReset)
			authed.POST("/emergency-reset", s.handleEmergencyReset)
			authed.GET("/join-qr", s.handleJoinQR)
		}
	}

	user := api.Group("/user")
	{
		user.POST("/connect", s.handleUserConnect)
		user.GET("/status", s.handleUserStatus)
		user.POST("/submit", s.handleUserSubmit)
	}

	charts := api.Group("/charts")
	{
		charts.GET("/tests", s.handleChartsTests)
		charts.GET("/latest", s.handleChartsLatest)
		charts.GET("/data/:testId", s.handleChartsData)
		charts.GET("/timeline/:testId", s.handleChartsTimeline)
		charts.GET("/export/:testId", s.handleChartsExport)
	}

	return engine
}

// Handler exposes the routing tree for the HTTP server and for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps component errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case types.IsValidation(err):
		status = http.StatusBadRequest
		message = err.Error()
	case types.IsUnauthorized(err):
		status = http.StatusUnauthorized
		message = err.Error()
	case types.IsNotFound(err):
		status = http.StatusNotFound
		message = err.Error()
	case types.IsConflict(err), types.IsInvalidState(err):
		status = http.StatusConflict
		message = err.Error()
	}

	c.JSON(status, gin.H{"error": message})
}
