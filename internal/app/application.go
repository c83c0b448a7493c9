package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"wordassoc/internal/api"
	"wordassoc/internal/broadcast"
	"wordassoc/internal/config"
	"wordassoc/internal/lifecycle"
	"wordassoc/internal/registry"
	"wordassoc/internal/reset"
	"wordassoc/internal/store"
	"wordassoc/internal/ws"
)

// Application wires all components together. Initialization follows
// dependency order: Store -> Registry -> Broadcaster -> Lifecycle ->
// Reset -> API -> HTTP.
type Application struct {
	config      *config.Config
	store       store.Store
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	lifecycle   *lifecycle.Manager
	resets      *reset.Coordinator
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication builds an application from validated configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	reg := registry.New(st)

	broadcaster := broadcast.New()
	broadcaster.SetSubmittedFilter(reg.SubmittedConnectionIDs)

	lifecycleManager := lifecycle.NewManager(st, broadcaster, reg)

	tokens := api.NewTokenStore()
	resetCoordinator := reset.NewCoordinator(st, reg, broadcaster, tokens)

	wsHandler := ws.NewHandler(reg, broadcaster, lifecycleManager)

	apiServer := api.NewServer(cfg, st, reg, broadcaster, lifecycleManager, resetCoordinator, tokens, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections outlive any fixed write budget
	}

	return &Application{
		config:      cfg,
		store:       st,
		registry:    reg,
		broadcaster: broadcaster,
		lifecycle:   lifecycleManager,
		resets:      resetCoordinator,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start launches background processing and the HTTP listener. Returns once
// the server is accepting connections.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting wordassoc on %s", app.httpServer.Addr)

	if err := app.broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broadcaster: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.broadcaster.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Println("wordassoc started successfully")
		return nil
	case <-ctx.Done():
		_ = app.broadcaster.Stop()
		return ctx.Err()
	}
}

// Stop shuts everything down in reverse dependency order: HTTP ->
// Broadcaster -> Store.
func (app *Application) Stop(ctx context.Context) error {
	log.Println("Shutting down wordassoc")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.apiServer.Close()

	if err := app.broadcaster.Stop(); err != nil && err != broadcast.ErrNotRunning {
		log.Printf("Broadcaster shutdown error: %v", err)
	}

	if err := app.store.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// Addr returns the listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
