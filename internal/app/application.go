// Package app assembles the collaboration service. Construction follows
// dependency order: directory, store, registry, broadcaster, presence,
// reaper, hub, API, HTTP.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"surveysync/internal/api"
	"surveysync/internal/broadcast"
	"surveysync/internal/config"
	"surveysync/internal/database"
	"surveysync/internal/hub"
	"surveysync/internal/presence"
	"surveysync/internal/reaper"
	"surveysync/internal/session"
	"surveysync/internal/websocket"
	pkgdatabase "surveysync/pkg/database"
	"surveysync/pkg/interfaces"
)

// Application owns every long-lived component and their lifecycles.
type Application struct {
	config      *config.Config
	directory   *database.Manager
	store       *session.Store
	registry    *websocket.Registry
	broadcaster *broadcast.Broadcaster
	collabHub   *hub.Hub
	apiServer   *api.Server
	httpServer  *http.Server
}

// NewApplication constructs the full component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}

	directory, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session directory: %w", err)
	}

	store := session.NewStore(interfaces.SweepPolicy{
		IdleAfter:    cfg.Collaboration.IdleAfter,
		OfflineAfter: cfg.Collaboration.OfflineAfter,
		SessionTTL:   cfg.Collaboration.SessionTTL,
		LockTTL:      cfg.Collaboration.LockTTL,
	}, cfg.Collaboration.ChangeLogLimit)

	registry := websocket.NewRegistry()
	broadcaster := broadcast.NewBroadcaster(store, registry, directory)
	tracker := presence.NewTracker(store, broadcaster)
	sweeper := reaper.New(store, broadcaster)
	collabHub := hub.NewHub(registry, broadcaster, tracker, sweeper, cfg.Collaboration.SweepInterval)

	apiServer := api.NewServer(directory, store, broadcaster, registry)

	wsHandler := websocket.NewHandler(registry, collabHub, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.BufferSize,
	})

	router := apiServer.Router()
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		directory:   directory,
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		collabHub:   collabHub,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start launches the hub and the HTTP server. The hub starts first so the
// first accepted connection already has an event loop behind it.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting surveysync on %s", app.httpServer.Addr)

	if err := app.collabHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.collabHub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("surveysync started")
		return nil
	case <-ctx.Done():
		_ = app.collabHub.Stop()
		return ctx.Err()
	}
}

// Stop shuts components down in reverse dependency order: HTTP, hub,
// directory. In-memory session state is discarded; clients resynchronize
// through the reconnect path after restart.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down surveysync")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.collabHub.Stop(); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}

	if err := app.directory.Close(); err != nil {
		log.Printf("Directory shutdown error: %v", err)
	}

	log.Printf("surveysync shutdown complete")
	return nil
}

// Addr returns the bound server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
