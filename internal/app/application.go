// Package app wires the hub components together and manages their
// lifecycle. All mutable process state lives in the Application and is
// constructed at start and torn down at shutdown; nothing is ambient.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"scanhub/internal/api"
	"scanhub/internal/config"
	"scanhub/internal/roster"
	"scanhub/internal/router"
	"scanhub/internal/store"
	"scanhub/internal/websocket"
)

// Application coordinates the store, roster cache, connection registry,
// broadcaster, protocol handler and HTTP server.
type Application struct {
	config      *config.Config
	logger      *slog.Logger
	store       *store.Store
	roster      *roster.Cache
	registry    *websocket.Registry
	broadcaster *router.Broadcaster
	httpServer  *http.Server
}

// New initializes all components in dependency order:
// Store → Roster → Registry → Broadcaster → Handler → API → HTTP.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.New(cfg.StorageDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	rosterCache, err := roster.New(cfg.StorageDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize roster cache: %w", err)
	}

	registry := websocket.NewRegistry(cfg.Token, logger)
	broadcaster := router.NewBroadcaster(registry, logger)

	wsHandler := websocket.NewHandler(registry, rosterCache, st, broadcaster, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval.Duration(),
		ReadTimeout:  cfg.WebSocket.ReadTimeout.Duration(),
		WriteTimeout: cfg.WebSocket.WriteTimeout.Duration(),
		SendBuffer:   cfg.WebSocket.SendBuffer,
	}, logger)

	apiServer := api.NewServer(rosterCache, st, registry, broadcaster, wsHandler.HandleWebSocket, cfg.StaticDir, logger)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Duration(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Duration(),
	}

	return &Application{
		config:      cfg,
		logger:      logger,
		store:       st,
		roster:      rosterCache,
		registry:    registry,
		broadcaster: broadcaster,
		httpServer:  httpServer,
	}, nil
}

// Handler returns the root HTTP handler, used by tests to mount the whole
// application on an httptest server.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Start begins serving and returns once the listener is up or has failed.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting scanhub", "addr", a.httpServer.Addr)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		a.logger.Info("scanhub started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: stop accepting HTTP, then drop every
// live connection.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("shutting down scanhub")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warn("HTTP server shutdown error", "error", err)
	}
	a.registry.Shutdown()

	a.logger.Info("scanhub shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (a *Application) Addr() string {
	return a.httpServer.Addr
}
