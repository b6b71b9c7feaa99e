package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"mentorchat/internal/api"
	"mentorchat/internal/auth"
	"mentorchat/internal/config"
	"mentorchat/internal/membership"
	"mentorchat/internal/router"
	"mentorchat/internal/store"
	"mentorchat/internal/websocket"
)

// Application wires the components together in dependency order:
// store → authority → registry → router → handlers → HTTP.
type Application struct {
	config     *config.Config
	store      *store.Manager
	registry   *websocket.Registry
	router     *router.Router
	apiServer  *api.Server
	wsHandler  *websocket.Handler
	httpServer *http.Server
	log        zerolog.Logger
}

// NewApplication builds the service from configuration.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storeManager, err := store.NewManager(store.Config{
		Path:            cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		WriteTimeout:    cfg.Database.WriteTimeout,
	}, log.With().Str("component", "store").Logger())
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	authority := membership.NewAuthority(storeManager)
	registry := websocket.NewRegistry()
	conversationRouter := router.NewRouter(
		registry,
		authority,
		storeManager,
		cfg.Chat.HistoryPageSize,
		log.With().Str("component", "router").Logger(),
	)

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)

	wsHandler := websocket.NewHandler(registry, conversationRouter, verifier, storeManager, websocket.HandlerConfig{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		SendBuffer:       cfg.WebSocket.SendBuffer,
	}, log.With().Str("component", "websocket").Logger())

	apiServer := api.NewServer(
		conversationRouter,
		authority,
		storeManager,
		registry,
		verifier,
		storeManager,
		cfg.Chat.HistoryPageSize,
		log.With().Str("component", "api").Logger(),
	)

	root := chi.NewRouter()
	root.Use(chimiddleware.Recoverer)
	root.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	root.Mount("/api/chat", apiServer.Routes())
	root.Get("/health", apiServer.HandleHealth)
	root.Get("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:     root,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// No WriteTimeout on the server: it would sever long-lived
		// WebSocket sessions. Handlers bound their own writes.
	}

	return &Application{
		config:     cfg,
		store:      storeManager,
		registry:   registry,
		router:     conversationRouter,
		apiServer:  apiServer,
		wsHandler:  wsHandler,
		httpServer: httpServer,
		log:        log,
	}, nil
}

// Start begins serving. Returns once the listener is up or startup
// failed.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting mentorchat")

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("mentorchat started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the service down in reverse dependency order: stop
// accepting connections, then close the store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error().Err(err).Msg("HTTP shutdown")
	}

	if err := app.store.Close(); err != nil {
		app.log.Error().Err(err).Msg("store shutdown")
	}

	app.log.Info().Msg("shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}
