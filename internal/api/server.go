package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/sessionmeter/internal/config"
	"github.com/goodtune/sessionmeter/internal/ratelimit"
	"github.com/goodtune/sessionmeter/internal/session"
	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/goodtune/sessionmeter/internal/summary"
)

// Server represents the public HTTP API server.
type Server struct {
	config      *config.Config
	store       storage.Store
	coordinator *session.Coordinator
	builder     *summary.Builder
	server      *http.Server
	router      *mux.Router
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, store storage.Store, coordinator *session.Coordinator, builder *summary.Builder, logger zerolog.Logger) (*Server, error) {
	router := mux.NewRouter()

	s := &Server{
		config:      cfg,
		store:       store,
		coordinator: coordinator,
		builder:     builder,
		router:      router,
		logger:      logger.With().Str("component", "api").Logger(),
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoint holds the connection open
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() error {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(MetricsMiddleware())

	if s.config.API.RateLimit.Enabled {
		rl := s.config.API.RateLimit
		limiter, err := ratelimit.NewLimiter(rl.RequestsPerMinute, rl.Burst, rl.MaxClients)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		s.router.Use(RateLimitMiddleware(limiter))
	}

	deviceHandler := NewDeviceHandler(s.store, s.builder, s.logger)
	sessionHandler := NewSessionHandler(s.coordinator, s.builder, s.logger)

	streamInterval, err := time.ParseDuration(s.config.API.StreamInterval)
	if err != nil {
		return fmt.Errorf("invalid stream interval: %w", err)
	}
	streamHandler := NewStreamHandler(s.builder, streamInterval, s.logger)

	s.router.HandleFunc("/devices", deviceHandler.List).Methods(http.MethodGet)
	s.router.HandleFunc("/devices/{id}", deviceHandler.Profile).Methods(http.MethodGet)
	s.router.HandleFunc("/session", sessionHandler.Summary).Methods(http.MethodGet)
	s.router.HandleFunc("/session/start", sessionHandler.Start).Methods(http.MethodPost)
	s.router.HandleFunc("/session/stream", streamHandler.Serve).Methods(http.MethodGet)
	s.router.HandleFunc("/device/stop", sessionHandler.StopDevice).Methods(http.MethodPost)
	s.router.HandleFunc("/reset", sessionHandler.Reset).Methods(http.MethodPost)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return nil
}

// Router returns the configured router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting API server on activated socket")
			err = s.server.Serve(s.listener)
		} else {
			s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Fatal().Err(err).Msg("API server failed")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("Stopping API server")
	return s.server.Shutdown(ctx)
}
