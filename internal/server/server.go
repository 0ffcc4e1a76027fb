// Package server exposes the operational HTTP and WebSocket surface: the
// leaderboard, manual settlement and odds triggers, stream inspection and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Crime1000x/moltnba/internal/server/handler"
	"github.com/Crime1000x/moltnba/internal/server/middleware"
	"github.com/Crime1000x/moltnba/internal/server/ws"
)

// Paths reachable without an API key.
const (
	healthPath  = "/api/health"
	metricsPath = "/metrics"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port           int
	CORS           middleware.CORSConfig
	APIKey         string // if empty, authentication is disabled
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers aggregates the HTTP handlers the server registers. Nil entries
// leave their routes unregistered.
type Handlers struct {
	Health      *handler.HealthHandler
	Leaderboard *handler.LeaderboardHandler
	Markets     *handler.MarketHandler
	Settlement  *handler.SettlementHandler
	Odds        *handler.OddsHandler
	Stream      *handler.StreamHandler
	Maintenance *handler.MaintenanceHandler
	Metrics     http.Handler
}

// Server is the headless ops API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// the middleware chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newHandler(cfg, handlers, wsHub, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Manual odds collection runs inside the request.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	}
	if handlers.Metrics != nil {
		mux.Handle("GET "+metricsPath, handlers.Metrics)
	}

	if h := handlers.Leaderboard; h != nil {
		mux.HandleFunc("GET /api/leaderboard", h.GetLeaderboard)
		mux.HandleFunc("GET /api/agents/{id}/stats", h.GetAgentStats)
	}
	if h := handlers.Markets; h != nil {
		mux.HandleFunc("GET /api/markets/settled", h.ListSettled)
	}
	if h := handlers.Settlement; h != nil {
		mux.HandleFunc("POST /api/settlement/trigger", h.Trigger)
		mux.HandleFunc("GET /api/settlement/status", h.Status)
	}
	if h := handlers.Odds; h != nil {
		mux.HandleFunc("POST /api/odds/collect", h.Collect)
		mux.HandleFunc("POST /api/odds/prune", h.Prune)
		mux.HandleFunc("GET /api/odds/{eventID}/history", h.History)
	}
	if h := handlers.Stream; h != nil {
		mux.HandleFunc("GET /api/stream/status", h.Status)
		mux.HandleFunc("GET /api/stream/prices", h.Prices)
	}
	if h := handlers.Maintenance; h != nil {
		mux.HandleFunc("POST /api/maintenance/cleanup", h.Cleanup)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS, logging, rate limit, auth.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath, metricsPath)(h)
	h = middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)(h)
	h = middleware.Logging(logger, healthPath, metricsPath)(h)
	h = middleware.CORS(cfg.CORS)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
