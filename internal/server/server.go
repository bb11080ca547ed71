package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/alanyoungcy/parimarket/internal/domain"
	"github.com/alanyoungcy/parimarket/internal/server/handler"
	"github.com/alanyoungcy/parimarket/internal/server/middleware"
	"github.com/alanyoungcy/parimarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	RequireSignatures bool
	SignatureMaxAge   time.Duration

	RateLimit  int // POST requests per RateWindow per caller; 0 disables
	RateWindow time.Duration

	// TrustProxy resolves the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxy bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Accounts *handler.AccountHandler
}

// Server is the HTTP + WebSocket API server for the market service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, which disables rate limiting.
func NewServer(cfg Config, routes Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", routes.Health.HealthCheck)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", routes.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", routes.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{name}", routes.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{name}/bets", routes.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{name}/settle", routes.Markets.Settle)
	mux.HandleFunc("POST /api/markets/{name}/claim", routes.Markets.Claim)
	mux.HandleFunc("GET /api/markets/{name}/positions", routes.Markets.ListPositions)
	mux.HandleFunc("GET /api/markets/{name}/positions/{participant}", routes.Markets.GetPosition)

	// Account endpoints.
	mux.HandleFunc("GET /api/accounts/{account}/balance", routes.Accounts.GetBalance)
	mux.HandleFunc("GET /api/accounts/{account}/positions", routes.Accounts.ListPositions)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Principal(middleware.PrincipalConfig{
		RequireSignatures: cfg.RequireSignatures,
		MaxAge:            cfg.SignatureMaxAge,
		Logger:            logger,
	})(h)
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger}),
	)(h)
	if cfg.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
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

// recoveryLogger adapts slog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("server: handler panic", slog.String("panic", fmt.Sprint(v...)))
}
