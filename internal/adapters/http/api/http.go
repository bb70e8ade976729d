// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/scoreboard/internal/domain/types"
	"github.com/okian/scoreboard/pkg/logger"
)

const (
	defaultLimit          = 10
	defaultRequestTimeout = 25 * time.Second
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	ScoresDependencies
	LeaderboardDependencies
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	scoresHandler      *ScoresHandler
	leaderboardHandler *LeaderboardHandler

	limiter        *IPRateLimiter
	requestTimeout time.Duration
}

type serverConfig struct {
	defaultLimit   int
	rateLimit      float64
	rateBurst      int
	requestTimeout time.Duration
	logger         logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

// WithDefaultLimit sets the leaderboard size used when a query has no limit.
func WithDefaultLimit(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.defaultLimit = n
		}
	}
}

// WithRateLimit limits score submissions per client address. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(c *serverConfig) {
		c.rateLimit = perSecond
		c.rateBurst = burst
	}
}

// WithRequestTimeout bounds how long a save or leaderboard request may spend in
// the service, retries included. Keep it below the server's write timeout.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	cfg := serverConfig{
		defaultLimit:   defaultLimit,
		requestTimeout: defaultRequestTimeout,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		scoresHandler:      NewScoresHandler(deps, cfg.logger),
		leaderboardHandler: NewLeaderboardHandler(deps, cfg.defaultLimit, cfg.logger),
		requestTimeout:     cfg.requestTimeout,
	}
	if cfg.rateLimit > 0 {
		burst := cfg.rateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = NewIPRateLimiter(cfg.rateLimit, burst)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	save := MetricsMiddleware(TimeoutMiddleware(s.requestTimeout)(s.scoresHandler.HandleSaveScore), "save_score")
	if s.limiter != nil {
		save = RateLimitMiddleware(s.limiter, "save_score")(save)
	}
	board := MetricsMiddleware(TimeoutMiddleware(s.requestTimeout)(s.leaderboardHandler.HandleGetLeaderboard), "get_leaderboard_with_rank")

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /save_score", save)
	mux.HandleFunc("GET /get_leaderboard_with_rank", board)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, types.StatusResponse{Status: types.StatusError, Message: msg})
}
