// Package gateway is the HTTP surface: conversation streaming, artifact
// content, health and metrics. It authenticates teachers, rate limits,
// serializes turns per conversation and frames runtime events as SSE.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/internal/artifacts"
	"github.com/classpilot/classpilot/internal/config"
	"github.com/classpilot/classpilot/internal/observability"
	"github.com/classpilot/classpilot/internal/ratelimit"
	"github.com/classpilot/classpilot/internal/sessions"
)

// Server hosts the gateway HTTP API.
type Server struct {
	cfg       *config.Config
	runtime   *agent.Runtime
	sessions  sessions.Store
	artifacts artifacts.Store
	limiter   *ratelimit.TeacherLimiter
	locks     *conversationLocks
	metrics   *observability.Metrics
	logger    *slog.Logger

	httpServer *http.Server
	stopSweep  chan struct{}
}

// limiterIdle is how long a teacher's bucket may sit unused before the
// sweep drops it.
const limiterIdle = 30 * time.Minute

// NewServer wires the HTTP surface around an agent runtime.
func NewServer(cfg *config.Config, rt *agent.Runtime, sessionStore sessions.Store,
	artifactStore artifacts.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		runtime:   rt,
		sessions:  sessionStore,
		artifacts: artifactStore,
		limiter: ratelimit.NewTeacherLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Server.RatePerMinute,
			BurstSize:         cfg.Server.RateBurst,
			Enabled:           true,
		}),
		locks:     newConversationLocks(cfg.Server.LockMode),
		metrics:   metrics,
		logger:    logger,
		stopSweep: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/conversation/stream", s.requireTeacher(s.handleStream))
	mux.HandleFunc("POST /api/conversation", s.requireTeacher(s.handleAggregate))
	mux.HandleFunc("GET /api/artifacts/{id}/content", s.requireTeacher(s.handleArtifactContent))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.cors(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops. It also runs the limiter
// sweep that drops buckets for teachers who went quiet.
func (s *Server) ListenAndServe() error {
	go s.sweepLimiter()
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) sweepLimiter() {
	ticker := time.NewTicker(limiterIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if n := s.limiter.Evict(limiterIdle); n > 0 {
				s.logger.Debug("evicted idle rate limiters", "count", n)
			}
		}
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopSweep)
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"provider": s.cfg.Model.Provider,
		"model":    s.cfg.Model.DefaultModel,
	})
}
