package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/metrics"
	"github.com/JakeFAU/ocsync/internal/middleware"
	"github.com/JakeFAU/ocsync/internal/store"
)

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the ops handlers to the run-state store.
type Server struct {
	router chi.Router
	state  store.SyncState
	pinger Pinger
	logger *zap.Logger
}

var (
	statusBools = []store.Flag{
		store.HourlyTaskActive,
		store.DailyTaskActive,
		store.RankingKill,
		store.ExtendedCrawlKill,
		store.InvitationRefreshActive,
		store.InvitationRefreshDeferred,
		store.ArchiveImportActive,
	}
	statusStrings = []store.Flag{
		store.CacheVersion,
		store.LastHourlyRunAt,
		store.LastDailyRunAt,
		store.LastArchiveImportAt,
	}
)

// NewServer constructs a Server with middleware and routes. pinger may be nil.
func NewServer(state store.SyncState, pinger Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{state: state, pinger: pinger, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(timeoutMiddleware(10 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/status", s.status)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(statusBools)+len(statusStrings))
	for _, f := range statusBools {
		v, err := s.state.GetBool(r.Context(), f)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		out[string(f)] = v
	}
	for _, f := range statusStrings {
		v, ok, err := s.state.GetString(r.Context(), f)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		if ok {
			out[string(f)] = v
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Error("ops request failed", zap.Error(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
