// Package ops exposes the operational HTTP surface: liveness,
// Prometheus metrics and the last tick summary. It is internal-only
// and carries no auth.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Comrade19632/tgParser/internal/logger"
	"github.com/Comrade19632/tgParser/internal/metrics"
)

// Pinger covers both the database and the ephemeral store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TickMetaReader exposes the persisted last-tick summary.
type TickMetaReader interface {
	ReadTickMeta(ctx context.Context) (map[string]string, error)
}

type Server struct {
	logger *logger.Logger
	srv    *http.Server
}

func New(log *logger.Logger, addr string, db, ephemeral Pinger, meta TickMetaReader, m *metrics.Metrics) *Server {
	olog := log.WithComponent("ops")

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", healthzHandler(db, ephemeral))
	r.Get("/tick/last", tickLastHandler(olog, meta))
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}

	return &Server{
		logger: olog,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks until the listener stops. http.ErrServerClosed is the
// normal shutdown signal and is not reported as an error.
func (s *Server) Start() error {
	s.logger.Info("ops listener starting", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func healthzHandler(db, ephemeral Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "redis": "ok"}
		healthy := true

		if err := db.Ping(ctx); err != nil {
			status["database"] = err.Error()
			healthy = false
		}
		if err := ephemeral.Ping(ctx); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func tickLastHandler(log *logger.Logger, meta TickMetaReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields, err := meta.ReadTickMeta(r.Context())
		if err != nil {
			log.Error("failed to read tick meta", slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "tick meta unavailable"})
			return
		}
		if len(fields) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no tick recorded yet"})
			return
		}
		writeJSON(w, http.StatusOK, fields)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
