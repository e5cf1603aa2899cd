// Package diag serves local diagnostics: Prometheus metrics, liveness and the current
// dashboard state.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lumi/internal/domain"
	lumilog "lumi/internal/log"
	"lumi/internal/view"
)

const (
	defaultRequestsPerMinute = 120
	shutdownTimeout          = 5 * time.Second
)

// StateSource provides the snapshot exposed on /state.
type StateSource interface {
	Snapshot() domain.Snapshot
}

type Config struct {
	Listen            string
	RequestsPerMinute int
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Snapshot domain.Snapshot `json:"snapshot"`
	View     view.State      `json:"view"`
}

type Server struct {
	cfg     Config
	handler http.Handler
	log     zerolog.Logger
}

func New(cfg Config, source StateSource) *Server {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(source, cfg.RequestsPerMinute),
		log:     lumilog.WithComponent("diag"),
	}
}

// NewHandler builds the diagnostics router.
func NewHandler(source StateSource, requestsPerMinute int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(requestsPerMinute, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/state", func(w http.ResponseWriter, _ *http.Request) {
		snapshot := source.Snapshot()
		writeJSON(w, http.StatusOK, StateResponse{Snapshot: snapshot, View: view.FromSnapshot(snapshot)})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
		}),
	)
}

// Run serves until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("diagnostics listen on %q: %w", s.cfg.Listen, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Diagnostics server listening.")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diagnostics shutdown: %w", err)
	}
	<-errCh
	s.log.Debug().Msg("Diagnostics server stopped.")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
