package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nodeagent/internal/agent"
)

// StatusSource is what the health handlers read.
type StatusSource interface {
	Snapshot() agent.Status
	Fresh(now time.Time, ttl time.Duration) bool
}

type httpHandler struct {
	status StatusSource
	ttl    time.Duration
	now    func() time.Time
}

// handleGoodToGo answers 200 while the registration is within its TTL.
func (h *httpHandler) handleGoodToGo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	if !h.status.Fresh(h.now(), h.ttl) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("registration expired\n"))
		return
	}
	w.Write([]byte("OK\n"))
}

func (h *httpHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := struct {
		OK     bool         `json:"ok"`
		TTL    string       `json:"ttl"`
		Status agent.Status `json:"status"`
	}{
		OK:     h.status.Fresh(h.now(), h.ttl),
		TTL:    h.ttl.String(),
		Status: h.status.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// Server serves /metrics, /__gtg and /__health.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer builds the router; nothing listens until ListenAndServe.
func NewServer(addr string, rec *Recorder, status StatusSource, ttl time.Duration, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           newRouter(rec, &httpHandler{status: status, ttl: ttl, now: time.Now}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func newRouter(rec *Recorder, h *httpHandler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/__gtg", h.handleGoodToGo).Methods(http.MethodGet)
	r.HandleFunc("/__health", h.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("Metrics server started")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
