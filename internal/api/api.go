// Package api serves a small read-only HTTP surface for inspecting a
// running daemon: connected plugins, routing state, and activation history.
// It is disabled unless explicitly enabled in the configuration.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aresa/glimpse/internal/history"
	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/router"
)

// ClientCounter reports how many launcher clients are connected.
type ClientCounter interface {
	ClientCount() int
}

// Server is the introspection HTTP server.
type Server struct {
	addr    string
	router  *router.Router
	clients ClientCounter
	hist    *history.Store // optional
	logger  *slog.Logger
	started time.Time
}

// PluginInfo is one entry of the plugin listing.
type PluginInfo struct {
	Slot          string `json:"slot"`
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Version       string `json:"version,omitempty"`
	Description   string `json:"description,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// StatusInfo is the daemon status summary.
type StatusInfo struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Clients          int     `json:"clients"`
	Plugins          int     `json:"plugins"`
	CurrentRequestID uint64  `json:"current_request_id"`
	CurrentMatches   int     `json:"current_matches"`
}

// New creates the introspection server. hist may be nil when history is
// disabled.
func New(addr string, r *router.Router, clients ClientCounter, hist *history.Store) *Server {
	return &Server{
		addr:    addr,
		router:  r,
		clients: clients,
		hist:    hist,
		logger:  log.WithComponent("api"),
		started: time.Now(),
	}
}

// Run serves HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("introspection api listening", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/plugins", s.handlePlugins)
		r.Get("/history", s.handleHistory)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusInfo{
		UptimeSeconds:    time.Since(s.started).Seconds(),
		Clients:          s.clients.ClientCount(),
		Plugins:          len(s.router.Registry().All()),
		CurrentRequestID: s.router.CurrentRequestID(),
		CurrentMatches:   len(s.router.Matches()),
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	plugins := s.router.Registry().All()
	out := make([]PluginInfo, 0, len(plugins))
	for _, p := range plugins {
		info := PluginInfo{
			Slot:          p.SlotID,
			ID:            p.ID(),
			Fingerprint:   p.Fingerprint,
			Authenticated: p.Authenticated(),
		}
		if m := p.Metadata(); m != nil {
			info.Name = m.Name
			info.Version = m.Version
			info.Description = m.Description
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.hist == nil {
		http.Error(w, "history is disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recent, err := s.hist.Recent(limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if recent == nil {
		recent = []history.Activation{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
