// Package webhook exposes the push-notification listener: POST /notify
// kicks off a run (coalescing with any run in flight), GET /health reports
// processing state for monitoring.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"scribe/internal/cursor"
	"scribe/internal/journal"
	"scribe/internal/logging"
	"scribe/internal/types"
)

// Runner starts pipeline runs
type Runner interface {
	TryRunOnce(trigger string) bool
}

// Server is the HTTP listener
type Server struct {
	runner Runner
	cursor *cursor.Store
	jrnl   *journal.Journal
	srv    *http.Server
}

// New creates a server listening on the given port
func New(port string, runner Runner, cur *cursor.Store, jrnl *journal.Journal) *Server {
	s := &Server{
		runner: runner,
		cursor: cur,
		jrnl:   jrnl,
	}
	s.srv = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route mux, exposed for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/notify", s.handleNotify)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start launches the listener in a goroutine
func (s *Server) Start() {
	logging.Info("webhook", "listening on %s", s.srv.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("webhook", "listener stopped: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleNotify accepts a push notification and schedules a run. The run
// happens asynchronously; 202 means the trigger was accepted, not that the
// messages were processed. A trigger during an active run coalesces.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go s.runner.TryRunOnce("webhook")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"note":   "run scheduled; coalesces with any run in progress",
	})
}

type healthResponse struct {
	Status    string           `json:"status"`
	Processed int              `json:"processed"`
	LastRun   *types.RunReport `json:"last_run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	last, err := s.jrnl.Last()
	if err != nil {
		logging.Warn("webhook", "reading journal for health: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:    "ok",
		Processed: s.cursor.Count(),
		LastRun:   last,
	})
}
