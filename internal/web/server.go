// Package web serves the read-only status endpoints.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/shift-scheduler/internal/auth"
	"github.com/example/shift-scheduler/internal/errors"
	"github.com/example/shift-scheduler/internal/ledger"
	"github.com/example/shift-scheduler/internal/scheduler"
)

// StatusSource is satisfied by *scheduler.Scheduler.
type StatusSource interface {
	Snapshot() scheduler.Snapshot
}

// BookingSource lists today's ledger entries.
type BookingSource interface {
	Entries() []ledger.Entry
}

type Server struct {
	Status   StatusSource
	Bookings BookingSource
	Auth     auth.Basic
	Version  string
}

type statusResponse struct {
	scheduler.Snapshot
	Version  string         `json:"version,omitempty"`
	Bookings []ledger.Entry `json:"bookings,omitempty"`
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /status", s.Auth.Require(http.HandlerFunc(s.handleStatus)))

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: s.Version}
	if s.Status != nil {
		resp.Snapshot = s.Status.Snapshot()
	}
	if s.Bookings != nil {
		resp.Bookings = s.Bookings.Entries()
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		http.Error(w, "encode status: "+err.Error(), http.StatusInternalServerError)
	}
}

// Start serves h on addr until ctx is done, then shuts down gracefully.
// The returned error is nil after a clean shutdown.
func Start(ctx context.Context, addr string, h http.Handler, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return Serve(ctx, ln, h, log)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, log *zap.SugaredLogger) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("status server listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		return nil
	}
	return errors.Wrap(err, "status server")
}
