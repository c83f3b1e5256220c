package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"papertrader/src/session"
)

// StatusProvider exposes a snapshot of the running session.
type StatusProvider interface {
	Status() session.Status
}

// Server is the read-only ops HTTP server. It never mutates session state.
type Server struct {
	srv *http.Server
}

func newRouter(provider StatusProvider) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("/healthcheck write error")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.Status()); err != nil {
			logger.WithError(err).Error("/status encode error")
		}
	})

	return r
}

// Start spins up the ops server in a background goroutine.
func Start(port string, provider StatusProvider) *Server {
	r := newRouter(provider)

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Ops server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Ops server crashed")
		}
	}()

	return &Server{srv: srv}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Ops server shutdown error")
	}
}
