package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer returns an http.Server for addr with production timeouts.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs the hub's event loop in the background.
func StartHub(h *Hub) {
	go h.Run()
	zap.S().Info("hub started")
}

// StartServer listens until the server is shut down. A graceful shutdown
// is not reported as an error.
func StartServer(server *http.Server) error {
	zap.S().Infow("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer stops accepting connections and waits for in-flight
// requests until timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	zap.S().Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zap.S().Errorw("http server shutdown", "error", err)
		return err
	}

	zap.S().Info("http server shutdown completed")
	return nil
}
