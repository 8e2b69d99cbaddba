// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server holds the lifecycle shared by the HTTP surfaces.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTP binds an *http.Server on Listen and shuts it down when the context
// ends.
type HTTP struct {
	name            string
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewHTTP wraps srv. name tags the lifecycle log events.
func NewHTTP(name string, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		name:            name,
		srv:             srv,
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(slog.String("server", name)),
	}
}

// Addr returns the bound address, or "" before Listen.
func (h *HTTP) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// Listen serves until ctx is cancelled, then drains in-flight requests for
// at most the shutdown timeout.
func (h *HTTP) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.srv.Addr)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.logger.Info("http_server_listening", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := h.srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()
	if err := h.srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Error("http_server_shutdown_failed", slog.String("error", err.Error()))
		return err
	}
	h.logger.Info("http_server_stopped")
	return nil
}
