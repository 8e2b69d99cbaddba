// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/absmach/virgil/server"
)

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

// Queues lists the queues the browser currently serves.
type Queues interface {
	QueueKeys() []string
	DefaultQueue() string
}

// Server provides health check endpoints for monitoring and orchestration.
type Server struct {
	*server.HTTP

	queues Queues
}

// New creates a new health check server.
func New(cfg Config, queues Queues, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{queues: queues}
	s.HTTP = server.NewHTTP("health", &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, cfg.ShutdownTimeout, logger)

	return s
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// handleReady reports ready once at least one queue is configured.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil || len(s.queues.QueueKeys()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status:  "not_ready",
			Details: "no queues configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

// StatusResponse describes the served queues.
type StatusResponse struct {
	Queues       []string `json:"queues"`
	DefaultQueue string   `json:"default_queue,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Queues: []string{}}
	if s.queues != nil {
		resp.Queues = append(resp.Queues, s.queues.QueueKeys()...)
		resp.DefaultQueue = s.queues.DefaultQueue()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
