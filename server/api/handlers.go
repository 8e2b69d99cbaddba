// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/absmach/virgil/audit"
	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
	"github.com/absmach/virgil/operator"
)

// Republish results.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

type response struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

type queuesResponse struct {
	Queues       []string `json:"queues"`
	DefaultQueue string   `json:"default_queue"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	keys := s.browser.QueueKeys()
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, response{Data: queuesResponse{
		Queues:       keys,
		DefaultQueue: s.browser.DefaultQueue(),
	}})
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	n, err := s.browser.QueueSize(r.Context(), r.PathValue("queue"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: n})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	listing, err := s.browser.Messages(r.Context(), r.PathValue("queue"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs := listing.Messages
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, response{Data: msgs})
}

// handleRepublish carries no cache between requests, so the operator
// rebuilds one with its scan size.
func (s *Server) handleRepublish(w http.ResponseWriter, r *http.Request) {
	ok, err := s.browser.Republish(r.Context(), r.PathValue("queue"), r.PathValue("fingerprint"), nil)
	switch {
	case errors.Is(err, operator.ErrPublishFailure):
		writeJSON(w, http.StatusOK, response{Data: resultFailure, Error: err.Error()})
	case err != nil:
		s.writeError(w, r, err)
	case ok:
		writeJSON(w, http.StatusOK, response{Data: resultSuccess})
	default:
		writeJSON(w, http.StatusOK, response{Data: resultFailure})
	}
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	ok, err := s.browser.Ack(r.Context(), r.PathValue("queue"), r.PathValue("fingerprint"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: ok})
}

func (s *Server) handleDropAll(w http.ResponseWriter, r *http.Request) {
	ok, err := s.browser.DropAll(r.Context(), r.PathValue("queue"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response{Data: ok})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	entries, err := s.audit.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, response{Data: entries})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, config.ErrConfiguration):
		status = http.StatusNotFound
	case errors.Is(err, operator.ErrQueueUnavailable), errors.Is(err, connection.ErrBinderUnavailable):
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("api_request_failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))
	writeJSON(w, status, response{Error: err.Error()})
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
