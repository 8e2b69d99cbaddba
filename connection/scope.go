// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"log/slog"
	"sync"
)

// Scope caches at most one connection per binder for a single caller chain.
// Handles are created lazily and reused until Destroy evicts them. A Scope is
// safe for concurrent use, but two scopes never share a connection.
type Scope struct {
	id       string
	registry *Registry

	mu      sync.Mutex
	handles map[string]*handle
}

type handle struct {
	conn    Conn
	admin   Admin
	channel Channel
}

// ID identifies the scope in logs.
func (s *Scope) ID() string {
	return s.id
}

// Admin returns the administrative handle for binder, dialing if needed.
func (s *Scope) Admin(ctx context.Context, binder string) (Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.handleLocked(ctx, binder)
	if err != nil {
		return nil, err
	}
	if h.admin == nil {
		if h.admin, err = h.conn.Admin(); err != nil {
			return nil, err
		}
	}
	return h.admin, nil
}

// Channel returns the message channel for binder, dialing if needed.
func (s *Scope) Channel(ctx context.Context, binder string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.handleLocked(ctx, binder)
	if err != nil {
		return nil, err
	}
	if h.channel == nil {
		if h.channel, err = h.conn.Channel(); err != nil {
			return nil, err
		}
	}
	return h.channel, nil
}

func (s *Scope) handleLocked(ctx context.Context, binder string) (*handle, error) {
	if h, ok := s.handles[binder]; ok {
		return h, nil
	}
	conn, err := s.registry.dial(ctx, binder)
	if err != nil {
		return nil, err
	}
	h := &handle{conn: conn}
	s.handles[binder] = h
	return h, nil
}

// Destroy closes and evicts the handles cached for binder. Destroying an
// absent binder is a no-op and close errors are only logged.
func (s *Scope) Destroy(binder string) {
	s.mu.Lock()
	h, ok := s.handles[binder]
	delete(s.handles, binder)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.close(binder, h)
}

// Close destroys every binder cached in the scope.
func (s *Scope) Close() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]*handle)
	s.mu.Unlock()

	for binder, h := range handles {
		s.close(binder, h)
	}
}

// Binders returns how many binders currently hold a connection.
func (s *Scope) Binders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scope) close(binder string, h *handle) {
	logger := s.registry.logger
	if h.admin != nil {
		if err := h.admin.Close(); err != nil {
			logger.Debug("binder_admin_close_error", slog.String("binder", binder), slog.String("error", err.Error()))
		}
	}
	if h.channel != nil {
		if err := h.channel.Close(); err != nil {
			logger.Debug("binder_channel_close_error", slog.String("binder", binder), slog.String("error", err.Error()))
		}
	}
	if err := h.conn.Close(); err != nil {
		logger.Debug("binder_close_error", slog.String("binder", binder), slog.String("error", err.Error()))
	}
	s.registry.metrics.RecordClose(binder)
	logger.Debug("binder_destroyed", slog.String("binder", binder), slog.String("scope", s.id))
}
