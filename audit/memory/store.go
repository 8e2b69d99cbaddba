// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/virgil/audit"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

var _ audit.Store = (*Store)(nil)

// Store keeps the most recent entries in a fixed size ring.
type Store struct {
	mu      sync.RWMutex
	entries []audit.Entry
	next    int
	full    bool
	closed  bool
}

// New creates a ring holding up to capacity entries.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{entries: make([]audit.Entry, capacity)}
}

// Record stores e, evicting the oldest entry when the ring is full.
func (s *Store) Record(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audit.ErrClosed
	}
	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// List returns entries newest first.
func (s *Store) List(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, audit.ErrClosed
	}
	n := s.next
	if s.full {
		n = len(s.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]audit.Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out, nil
}

// Close releases the ring.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make([]audit.Entry, 1)
	return nil
}
