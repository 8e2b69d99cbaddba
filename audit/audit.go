// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package audit records the destructive and replaying operations performed
// through the browser.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("audit store closed")

// Operation names an audited operator call.
type Operation string

const (
	OpRepublish Operation = "republish"
	OpAck       Operation = "ack"
	OpDropAll   Operation = "drop_all"
)

// Entry is one audited operation.
type Entry struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Operation   Operation `json:"operation"`
	Queue       string    `json:"queue"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
}

// NewEntry returns an entry stamped with a fresh ID and the current time.
func NewEntry(op Operation, queue, fingerprint string) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Time:        time.Now().UTC(),
		Operation:   op,
		Queue:       queue,
		Fingerprint: fingerprint,
	}
}

// Store persists audit entries.
type Store interface {
	Record(ctx context.Context, e Entry) error
	// List returns at most limit entries, newest first. A limit <= 0
	// returns every entry.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop discards every entry.
type Nop struct{}

var _ Store = Nop{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) List(context.Context, int) ([]Entry, error) { return nil, nil }

func (Nop) Close() error { return nil }
