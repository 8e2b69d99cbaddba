// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package connection manages broker connections per binder. Connections are
// cached inside a Scope and closed when the scope destroys them; closing a
// connection is what returns fetched but unacknowledged messages to the
// ready state on the broker.
package connection

import (
	"context"
	"errors"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/message"
)

// ErrBinderUnavailable is returned while a binder's dial breaker is open.
var ErrBinderUnavailable = errors.New("binder unavailable")

// Binders resolves binder profiles by name.
type Binders interface {
	Binder(name string) (config.BinderConfig, error)
}

// Dialer opens broker connections for a binder profile.
type Dialer interface {
	Dial(ctx context.Context, name string, binder config.BinderConfig) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	// Admin opens the channel used for administrative queries.
	Admin() (Admin, error)
	// Channel opens the channel used to fetch, ack, purge and publish.
	Channel() (Channel, error)
	Close() error
}

// Admin answers administrative queries.
type Admin interface {
	// QueueDepth returns the number of ready messages in queue.
	QueueDepth(queue string) (int, error)
	Close() error
}

// Channel carries message operations. Delivery tags are only valid on the
// channel that fetched them.
type Channel interface {
	// Get fetches the next ready message without acknowledging it.
	// It reports false when the queue has no ready message.
	Get(queue string) (message.Raw, bool, error)
	Ack(deliveryTag uint64) error
	// Purge removes every ready message and returns how many were removed.
	Purge(queue string) (int, error)
	// Publish sends msg and waits for the broker to confirm or return it.
	Publish(ctx context.Context, exchange, routingKey string, msg message.Raw) error
	Close() error
}

type scopeKey struct{}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope carried by ctx, if any.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok && s != nil
}
