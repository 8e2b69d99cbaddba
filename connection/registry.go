// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/server/otel"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// Registry creates scopes and dials connections on their behalf. It keeps
// one dial breaker per binder; connections themselves live in scopes.
type Registry struct {
	binders Binders
	dialer  Dialer
	logger  *slog.Logger
	metrics *otel.Metrics
	breaker config.BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink for dials and teardowns.
func WithMetrics(m *otel.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithBreaker sets the dial breaker policy. A zero threshold disables it.
func WithBreaker(cfg config.BreakerConfig) Option {
	return func(r *Registry) {
		r.breaker = cfg
	}
}

// NewRegistry creates a registry resolving binders through binders and
// opening connections through dialer.
func NewRegistry(binders Binders, dialer Dialer, opts ...Option) *Registry {
	r := &Registry{
		binders:  binders,
		dialer:   dialer,
		logger:   slog.Default(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewScope returns an empty scope bound to this registry.
func (r *Registry) NewScope() *Scope {
	return &Scope{
		id:       uuid.NewString(),
		registry: r,
		handles:  make(map[string]*handle),
	}
}

func (r *Registry) dial(ctx context.Context, name string) (Conn, error) {
	binder, err := r.binders.Binder(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cb := r.breakerFor(name)
	if cb == nil {
		conn, err := r.dialer.Dial(ctx, name, binder)
		return r.dialed(name, conn, start, err)
	}

	res, err := cb.Execute(func() (interface{}, error) {
		return r.dialer.Dial(ctx, name, binder)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("binder %q: %w", name, ErrBinderUnavailable)
	}
	conn, _ := res.(Conn)
	return r.dialed(name, conn, start, err)
}

func (r *Registry) dialed(name string, conn Conn, start time.Time, err error) (Conn, error) {
	if err != nil {
		r.logger.Error("binder_dial_failed",
			slog.String("binder", name),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("dial binder %q: %w", name, err)
	}
	r.metrics.RecordDial(name)
	r.logger.Debug("binder_dialed",
		slog.String("binder", name),
		slog.Duration("took", time.Since(start)))
	return conn, nil
}

func (r *Registry) breakerFor(name string) *gobreaker.CircuitBreaker {
	if r.breaker.FailureThreshold <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	threshold := uint32(r.breaker.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     r.breaker.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Warn("binder_breaker_state_changed",
				slog.String("binder", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	r.breakers[name] = cb
	return cb
}
