// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package amqp connects binders to RabbitMQ over AMQP 0.9.1.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

var _ connection.Dialer = (*Dialer)(nil)

// Dialer opens AMQP connections for binder profiles.
type Dialer struct {
	logger *slog.Logger
}

// NewDialer creates a Dialer. A nil logger uses slog.Default().
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{logger: logger}
}

// Dial connects to the first reachable address of the binder.
func (d *Dialer) Dial(ctx context.Context, name string, b config.BinderConfig) (connection.Conn, error) {
	opts := OptionsFromBinder(b)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return d.DialOptions(ctx, name, opts)
}

// DialOptions connects using opts, trying each address in order.
func (d *Dialer) DialOptions(ctx context.Context, name string, opts *Options) (*Conn, error) {
	var errs []error
	for _, addr := range opts.Addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		conn, err := dial(ctx, opts, addr)
		if err == nil {
			d.logger.Debug("amqp_connected", slog.String("binder", name), slog.String("address", addr))
			return &Conn{conn: conn, opts: opts}, nil
		}
		d.logger.Warn("amqp_dial_failed",
			slog.String("binder", name),
			slog.String("address", addr),
			slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, ErrNoAddress
	}
	return nil, errors.Join(errs...)
}

func dial(ctx context.Context, opts *Options, addr string) (*amqp091.Connection, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	cfg := amqp091.Config{
		TLSClientConfig: opts.TLSConfig,
		Heartbeat:       opts.Heartbeat,
		Dial: func(network, address string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, address)
		},
	}
	return amqp091.DialConfig(opts.dialURL(addr), cfg)
}

var _ connection.Conn = (*Conn)(nil)

// Conn is one AMQP connection. Its admin and message handles are separate
// channels, since a failed passive declare closes the channel it ran on.
type Conn struct {
	conn *amqp091.Connection
	opts *Options
}

// Admin opens a channel for administrative queries.
func (c *Conn) Admin() (connection.Admin, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &Admin{ch: ch}, nil
}

// Channel opens a message channel in confirm mode.
func (c *Conn) Channel() (connection.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return newChannel(ch, c.opts.ConfirmTimeout), nil
}

// Close closes the connection. The broker requeues every message fetched on
// it that was not acknowledged.
func (c *Conn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
