// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"crypto/tls"
	"net/url"
	"strings"
	"time"

	"github.com/absmach/virgil/config"
)

// Default values.
const (
	DefaultAddress        = "localhost:5672"
	DefaultDialTimeout    = 10 * time.Second
	DefaultHeartbeat      = 60 * time.Second
	DefaultConfirmTimeout = 5 * time.Second
)

// Options configures connections to one binder.
type Options struct {
	Addresses      []string // host:port, tried in order
	Username       string
	Password       string
	Vhost          string
	TLSConfig      *tls.Config // nil dials plain TCP
	DialTimeout    time.Duration
	Heartbeat      time.Duration
	ConfirmTimeout time.Duration // how long a publish waits for its confirm
}

// NewOptions returns Options for a local broker with the guest account.
func NewOptions() *Options {
	return &Options{
		Addresses:      []string{DefaultAddress},
		Username:       "guest",
		Password:       "guest",
		Vhost:          "/",
		DialTimeout:    DefaultDialTimeout,
		Heartbeat:      DefaultHeartbeat,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
}

// OptionsFromBinder maps a binder profile onto Options, keeping defaults for
// unset durations.
func OptionsFromBinder(b config.BinderConfig) *Options {
	opts := NewOptions()
	opts.Addresses = b.Addresses
	opts.Username = b.Username
	opts.Password = b.Password
	opts.Vhost = b.Vhost
	if b.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if b.DialTimeout > 0 {
		opts.DialTimeout = b.DialTimeout
	}
	if b.Heartbeat > 0 {
		opts.Heartbeat = b.Heartbeat
	}
	return opts
}

// Validate requires at least one non-blank address.
func (o *Options) Validate() error {
	for _, addr := range o.Addresses {
		if strings.TrimSpace(addr) != "" {
			return nil
		}
	}
	return ErrNoAddress
}

// dialURL renders the AMQP URI for one address. The vhost becomes the path,
// so "/" and "" both select the default vhost.
func (o *Options) dialURL(address string) string {
	u := url.URL{Scheme: "amqp", Host: address, Path: "/" + strings.TrimPrefix(o.Vhost, "/")}
	if o.TLSConfig != nil {
		u.Scheme = "amqps"
	}
	if o.Username != "" {
		u.User = url.UserPassword(o.Username, o.Password)
	}
	return u.String()
}
