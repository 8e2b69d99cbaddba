// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import "sync/atomic"

// Provider holds the current configuration snapshot. Snapshots are never
// mutated; a reload swaps the whole snapshot.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a Provider serving cfg.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.Store(cfg)
	return p
}

// Load returns the current snapshot.
func (p *Provider) Load() *Config {
	return p.current.Load()
}

// Store replaces the current snapshot.
func (p *Provider) Store(cfg *Config) {
	if cfg == nil {
		cfg = Default()
	}
	p.current.Store(cfg)
}

// Queue resolves a queue key against the current snapshot.
func (p *Provider) Queue(key string) (QueueConfig, error) {
	return p.Load().Queue(key)
}

// Binder resolves a binder name against the current snapshot.
func (p *Provider) Binder(name string) (BinderConfig, error) {
	return p.Load().Binder(name)
}

// QueueKeys returns the queue keys of the current snapshot.
func (p *Provider) QueueKeys() []string {
	return p.Load().QueueKeys()
}

// DefaultQueue returns the default queue of the current snapshot.
func (p *Provider) DefaultQueue() string {
	return p.Load().DefaultQueue()
}

// BrowseSettings returns the browse section of the current snapshot.
func (p *Provider) BrowseSettings() BrowseConfig {
	return p.Load().BrowseSettings()
}
