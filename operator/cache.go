// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package operator

import (
	"sync"

	"github.com/absmach/virgil/message"
)

// Cache maps fingerprints to the raw messages seen by one listing. Each
// listing builds a new Cache; caches are never merged.
type Cache struct {
	mu    sync.RWMutex
	byFP  map[string]message.Raw
	order []string
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{byFP: make(map[string]message.Raw)}
}

// Put stores raw under fingerprint. The first message stored for a
// fingerprint wins, matching fetch order.
func (c *Cache) Put(fingerprint string, raw message.Raw) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byFP[fingerprint]; ok {
		return
	}
	c.byFP[fingerprint] = raw
	c.order = append(c.order, fingerprint)
}

// Get returns the message stored under fingerprint. A nil cache holds nothing.
func (c *Cache) Get(fingerprint string) (message.Raw, bool) {
	if c == nil {
		return message.Raw{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	raw, ok := c.byFP[fingerprint]
	return raw, ok
}

// Len returns the number of distinct fingerprints.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byFP)
}

// Fingerprints returns the cached fingerprints in fetch order.
func (c *Cache) Fingerprints() []string {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}
