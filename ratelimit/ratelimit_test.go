// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/virgil/config"
	"github.com/stretchr/testify/assert"
)

func newLimiter(t *testing.T, r float64, burst int) *Limiter {
	t.Helper()
	l := New(config.RateLimitConfig{Rate: r, Burst: burst, CleanupInterval: time.Minute})
	t.Cleanup(l.Stop)
	return l
}

func TestAllowBurstThenRefill(t *testing.T) {
	l := newLimiter(t, 5, 2)

	assert.True(t, l.Allow("192.168.1.1"))
	assert.True(t, l.Allow("192.168.1.1"))
	assert.False(t, l.Allow("192.168.1.1"), "burst exhausted")

	time.Sleep(250 * time.Millisecond)
	assert.True(t, l.Allow("192.168.1.1"), "token refilled")
}

func TestAllowSeparateClients(t *testing.T) {
	l := newLimiter(t, 1, 1)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.2"))
	assert.True(t, l.Allow(""))
	assert.Equal(t, 2, l.Len())
}

func TestSweepDropsIdleClients(t *testing.T) {
	l := newLimiter(t, 1, 1)

	l.Allow("10.0.0.1")
	l.sweep(time.Now())
	assert.Equal(t, 1, l.Len())

	l.sweep(time.Now().Add(3 * time.Minute))
	assert.Equal(t, 0, l.Len())
}

func TestClientKey(t *testing.T) {
	cases := map[string]string{
		"203.0.113.9:5555": "203.0.113.9",
		"[::1]:8080":       "::1",
		"unix":             "unix",
	}
	for remote, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = remote
		assert.Equal(t, want, ClientKey(r), remote)
	}
}

func TestMiddleware(t *testing.T) {
	l := newLimiter(t, 0.001, 1)

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	// Another port on the same host shares the bucket.
	req.RemoteAddr = "203.0.113.9:6666"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
