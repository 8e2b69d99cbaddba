// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the browser operations over HTTP. Every response body
// is a JSON object with the result under "data".
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/absmach/virgil/audit"
	"github.com/absmach/virgil/operator"
	"github.com/absmach/virgil/ratelimit"
	"github.com/absmach/virgil/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultAuditLimit caps audit listings that name no limit.
const DefaultAuditLimit = 100

// Config holds API server configuration.
type Config struct {
	Address         string
	BasePath        string
	ShutdownTimeout time.Duration
}

// Browser is the operation set served by the API. *operator.Operator
// satisfies it.
type Browser interface {
	QueueKeys() []string
	DefaultQueue() string
	QueueSize(ctx context.Context, queueKey string) (int, error)
	Messages(ctx context.Context, queueKey string, limit int) (*operator.Listing, error)
	Republish(ctx context.Context, queueKey, fingerprint string, cache *operator.Cache) (bool, error)
	Ack(ctx context.Context, queueKey, fingerprint string) (bool, error)
	DropAll(ctx context.Context, queueKey string) (bool, error)
}

// Server serves the browser API.
type Server struct {
	config  Config
	browser Browser
	audit   audit.Store
	limiter *ratelimit.Limiter // nil when rate limiting is disabled
	logger  *slog.Logger

	*server.HTTP
}

// New creates an API server. A nil limiter leaves write endpoints
// unthrottled and a nil store serves an empty audit trail.
func New(cfg Config, browser Browser, store audit.Store, limiter *ratelimit.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = audit.Nop{}
	}

	s := &Server{
		config:  cfg,
		browser: browser,
		audit:   store,
		limiter: limiter,
		logger:  logger,
	}

	s.HTTP = server.NewHTTP("api", &http.Server{
		Addr:         cfg.Address,
		Handler:      otelhttp.NewHandler(s.Handler(), "virgil.api"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}, cfg.ShutdownTimeout, logger)

	return s
}

// Handler returns the API routes without tracing middleware.
func (s *Server) Handler() http.Handler {
	base := strings.TrimRight(s.config.BasePath, "/")
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+base+"/queues", s.handleQueues)
	mux.HandleFunc("GET "+base+"/queues/{queue}/size", s.handleSize)
	mux.HandleFunc("GET "+base+"/queues/{queue}/messages", s.handleMessages)
	mux.Handle("POST "+base+"/queues/{queue}/messages/{fingerprint}/republish", s.throttle(s.handleRepublish))
	mux.Handle("POST "+base+"/queues/{queue}/messages/{fingerprint}/ack", s.throttle(s.handleAck))
	mux.Handle("DELETE "+base+"/queues/{queue}/messages", s.throttle(s.handleDropAll))
	mux.HandleFunc("GET "+base+"/audit", s.handleAudit)

	return mux
}

func (s *Server) throttle(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(h)
}
