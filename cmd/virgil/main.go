// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command virgil serves the dead-letter queue browser over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/virgil/audit"
	auditbadger "github.com/absmach/virgil/audit/badger"
	auditmemory "github.com/absmach/virgil/audit/memory"
	auditsqlite "github.com/absmach/virgil/audit/sqlite"
	"github.com/absmach/virgil/client/amqp"
	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/operator"
	"github.com/absmach/virgil/ratelimit"
	"github.com/absmach/virgil/server/api"
	"github.com/absmach/virgil/server/health"
	"github.com/absmach/virgil/server/otel"
	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, *configFile, logger); err != nil {
		logger.Error("virgil_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configFile string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("virgil_starting",
		slog.String("http_addr", cfg.Server.HTTPAddr),
		slog.String("base_path", cfg.Server.BasePath),
		slog.String("audit", cfg.Audit.Type),
		slog.Int("binders", len(cfg.Binders)),
		slog.Int("queues", len(cfg.Queues)),
		slog.String("default_queue", cfg.DefaultQueue()))

	metrics, tracer, flush, err := newTelemetry(ctx, cfg.Server, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := flush(flushCtx); err != nil {
			logger.Error("otel_shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	store, err := newAuditStore(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("audit_close_failed", slog.String("error", err.Error()))
		}
	}()

	provider := config.NewProvider(cfg)
	registry := connection.NewRegistry(provider, amqp.NewDialer(logger),
		connection.WithLogger(logger),
		connection.WithMetrics(metrics),
		connection.WithBreaker(cfg.Browse.Breaker))
	op := operator.New(provider, registry,
		operator.WithAudit(store),
		operator.WithMetrics(metrics),
		operator.WithTracer(tracer),
		operator.WithLogger(logger))

	var limiter *ratelimit.Limiter
	if cfg.Server.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.Server.RateLimit)
		defer limiter.Stop()
	}

	type listener interface {
		Listen(ctx context.Context) error
	}
	servers := []listener{api.New(api.Config{
		Address:         cfg.Server.HTTPAddr,
		BasePath:        cfg.Server.BasePath,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, op, store, limiter, logger)}
	if cfg.Server.HealthEnabled {
		servers = append(servers, health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, provider, logger))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(servers))
	for i, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// One failed listener stops the rest.
			if errs[i] = srv.Listen(ctx); errs[i] != nil {
				cancel()
			}
		}()
	}

	if configFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := config.Watch(ctx, configFile, provider, logger); err != nil {
				logger.Warn("config_watch_stopped", slog.String("error", err.Error()))
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	logger.Info("virgil_stopped")
	return errors.Join(errs...)
}

// newTelemetry returns nil instruments when OpenTelemetry is off; every
// consumer treats nil as disabled.
func newTelemetry(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*otel.Metrics, trace.Tracer, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.OtelMetricsEnabled && !cfg.OtelTracesEnabled {
		logger.Info("otel_disabled")
		return nil, nil, noop, nil
	}

	flush, err := otel.InitProvider(ctx, cfg, uuid.NewString())
	if err != nil {
		return nil, nil, noop, fmt.Errorf("init opentelemetry: %w", err)
	}

	var metrics *otel.Metrics
	if cfg.OtelMetricsEnabled {
		if metrics, err = otel.NewMetrics(); err != nil {
			return nil, nil, noop, errors.Join(fmt.Errorf("create metrics: %w", err), flush(ctx))
		}
	}
	var tracer trace.Tracer
	if cfg.OtelTracesEnabled {
		tracer = oteltrace.Tracer("virgil")
	}
	logger.Info("otel_enabled",
		slog.String("endpoint", cfg.OtelEndpoint),
		slog.Bool("metrics", metrics != nil),
		slog.Bool("traces", tracer != nil))
	return metrics, tracer, flush, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newAuditStore(cfg config.AuditConfig) (audit.Store, error) {
	switch cfg.Type {
	case "", "none":
		return audit.Nop{}, nil
	case "memory":
		return auditmemory.New(cfg.MemoryCapacity), nil
	case "badger":
		if err := os.MkdirAll(cfg.BadgerDir, 0o755); err != nil {
			return nil, err
		}
		return auditbadger.New(auditbadger.Config{Dir: cfg.BadgerDir})
	case "sqlite":
		return auditsqlite.New(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown audit type %q", cfg.Type)
	}
}
