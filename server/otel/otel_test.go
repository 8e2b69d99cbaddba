// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/absmach/virgil/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestInitProviderDisabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), config.Default().Server, "test")
	require.NoError(t, err)

	assert.IsType(t, tracenoop.NewTracerProvider(), otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitProviderHTTPTraces(t *testing.T) {
	cfg := config.Default().Server
	cfg.OtelTracesEnabled = true
	cfg.OtelProtocol = config.OtelProtocolHTTP
	cfg.OtelEndpoint = "127.0.0.1:4318"

	shutdown, err := InitProvider(context.Background(), cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { otel.SetTracerProvider(tracenoop.NewTracerProvider()) })

	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}
