// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sum(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	s, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	m.RecordOperation("messages", "orders", 12.5, false)
	m.RecordOperation("ack", "orders", 3, true)
	m.RecordPeeked("orders", 4)
	m.RecordPeeked("orders", 0)
	m.RecordAcked("orders")
	m.RecordRepublished("orders")
	m.RecordPurged("orders")
	m.RecordDial("primary")
	m.RecordDial("primary")
	m.RecordClose("primary")

	got := collect(t, reader)
	assert.Equal(t, int64(2), sum(t, got["virgil.operations.total"]))
	assert.Equal(t, int64(1), sum(t, got["virgil.operations.errors.total"]))
	assert.Equal(t, int64(4), sum(t, got["virgil.messages.peeked.total"]))
	assert.Equal(t, int64(1), sum(t, got["virgil.messages.acked.total"]))
	assert.Equal(t, int64(1), sum(t, got["virgil.messages.republished.total"]))
	assert.Equal(t, int64(1), sum(t, got["virgil.queues.purged.total"]))
	assert.Equal(t, int64(2), sum(t, got["virgil.binder.dials.total"]))
	assert.Equal(t, int64(1), sum(t, got["virgil.binder.connections.current"]))
	assert.Contains(t, got, "virgil.operation.duration")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("size", "q", 1, false)
		m.RecordPeeked("q", 1)
		m.RecordAcked("q")
		m.RecordRepublished("q")
		m.RecordPurged("q")
		m.RecordDial("b")
		m.RecordClose("b")
	})
}
