// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the browsing engine.
// A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	operationsTotal   metric.Int64Counter
	operationErrors   metric.Int64Counter
	messagesPeeked    metric.Int64Counter
	messagesAcked     metric.Int64Counter
	messagesReplayed  metric.Int64Counter
	queuesPurged      metric.Int64Counter
	dialsTotal        metric.Int64Counter
	connectionsClosed metric.Int64Counter

	// UpDownCounters (Gauges)
	connectionsCurrent metric.Int64UpDownCounter

	// Histograms
	operationDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance against the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("virgil"))
}

// NewMetricsWithMeter creates a Metrics instance on the given meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.operationsTotal, "virgil.operations.total", "Total operator calls"},
		{&m.operationErrors, "virgil.operations.errors.total", "Operator calls that failed"},
		{&m.messagesPeeked, "virgil.messages.peeked.total", "Messages fetched without acknowledgement"},
		{&m.messagesAcked, "virgil.messages.acked.total", "Messages acknowledged by fingerprint"},
		{&m.messagesReplayed, "virgil.messages.republished.total", "Messages republished by fingerprint"},
		{&m.queuesPurged, "virgil.queues.purged.total", "Queue purges"},
		{&m.dialsTotal, "virgil.binder.dials.total", "Broker connections established"},
		{&m.connectionsClosed, "virgil.binder.closes.total", "Broker connections torn down"},
	}
	for _, c := range counters {
		*c.dst, err = m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"virgil.binder.connections.current",
		metric.WithDescription("Broker connections currently open"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.operationDuration, err = m.meter.Float64Histogram(
		"virgil.operation.duration",
		metric.WithDescription("Operator call latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operationDuration histogram: %w", err)
	}

	return m, nil
}

// RecordOperation records one operator call on a queue.
func (m *Metrics) RecordOperation(op, queue string, durationMs float64, failed bool) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("queue", queue),
	)
	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, durationMs, attrs)
	if failed {
		m.operationErrors.Add(ctx, 1, attrs)
	}
}

// RecordPeeked records messages fetched during a sweep.
func (m *Metrics) RecordPeeked(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messagesPeeked.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordAcked records an acknowledged message.
func (m *Metrics) RecordAcked(queue string) {
	if m == nil {
		return
	}
	m.messagesAcked.Add(context.Background(), 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordRepublished records a republished message.
func (m *Metrics) RecordRepublished(queue string) {
	if m == nil {
		return
	}
	m.messagesReplayed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordPurged records a queue purge.
func (m *Metrics) RecordPurged(queue string) {
	if m == nil {
		return
	}
	m.queuesPurged.Add(context.Background(), 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordDial records a new broker connection for a binder.
func (m *Metrics) RecordDial(binder string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("binder", binder))
	m.dialsTotal.Add(context.Background(), 1, attrs)
	m.connectionsCurrent.Add(context.Background(), 1, attrs)
}

// RecordClose records a torn down broker connection for a binder.
func (m *Metrics) RecordClose(binder string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("binder", binder))
	m.connectionsClosed.Add(context.Background(), 1, attrs)
	m.connectionsCurrent.Add(context.Background(), -1, attrs)
}
