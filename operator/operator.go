// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package operator implements the queue browsing use cases: listing a queue
// without consuming it, republishing or acknowledging a single message by
// fingerprint, and purging a queue.
//
// The broker offers no browse primitive, so a listing fetches messages
// without acknowledging them and then tears down the connection, which
// returns them to the ready state. Messages are identified by the digest of
// their body.
package operator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/absmach/virgil/audit"
	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
	"github.com/absmach/virgil/server/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultScanSize bounds the listing a republish runs when its cache misses.
const DefaultScanSize = 200

const defaultRoutingKey = "#"

// Metric label for calls naming a queue that is not configured.
const unknownQueue = "unknown"

// Queues resolves queue profiles. *config.Provider satisfies it.
type Queues interface {
	Queue(key string) (config.QueueConfig, error)
	QueueKeys() []string
	DefaultQueue() string
}

// Settings exposes the browse settings in force. When the Queues passed to
// New also implements Settings, display and scan settings are read on every
// call, so a configuration reload applies to the next operation.
type Settings interface {
	BrowseSettings() config.BrowseConfig
}

// Listing is the result of one browse. Cache holds the raw messages of the
// listing keyed by fingerprint and may be handed to Republish.
type Listing struct {
	Queue    string
	Messages []message.Message
	Cache    *Cache
}

// Operator runs browse operations against configured queues.
type Operator struct {
	queues    Queues
	registry  *connection.Registry
	converter message.Converter // nil derives one from Settings per call
	scanSize  int               // 0 reads Settings per call
	audit     audit.Store
	metrics   *otel.Metrics
	tracer    trace.Tracer // nil if tracing disabled
	logger    *slog.Logger
}

// Option configures an Operator.
type Option func(*Operator)

// WithConverter pins the message converter, ignoring browse settings.
func WithConverter(c message.Converter) Option {
	return func(o *Operator) {
		if c != nil {
			o.converter = c
		}
	}
}

// WithScanSize pins how many messages a republish cache rebuild scans,
// ignoring browse settings.
func WithScanSize(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.scanSize = n
		}
	}
}

// WithAudit records republish, ack and purge outcomes in store.
func WithAudit(store audit.Store) Option {
	return func(o *Operator) {
		if store != nil {
			o.audit = store
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *otel.Metrics) Option {
	return func(o *Operator) {
		o.metrics = m
	}
}

// WithTracer enables a span per operation.
func WithTracer(t trace.Tracer) Option {
	return func(o *Operator) {
		o.tracer = t
	}
}

// WithLogger sets the operator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Operator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Operator.
func New(queues Queues, registry *connection.Registry, opts ...Option) *Operator {
	o := &Operator{
		queues:   queues,
		registry: registry,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// QueueKeys lists the configured queue keys.
func (o *Operator) QueueKeys() []string {
	return o.queues.QueueKeys()
}

// DefaultQueue returns the queue used when a call names none.
func (o *Operator) DefaultQueue() string {
	return o.queues.DefaultQueue()
}

// QueueSize returns the number of ready messages in the queue.
func (o *Operator) QueueSize(ctx context.Context, queueKey string) (n int, err error) {
	key := o.key(queueKey)
	ctx, done := o.begin(ctx, "size", key)
	defer func() { done(err) }()

	q, err := o.queues.Queue(key)
	if err != nil {
		return 0, err
	}

	scope, release := o.scope(ctx)
	defer release(q.ReadBinderName)

	n, err = queueDepth(ctx, scope, q.ReadBinderName, q.ReadName)
	if err != nil {
		o.logger.Error("queue_size_failed", slog.String("queue", key), slog.String("error", err.Error()))
		return 0, err
	}
	return n, nil
}

// Messages peeks up to limit messages, or the whole queue depth when limit
// is not positive. Every fetched message is returned to the ready state
// before Messages returns.
func (o *Operator) Messages(ctx context.Context, queueKey string, limit int) (l *Listing, err error) {
	key := o.key(queueKey)
	ctx, done := o.begin(ctx, "messages", key)
	defer func() { done(err) }()

	q, err := o.queues.Queue(key)
	if err != nil {
		return nil, err
	}
	conv, _ := o.browse()
	return o.list(ctx, key, q, limit, conv)
}

func (o *Operator) list(ctx context.Context, key string, q config.QueueConfig, limit int, conv message.Converter) (*Listing, error) {
	scope, release := o.scope(ctx)
	defer release(q.ReadBinderName)

	depth, err := queueDepth(ctx, scope, q.ReadBinderName, q.ReadName)
	if err != nil {
		o.logger.Error("queue_size_failed", slog.String("queue", key), slog.String("error", err.Error()))
		return nil, err
	}
	count := depth
	if limit > 0 {
		count = limit
	}

	listing := &Listing{
		Queue:    key,
		Messages: make([]message.Message, 0, min(count, depth)),
		Cache:    NewCache(),
	}
	for i := 0; i < count; i++ {
		raw, ok, err := peekNext(ctx, scope, q.ReadBinderName, q.ReadName)
		if err != nil {
			return nil, fmt.Errorf("%w: peek %s: %w", ErrQueueUnavailable, q.ReadName, err)
		}
		if !ok {
			break
		}
		msg := conv.Convert(raw)
		listing.Messages = append(listing.Messages, msg)
		listing.Cache.Put(msg.Fingerprint, raw)
	}
	o.metrics.RecordPeeked(key, len(listing.Messages))
	o.logger.Debug("queue_listed",
		slog.String("queue", key),
		slog.Int("depth", depth),
		slog.Int("messages", len(listing.Messages)))

	return listing, nil
}

// Republish sends the message with fingerprint to the queue's republish
// exchange and reports whether it was published. It looks in cache first; a
// nil cache or a miss runs one listing of the scan size, and a message still
// missing after that yields false with a nil error. The original message
// stays in the queue.
func (o *Operator) Republish(ctx context.Context, queueKey, fingerprint string, cache *Cache) (ok bool, err error) {
	if fingerprint == "" {
		return false, nil
	}
	key := o.key(queueKey)
	ctx, done := o.begin(ctx, "republish", key, attribute.String("fingerprint", fingerprint))
	defer func() {
		done(err)
		o.record(ctx, audit.OpRepublish, key, fingerprint, ok, err)
	}()

	q, err := o.queues.Queue(key)
	if err != nil {
		return false, err
	}

	raw, hit := cache.Get(fingerprint)
	if !hit {
		conv, scanSize := o.browse()
		listing, err := o.list(ctx, key, q, scanSize, conv)
		if err != nil {
			return false, err
		}
		if raw, hit = listing.Cache.Get(fingerprint); !hit {
			o.logger.Warn("republish_not_found", slog.String("queue", key), slog.String("fingerprint", fingerprint))
			return false, nil
		}
	}

	binder := q.RepublishBinder()
	routingKey := q.RepublishRoutingKey
	if routingKey == "" {
		routingKey = defaultRoutingKey
	}

	scope, release := o.scope(ctx)
	defer release(binder)

	if err := publish(ctx, scope, binder, q.RepublishName, routingKey, raw); err != nil {
		o.logger.Error("republish_failed",
			slog.String("queue", key),
			slog.String("binder", binder),
			slog.String("exchange", q.RepublishName),
			slog.String("error", err.Error()))
		return false, fmt.Errorf("%w: %w", ErrPublishFailure, err)
	}
	o.metrics.RecordRepublished(key)
	o.logger.Info("message_republished",
		slog.String("queue", key),
		slog.String("fingerprint", fingerprint),
		slog.String("exchange", q.RepublishName),
		slog.String("routing_key", routingKey))
	return true, nil
}

// Ack permanently removes the first message in fetch order whose
// fingerprint matches and reports whether one was found. Messages with the
// same content after it are left in the queue.
func (o *Operator) Ack(ctx context.Context, queueKey, fingerprint string) (ok bool, err error) {
	if fingerprint == "" {
		return false, nil
	}
	key := o.key(queueKey)
	ctx, done := o.begin(ctx, "ack", key, attribute.String("fingerprint", fingerprint))
	defer func() {
		done(err)
		o.record(ctx, audit.OpAck, key, fingerprint, ok, err)
	}()

	q, err := o.queues.Queue(key)
	if err != nil {
		return false, err
	}
	conv, _ := o.browse()

	scope, release := o.scope(ctx)
	defer release(q.ReadBinderName)

	depth, err := queueDepth(ctx, scope, q.ReadBinderName, q.ReadName)
	if err != nil {
		o.logger.Error("queue_size_failed", slog.String("queue", key), slog.String("error", err.Error()))
		return false, err
	}

	scanned := 0
	for ; scanned < depth; scanned++ {
		raw, got, err := peekNext(ctx, scope, q.ReadBinderName, q.ReadName)
		if err != nil {
			return false, fmt.Errorf("%w: peek %s: %w", ErrQueueUnavailable, q.ReadName, err)
		}
		if !got {
			break
		}
		if conv.Convert(raw).Fingerprint != fingerprint {
			continue
		}
		if err := ackDeliveryTag(ctx, scope, q.ReadBinderName, raw.DeliveryTag); err != nil {
			return false, fmt.Errorf("ack %s: %w", fingerprint, err)
		}
		o.metrics.RecordPeeked(key, scanned+1)
		o.metrics.RecordAcked(key)
		o.logger.Info("message_acked",
			slog.String("queue", key),
			slog.String("fingerprint", fingerprint),
			slog.Int("position", scanned))
		return true, nil
	}
	o.metrics.RecordPeeked(key, scanned)
	o.logger.Warn("ack_not_found",
		slog.String("queue", key),
		slog.String("fingerprint", fingerprint),
		slog.Int("scanned", scanned))
	return false, nil
}

// DropAll purges the queue and reports whether the purge ran. It succeeds
// on an empty queue and fails with ErrQueueUnavailable when the queue cannot
// be reached.
func (o *Operator) DropAll(ctx context.Context, queueKey string) (ok bool, err error) {
	key := o.key(queueKey)
	ctx, done := o.begin(ctx, "drop_all", key)
	defer func() {
		done(err)
		o.record(ctx, audit.OpDropAll, key, "", ok, err)
	}()

	q, err := o.queues.Queue(key)
	if err != nil {
		return false, err
	}

	scope, release := o.scope(ctx)
	defer release(q.ReadBinderName)

	if _, err := queueDepth(ctx, scope, q.ReadBinderName, q.ReadName); err != nil {
		o.logger.Error("queue_size_failed", slog.String("queue", key), slog.String("error", err.Error()))
		return false, err
	}
	n, err := purge(ctx, scope, q.ReadBinderName, q.ReadName)
	if err != nil {
		return false, fmt.Errorf("%w: purge %s: %w", ErrQueueUnavailable, q.ReadName, err)
	}
	o.metrics.RecordPurged(key)
	o.logger.Info("queue_purged", slog.String("queue", key), slog.Int("messages", n))
	return true, nil
}

func (o *Operator) key(queueKey string) string {
	if queueKey == "" {
		return o.queues.DefaultQueue()
	}
	return queueKey
}

// browse returns the converter and republish scan size for one call.
func (o *Operator) browse() (message.Converter, int) {
	var b config.BrowseConfig
	if s, ok := o.queues.(Settings); ok {
		b = s.BrowseSettings()
	}
	conv := o.converter
	if conv == nil {
		conv = message.NewConverter(b.DisplayLimit, b.HeaderDenylist)
	}
	scanSize := o.scanSize
	if scanSize <= 0 {
		scanSize = b.RepublishScanSize
	}
	if scanSize <= 0 {
		scanSize = DefaultScanSize
	}
	return conv, scanSize
}

// scope returns the caller's scope when ctx carries one, releasing only the
// binder used. Otherwise the call gets a private scope closed on release.
func (o *Operator) scope(ctx context.Context) (*connection.Scope, func(binder string)) {
	if s, ok := connection.ScopeFromContext(ctx); ok {
		return s, s.Destroy
	}
	s := o.registry.NewScope()
	return s, func(string) { s.Close() }
}

func (o *Operator) begin(ctx context.Context, op, queue string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	var span trace.Span
	if o.tracer != nil {
		attrs = append(attrs, attribute.String("queue", queue))
		ctx, span = o.tracer.Start(ctx, "operator."+op, trace.WithAttributes(attrs...))
	}
	return ctx, func(err error) {
		label := queue
		if err != nil && !slices.Contains(o.queues.QueueKeys(), queue) {
			label = unknownQueue
		}
		o.metrics.RecordOperation(op, label, float64(time.Since(start).Microseconds())/1000, err != nil)
		if span == nil {
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func (o *Operator) record(ctx context.Context, op audit.Operation, queue, fingerprint string, ok bool, opErr error) {
	e := audit.NewEntry(op, queue, fingerprint)
	e.Success = ok
	switch {
	case opErr != nil:
		e.Detail = opErr.Error()
	case !ok:
		e.Detail = ErrNotFound.Error()
	}
	// The audit write must not inherit a cancelled request context.
	if err := o.audit.Record(context.WithoutCancel(ctx), e); err != nil && !errors.Is(err, audit.ErrClosed) {
		o.logger.Warn("audit_record_failed",
			slog.String("operation", string(op)),
			slog.String("queue", queue),
			slog.String("error", err.Error()))
	}
}
