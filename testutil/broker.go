// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides an in-memory broker with the delivery semantics
// the browsing engine relies on: fetched messages stay unacknowledged until
// acked, and closing the owning channel returns them to the front of the
// ready list.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
)

var (
	// ErrQueueNotFound mirrors a passive declare of a missing queue.
	ErrQueueNotFound = errors.New("NOT_FOUND - no queue")
	// ErrUnknownDeliveryTag mirrors acking a tag the channel never issued.
	ErrUnknownDeliveryTag = errors.New("PRECONDITION_FAILED - unknown delivery tag")
	// ErrChannelClosed is returned by operations on a closed channel.
	ErrChannelClosed = errors.New("channel/connection is not open")
)

// Published is one message accepted by Publish.
type Published struct {
	Binder     string
	Exchange   string
	RoutingKey string
	Message    message.Raw
}

// Broker is an in-memory broker implementing connection.Dialer.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]*queue
	bindings  map[string]string // exchange -> queue
	published []Published
	dials     map[string]int
	open      int

	dialErr    error
	publishErr error
}

type queue struct {
	ready []message.Raw
}

var _ connection.Dialer = (*Broker)(nil)

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues:   make(map[string]*queue),
		bindings: make(map[string]string),
		dials:    make(map[string]int),
	}
}

// Declare creates queue if it does not exist.
func (b *Broker) Declare(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{}
	}
}

// Delete removes queue and its messages.
func (b *Broker) Delete(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, name)
}

// Bind routes messages published to exchange into queue.
func (b *Broker) Bind(exchange, queueName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[exchange] = queueName
}

// Enqueue appends a ready message to queue, declaring it when needed.
func (b *Broker) Enqueue(queueName string, msg message.Raw) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		q = &queue{}
		b.queues[queueName] = q
	}
	q.ready = append(q.ready, msg)
}

// EnqueueBodies appends one message per body.
func (b *Broker) EnqueueBodies(queueName string, bodies ...string) {
	for _, body := range bodies {
		b.Enqueue(queueName, message.Raw{Body: []byte(body)})
	}
}

// Ready returns the bodies of the ready messages in queue order.
func (b *Broker) Ready(queueName string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, string(m.Body))
	}
	return out
}

// Depth returns the ready count of queue.
func (b *Broker) Depth(queueName string) int {
	return len(b.Ready(queueName))
}

// Published returns every accepted publish in order.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Published(nil), b.published...)
}

// Dials returns how many connections were opened for binder.
func (b *Broker) Dials(binder string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials[binder]
}

// Open returns how many connections are currently open.
func (b *Broker) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// FailDial makes every following Dial return err. Nil restores dialing.
func (b *Broker) FailDial(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// FailPublish makes every following Publish return err. Nil restores it.
func (b *Broker) FailPublish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// Dial opens a connection for binder.
func (b *Broker) Dial(ctx context.Context, name string, _ config.BinderConfig) (connection.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	b.dials[name]++
	b.open++
	return &conn{broker: b, binder: name}, nil
}

type conn struct {
	broker   *Broker
	binder   string
	channels []*channel
	closed   bool
}

func (c *conn) Admin() (connection.Admin, error) {
	return c.open()
}

func (c *conn) Channel() (connection.Channel, error) {
	return c.open()
}

func (c *conn) open() (*channel, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	ch := &channel{conn: c, unacked: make(map[uint64]pending)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *conn) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked()
	}
	b.open--
	return nil
}

type pending struct {
	queue string
	msg   message.Raw
}

type channel struct {
	conn    *conn
	nextTag uint64
	unacked map[uint64]pending
	closed  bool
}

func (ch *channel) QueueDepth(queueName string) (int, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return 0, ErrChannelClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		// A failed passive declare closes the channel.
		ch.closeLocked()
		return 0, fmt.Errorf("%w '%s'", ErrQueueNotFound, queueName)
	}
	return len(q.ready), nil
}

func (ch *channel) Get(queueName string) (message.Raw, bool, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return message.Raw{}, false, ErrChannelClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		ch.closeLocked()
		return message.Raw{}, false, fmt.Errorf("%w '%s'", ErrQueueNotFound, queueName)
	}
	if len(q.ready) == 0 {
		return message.Raw{}, false, nil
	}
	msg := q.ready[0]
	q.ready = q.ready[1:]

	ch.nextTag++
	delivered := msg
	delivered.DeliveryTag = ch.nextTag
	ch.unacked[ch.nextTag] = pending{queue: queueName, msg: msg}
	return delivered, true, nil
}

func (ch *channel) Ack(tag uint64) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	if _, ok := ch.unacked[tag]; !ok {
		ch.closeLocked()
		return fmt.Errorf("%w %d", ErrUnknownDeliveryTag, tag)
	}
	delete(ch.unacked, tag)
	return nil
}

func (ch *channel) Purge(queueName string) (int, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return 0, ErrChannelClosed
	}
	q, ok := b.queues[queueName]
	if !ok {
		ch.closeLocked()
		return 0, fmt.Errorf("%w '%s'", ErrQueueNotFound, queueName)
	}
	n := len(q.ready)
	q.ready = nil
	return n, nil
}

func (ch *channel) Publish(ctx context.Context, exchange, routingKey string, msg message.Raw) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	if b.publishErr != nil {
		return b.publishErr
	}
	msg.DeliveryTag = 0
	msg.Redelivered = false
	b.published = append(b.published, Published{
		Binder:     ch.conn.binder,
		Exchange:   exchange,
		RoutingKey: routingKey,
		Message:    msg,
	})
	if target, ok := b.bindings[exchange]; ok {
		if q, ok := b.queues[target]; ok {
			q.ready = append(q.ready, msg)
		}
	}
	return nil
}

func (ch *channel) Close() error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	ch.closeLocked()
	return nil
}

// closeLocked returns unacked messages to the front of their queues in
// delivery order. Callers hold the broker lock.
func (ch *channel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	requeued := make(map[string][]message.Raw)
	for _, tag := range tags {
		p := ch.unacked[tag]
		m := p.msg
		m.Redelivered = true
		requeued[p.queue] = append(requeued[p.queue], m)
	}
	for name, msgs := range requeued {
		if q, ok := ch.conn.broker.queues[name]; ok {
			q.ready = append(msgs, q.ready...)
		}
	}
	ch.unacked = make(map[uint64]pending)
}

// Binders is a static binder table implementing connection.Binders.
type Binders map[string]config.BinderConfig

// Binder resolves name.
func (b Binders) Binder(name string) (config.BinderConfig, error) {
	cfg, ok := b[name]
	if !ok {
		return config.BinderConfig{}, fmt.Errorf("binder %q not configured: %w", name, config.ErrConfiguration)
	}
	return cfg, nil
}
