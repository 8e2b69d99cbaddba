// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"sync"
	"time"

	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

var _ connection.Channel = (*Channel)(nil)

// Channel fetches, acknowledges, purges and publishes on one AMQP channel.
type Channel struct {
	chMu           sync.Mutex
	ch             *amqp091.Channel
	returns        chan amqp091.Return
	confirmTimeout time.Duration
}

func newChannel(ch *amqp091.Channel, confirmTimeout time.Duration) *Channel {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &Channel{
		ch:             ch,
		returns:        ch.NotifyReturn(make(chan amqp091.Return, 1)),
		confirmTimeout: confirmTimeout,
	}
}

// Get fetches the next ready message with manual acknowledgement.
func (c *Channel) Get(queue string) (message.Raw, bool, error) {
	if queue == "" {
		return message.Raw{}, false, ErrInvalidQueueName
	}

	c.chMu.Lock()
	d, ok, err := c.ch.Get(queue, false)
	c.chMu.Unlock()
	if err != nil || !ok {
		return message.Raw{}, false, err
	}
	return fromDelivery(d), true, nil
}

// Ack acknowledges a single delivery.
func (c *Channel) Ack(deliveryTag uint64) error {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch.Ack(deliveryTag, false)
}

// Purge removes all ready messages in queue.
func (c *Channel) Purge(queue string) (int, error) {
	if queue == "" {
		return 0, ErrInvalidQueueName
	}

	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch.QueuePurge(queue, false)
}

// Close closes the channel. Unacknowledged deliveries return to their queue.
func (c *Channel) Close() error {
	if c.ch.IsClosed() {
		return nil
	}
	return c.ch.Close()
}

func fromDelivery(d amqp091.Delivery) message.Raw {
	var headers map[string]any
	if len(d.Headers) > 0 {
		headers = make(map[string]any, len(d.Headers))
		for k, v := range d.Headers {
			headers[k] = v
		}
	}
	return message.Raw{
		Body: d.Body,
		Properties: message.Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			MessageID:       d.MessageId,
			CorrelationID:   d.CorrelationId,
			ReplyTo:         d.ReplyTo,
			Type:            d.Type,
			AppID:           d.AppId,
			UserID:          d.UserId,
			Expiration:      d.Expiration,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			Timestamp:       d.Timestamp,
		},
		Headers:     headers,
		DeliveryTag: d.DeliveryTag,
		Redelivered: d.Redelivered,
		Exchange:    d.Exchange,
		RoutingKey:  d.RoutingKey,
	}
}
