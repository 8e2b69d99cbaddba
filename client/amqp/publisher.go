// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"context"
	"errors"
	"fmt"

	"github.com/absmach/virgil/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Publish sends msg as a mandatory publish and waits for the broker confirm.
// An unroutable message fails with ErrReturned and a nack with
// ErrPublisherConfirm.
func (c *Channel) Publish(ctx context.Context, exchange, routingKey string, msg message.Raw) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	c.chMu.Lock()
	defer c.chMu.Unlock()

	c.drainReturns()
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, true, false, toPublishing(msg))
	if err != nil {
		return err
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	if !acked {
		return ErrPublisherConfirm
	}

	// The broker sends basic.return before the confirm of the same message.
	select {
	case r, ok := <-c.returns:
		if ok {
			return fmt.Errorf("%w: %d %s", ErrReturned, r.ReplyCode, r.ReplyText)
		}
	default:
	}
	return nil
}

func (c *Channel) drainReturns() {
	for {
		select {
		case <-c.returns:
		default:
			return
		}
	}
}

func toPublishing(msg message.Raw) amqp091.Publishing {
	var headers amqp091.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp091.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}
	p := msg.Properties
	// UserId is left out: the broker rejects one that differs from the
	// publishing connection's user.
	return amqp091.Publishing{
		Headers:         headers,
		ContentType:     p.ContentType,
		ContentEncoding: p.ContentEncoding,
		DeliveryMode:    p.DeliveryMode,
		Priority:        p.Priority,
		CorrelationId:   p.CorrelationID,
		ReplyTo:         p.ReplyTo,
		Expiration:      p.Expiration,
		MessageId:       p.MessageID,
		Timestamp:       p.Timestamp,
		Type:            p.Type,
		AppId:           p.AppID,
		Body:            msg.Body,
	}
}
