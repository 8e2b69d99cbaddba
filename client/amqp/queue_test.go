// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"testing"
	"time"

	"github.com/absmach/virgil/message"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestFromDelivery(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	d := amqp091.Delivery{
		Headers: amqp091.Table{
			"x-exception-message": "boom",
			"x-death":             []any{amqp091.Table{"count": int64(1)}},
		},
		ContentType:  "application/json",
		MessageId:    "abc",
		UserId:       "guest",
		DeliveryMode: amqp091.Persistent,
		Priority:     4,
		Timestamp:    ts,
		DeliveryTag:  7,
		Redelivered:  true,
		Exchange:     "orders",
		RoutingKey:   "orders.created",
		Body:         []byte(`{"id":1}`),
	}

	raw := fromDelivery(d)
	assert.Equal(t, d.Body, raw.Body)
	assert.Equal(t, "abc", raw.Properties.MessageID)
	assert.Equal(t, "guest", raw.Properties.UserID)
	assert.Equal(t, uint8(amqp091.Persistent), raw.Properties.DeliveryMode)
	assert.Equal(t, ts, raw.Properties.Timestamp)
	assert.Equal(t, "boom", raw.Headers["x-exception-message"])
	assert.Equal(t, uint64(7), raw.DeliveryTag)
	assert.True(t, raw.Redelivered)
	assert.Equal(t, "orders.created", raw.RoutingKey)
}

func TestFromDeliveryNoHeaders(t *testing.T) {
	raw := fromDelivery(amqp091.Delivery{Body: []byte("x")})
	assert.Nil(t, raw.Headers)
}

func TestToPublishing(t *testing.T) {
	raw := message.Raw{
		Body: []byte("retry"),
		Properties: message.Properties{
			ContentType:   "text/plain",
			MessageID:     "m-1",
			CorrelationID: "c-1",
			UserID:        "someone-else",
			DeliveryMode:  2,
		},
		Headers:     map[string]any{"attempt": int32(2)},
		DeliveryTag: 99,
	}

	p := toPublishing(raw)
	assert.Equal(t, []byte("retry"), p.Body)
	assert.Equal(t, "m-1", p.MessageId)
	assert.Equal(t, "c-1", p.CorrelationId)
	assert.Empty(t, p.UserId)
	assert.Equal(t, uint8(2), p.DeliveryMode)
	assert.Equal(t, int32(2), p.Headers["attempt"])

	p.Headers["attempt"] = int32(3)
	assert.Equal(t, int32(2), raw.Headers["attempt"], "headers are copied")
}
