// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"sync"

	"github.com/absmach/virgil/connection"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

var _ connection.Admin = (*Admin)(nil)

// Admin runs administrative queries on a dedicated channel.
type Admin struct {
	chMu sync.Mutex
	ch   *amqp091.Channel
}

// QueueDepth returns the ready message count of queue via a passive declare.
// A missing queue closes the channel.
func (a *Admin) QueueDepth(queue string) (int, error) {
	if queue == "" {
		return 0, ErrInvalidQueueName
	}

	a.chMu.Lock()
	defer a.chMu.Unlock()

	q, err := a.ch.QueueDeclarePassive(queue, false, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close closes the admin channel.
func (a *Admin) Close() error {
	if a.ch.IsClosed() {
		return nil
	}
	return a.ch.Close()
}
