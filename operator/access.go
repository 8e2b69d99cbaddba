// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package operator

import (
	"context"
	"fmt"

	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
)

// Primitive broker operations. Each resolves its handle from the scope so a
// destroyed binder is transparently redialed on next use.

func queueDepth(ctx context.Context, s *connection.Scope, binder, queue string) (int, error) {
	admin, err := s.Admin(ctx, binder)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrQueueUnavailable, queue, err)
	}
	n, err := admin.QueueDepth(queue)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrQueueUnavailable, queue, err)
	}
	return n, nil
}

func peekNext(ctx context.Context, s *connection.Scope, binder, queue string) (message.Raw, bool, error) {
	ch, err := s.Channel(ctx, binder)
	if err != nil {
		return message.Raw{}, false, err
	}
	return ch.Get(queue)
}

func ackDeliveryTag(ctx context.Context, s *connection.Scope, binder string, tag uint64) error {
	ch, err := s.Channel(ctx, binder)
	if err != nil {
		return err
	}
	return ch.Ack(tag)
}

func purge(ctx context.Context, s *connection.Scope, binder, queue string) (int, error) {
	ch, err := s.Channel(ctx, binder)
	if err != nil {
		return 0, err
	}
	return ch.Purge(queue)
}

func publish(ctx context.Context, s *connection.Scope, binder, exchange, routingKey string, raw message.Raw) error {
	ch, err := s.Channel(ctx, binder)
	if err != nil {
		return err
	}
	return ch.Publish(ctx, exchange, routingKey, raw)
}
