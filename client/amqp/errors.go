// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import "errors"

// Client errors.
var (
	ErrNoAddress        = errors.New("no broker address configured")
	ErrPublisherConfirm = errors.New("publisher confirm not acknowledged")
	ErrReturned         = errors.New("message returned as unroutable")
	ErrTimeout          = errors.New("operation timed out")
	ErrInvalidQueueName = errors.New("queue name cannot be empty")
)
