// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package operator

import "errors"

var (
	// ErrQueueUnavailable means the broker could not report on the queue,
	// either because it is missing or because the broker is unreachable.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrNotFound means no message with the requested fingerprint was found.
	ErrNotFound = errors.New("message not found")

	// ErrPublishFailure means the broker rejected a republish.
	ErrPublishFailure = errors.New("publish failure")
)
