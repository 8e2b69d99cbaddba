// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message holds the broker-native and display representations of
// queued messages, the content fingerprint used as surrogate identity, and
// the converter between the two representations.
package message

import "time"

// Properties are the basic.properties of an AMQP 0.9.1 message, minus headers.
type Properties struct {
	ContentType     string
	ContentEncoding string
	MessageID       string
	CorrelationID   string
	ReplyTo         string
	Type            string
	AppID           string
	UserID          string
	Expiration      string
	DeliveryMode    uint8
	Priority        uint8
	Timestamp       time.Time
}

// Raw is a message as fetched from the broker.
//
// DeliveryTag identifies the unacknowledged fetch and is only valid on the
// channel that fetched it.
type Raw struct {
	Body        []byte
	Properties  Properties
	Headers     map[string]any
	DeliveryTag uint64
	Redelivered bool
	Exchange    string
	RoutingKey  string
}

// Fingerprint returns the content fingerprint of the raw message body.
func (r Raw) Fingerprint() string {
	return Fingerprint(r.Body)
}

// Message is the display record derived from a Raw message.
type Message struct {
	ID          string            `json:"id"`
	Fingerprint string            `json:"fingerprint"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}
