// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultDisplayLimit is the maximum number of characters kept in Message.Body.
const DefaultDisplayLimit = 256

// Converter maps broker messages to display records.
type Converter interface {
	Convert(raw Raw) Message
}

var _ Converter = (*DefaultConverter)(nil)

// DefaultConverter truncates the body to Limit characters and copies every
// header that is not in Denylist.
type DefaultConverter struct {
	Limit    int
	Denylist map[string]struct{}
}

// NewConverter creates a DefaultConverter. A non-positive limit falls back to
// DefaultDisplayLimit. Denylist entries are matched case-insensitively.
func NewConverter(limit int, denylist []string) *DefaultConverter {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	deny := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		deny[strings.ToLower(name)] = struct{}{}
	}
	return &DefaultConverter{
		Limit:    limit,
		Denylist: deny,
	}
}

// Convert builds the display record. The fingerprint always covers the full
// body, never the truncated one.
func (c *DefaultConverter) Convert(raw Raw) Message {
	fp := Fingerprint(raw.Body)

	return Message{
		ID:          ID(raw.Properties.MessageID, fp),
		Fingerprint: fp,
		Body:        truncate(decode(raw.Body), c.limit()),
		Headers:     c.headers(raw.Headers),
	}
}

func (c *DefaultConverter) limit() int {
	if c.Limit <= 0 {
		return DefaultDisplayLimit
	}
	return c.Limit
}

func (c *DefaultConverter) headers(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		if _, denied := c.Denylist[strings.ToLower(key)]; denied {
			continue
		}
		out[key] = HeaderString(value)
	}
	return out
}

// HeaderString renders an AMQP header value for display.
func HeaderString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return decode(val)
	case bool, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func decode(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
