// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"crypto/md5"
	"encoding/hex"
)

// Identity prefixes of Message.ID.
const (
	MessageIDPrefix   = "i_"
	FingerprintPrefix = "f_"
)

// Fingerprint returns the lowercase hex MD5 digest of body.
func Fingerprint(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

// ID derives the display identity of a message. A broker-assigned message id
// wins over the fingerprint.
func ID(messageID, fingerprint string) string {
	if messageID != "" {
		return MessageIDPrefix + messageID
	}
	return FingerprintPrefix + fingerprint
}
