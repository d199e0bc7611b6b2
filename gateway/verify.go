/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const signaturePrefix = "sha256="

// ErrBadSignature is returned for any signature problem: a missing header, a
// malformed value, or a digest mismatch. Callers should treat all of these
// identically and reject the delivery before looking at the body.
var ErrBadSignature = errors.New("webhook signature verification failed")

// VerifySignature checks the X-Hub-Signature-256 value against the raw
// request body. The comparison is constant-time over the decoded digests.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return fmt.Errorf("%w: missing %q prefix", ErrBadSignature, signaturePrefix)
	}

	want, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return fmt.Errorf("%w: bad hex encoding", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(want, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}
