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
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"action": "opened"}`)

	tests := []struct {
		name      string
		secret    string
		signature string
		wantErr   bool
	}{{
		name:      "valid signature",
		secret:    secret,
		signature: sign(secret, body),
	}, {
		name:      "wrong secret",
		secret:    secret,
		signature: sign("other", body),
		wantErr:   true,
	}, {
		name:      "missing prefix",
		secret:    secret,
		signature: hex.EncodeToString([]byte("raw")),
		wantErr:   true,
	}, {
		name:      "bad hex",
		secret:    secret,
		signature: signaturePrefix + "zzzz",
		wantErr:   true,
	}, {
		name:    "empty signature",
		secret:  secret,
		wantErr: true,
	}, {
		name:      "no secret configured",
		signature: sign(secret, body),
		wantErr:   true,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.signature)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerifySignatureFlippedBody(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"action": "opened"}`)
	signature := sign(secret, body)

	tampered := append([]byte{}, body...)
	tampered[0] ^= 0x01

	err := VerifySignature(secret, tampered, signature)
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("VerifySignature() on tampered body = %v, want ErrBadSignature", err)
	}
}
