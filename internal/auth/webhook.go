package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrWebhookSignature is returned when a webhook's signature header is
// missing, malformed, or does not match the computed HMAC.
//
// This is the one corner of the auth surface with no teacher precedent
// (the teacher never receives signed webhooks); it is built directly on
// crypto/hmac and crypto/sha256 because the standard library already
// implements the exact primitive the scheme needs and no pack example
// wires a webhook-signing library for Go.
var ErrWebhookSignature = errors.New("invalid webhook signature")

// VerifyWebhookSignature checks an HMAC-SHA256 signature of body against
// secret. header is the raw value of the source's signature header, expected
// in the conventional "sha256=<hex>" form used by GitHub-style webhooks.
func VerifyWebhookSignature(secret string, body []byte, header string) error {
	const prefix = "sha256="
	hexDigest, ok := strings.CutPrefix(header, prefix)
	if !ok {
		return ErrWebhookSignature
	}

	presented, err := hex.DecodeString(hexDigest)
	if err != nil {
		return ErrWebhookSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(presented, expected) {
		return ErrWebhookSignature
	}
	return nil
}
