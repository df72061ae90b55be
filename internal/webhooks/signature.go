// Package webhooks receives external events, verifies their HMAC signatures,
// enforces idempotency, and hands the named workflow to the runtime as a
// background execution.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Signature"

// signaturePrefix is the optional scheme prefix clients may send.
const signaturePrefix = "sha256="

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the header value against the body's HMAC using a
// constant-time comparison. The "sha256=" prefix is accepted and stripped.
func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimPrefix(header, signaturePrefix)
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}
