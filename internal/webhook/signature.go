// Package webhook receives inbound deliveries from the HomeChat server
// and republishes them on the internal event bus after verifying their
// HMAC signature.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the sender's HMAC of the raw request body.
const SignatureHeader = "X-HomeChat-Signature"

const signaturePrefix = "sha256="

// Verify checks an HMAC-SHA256 signature of format "sha256=<hex>" over
// payload keyed by secret. The comparison is constant-time. An empty
// secret or header always fails: an unsigned delivery must never pass
// when a secret is configured.
func Verify(payload []byte, sigHeader, secret string) bool {
	if secret == "" || sigHeader == "" {
		return false
	}

	hexSig, ok := strings.CutPrefix(sigHeader, signaturePrefix)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for payload. Used by tests
// and by outbound deliveries that mirror the server's scheme.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
