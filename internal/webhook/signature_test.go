package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signRaw(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"message":"hello","sender":"alice"}`)
	secret := "webhook-secret"

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		want    bool
	}{
		{"valid signature", payload, signRaw(payload, secret), secret, true},
		{"empty secret", payload, signRaw(payload, secret), "", false},
		{"empty header", payload, "", secret, false},
		{"wrong secret", payload, signRaw(payload, "other"), secret, false},
		{"tampered payload", []byte(`{"message":"hell0"}`), signRaw(payload, secret), secret, false},
		{"missing prefix", payload, hex.EncodeToString([]byte("aa")), secret, false},
		{"bad hex", payload, "sha256=not-hex", secret, false},
		{"truncated hex", payload, signRaw(payload, secret)[:20], secret, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.payload, tt.header, tt.secret); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignRoundTrip(t *testing.T) {
	payload := []byte("any payload at all")
	if !Verify(payload, Sign(payload, "s3cret"), "s3cret") {
		t.Error("Sign output must verify with the same secret")
	}
}

func TestVerifySingleBitFlip(t *testing.T) {
	payload := []byte("bit flip sensitivity")
	secret := "secret"
	header := Sign(payload, secret)

	mutated := []byte(header)
	// Flip one bit inside the hex digest.
	mutated[len(mutated)-1] ^= 0x01
	if Verify(payload, string(mutated), secret) {
		t.Error("mutated signature must not verify")
	}
}
