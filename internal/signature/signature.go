// Package signature implements the HMAC scheme tenants use to verify that
// a delivery came from us: hex HMAC-SHA256 over "{unix_millis}.{body}".
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	// Version is sent as X-Webhook-Signature-Version on every delivery.
	Version = "v1"

	// DefaultTolerance bounds the accepted clock skew during Verify.
	DefaultTolerance = 5 * time.Minute

	secretLen = 32 // random bytes; hex-encoded to 64 chars
)

// Sign computes the signature for payload at time t. It returns the hex
// digest and the millisecond timestamp string that must accompany it in the
// X-Webhook-Timestamp header.
func Sign(payload []byte, secret string, t time.Time) (sig, timestamp string) {
	timestamp = strconv.FormatInt(t.UnixMilli(), 10)
	return compute(payload, secret, timestamp), timestamp
}

// Verify recomputes the expected signature and compares in constant time.
// It fails closed: a missing or non-numeric timestamp, or one outside the
// tolerance window around now, yields false rather than an error.
func Verify(payload []byte, sig, timestamp, secret string, tolerance time.Duration) bool {
	if sig == "" || timestamp == "" {
		return false
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := time.Since(time.UnixMilli(ms))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return false
	}

	expected := compute(payload, secret, timestamp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// GenerateSecret returns a fresh hex-encoded 256-bit secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func compute(payload []byte, secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
