// ABOUTME: Slack request signature verification (HMAC-SHA256 over v0:<ts>:<body>)
// ABOUTME: Constant-time comparison with an optional replay window

package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Signature errors
var (
	ErrMissingSignature = errors.New("missing signature or timestamp")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleRequest     = errors.New("request timestamp outside allowed window")
)

const signatureVersion = "v0"

// ComputeSignature returns the v0=<hex> signature Slack would send for body.
func ComputeSignature(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches body and timestamp under secret.
func VerifySignature(secret string, body []byte, timestamp, signature string) bool {
	if secret == "" || timestamp == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(secret, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignatureVerifier checks request signatures and, when MaxAge is positive,
// rejects timestamps too far from the current time.
type SignatureVerifier struct {
	Secret string
	MaxAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Verify returns nil if the request is authentic.
func (v *SignatureVerifier) Verify(body []byte, timestamp, signature string) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}

	if v.MaxAge > 0 {
		sec, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrStaleRequest
		}
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		age := now().Sub(time.Unix(sec, 0))
		if age < 0 {
			age = -age
		}
		if age > v.MaxAge {
			return ErrStaleRequest
		}
	}

	if !VerifySignature(v.Secret, body, timestamp, signature) {
		return ErrBadSignature
	}
	return nil
}
