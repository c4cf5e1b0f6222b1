// ABOUTME: Tests for Slack request signature verification
// ABOUTME: Covers valid, tampered, missing, and stale signatures

package messaging

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeSignature_KnownVector(t *testing.T) {
	// Example from Slack's request signing documentation.
	secret := "8f742231b10e8888abcd99yyyzzz85a5"
	timestamp := "1531420618"
	body := []byte("token=xyzz0WbapA4vBCDEFasx0q6G&team_id=T1DC2JH3J&team_domain=testteamnow&channel_id=G8PSS9T3V&channel_name=foobar&user_id=U2CERLKJA&user_name=roadrunner&command=%2Fwebhook-collect&text=&response_url=https%3A%2F%2Fhooks.slack.com%2Fcommands%2FT1DC2JH3J%2F397700885554%2F96rGlfmibIGlgcZRskXaIFfN&trigger_id=398738663015.47445629121.803a0bc887a14d10d2c447fce8b6703c")

	got := ComputeSignature(secret, body, timestamp)
	assert.Equal(t, "v0=a2114d57b48eac39b9ad189dd8316235a7b4a8d21a10bd27519666489c69b503", got)
	assert.True(t, VerifySignature(secret, body, timestamp, got))
}

func TestVerifySignature_Rejects(t *testing.T) {
	body := []byte(`{"type":"event_callback"}`)
	sig := ComputeSignature("secret", body, "100")

	tests := []struct {
		name      string
		secret    string
		body      []byte
		timestamp string
		signature string
	}{
		{"wrong secret", "other", body, "100", sig},
		{"tampered body", "secret", []byte(`{"type":"url_verification"}`), "100", sig},
		{"different timestamp", "secret", body, "101", sig},
		{"missing signature", "secret", body, "100", ""},
		{"missing timestamp", "secret", body, "", sig},
		{"empty secret", "", body, "100", sig},
		{"wrong version prefix", "secret", body, "100", "v1=" + sig[3:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, VerifySignature(tt.secret, tt.body, tt.timestamp, tt.signature))
		})
	}
}

func TestSignatureVerifier_ReplayWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	body := []byte("payload")

	v := &SignatureVerifier{Secret: "s", MaxAge: 5 * time.Minute, Now: func() time.Time { return now }}

	fresh := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	assert.NoError(t, v.Verify(body, fresh, ComputeSignature("s", body, fresh)))

	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	assert.ErrorIs(t, v.Verify(body, stale, ComputeSignature("s", body, stale)), ErrStaleRequest)

	future := strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)
	assert.ErrorIs(t, v.Verify(body, future, ComputeSignature("s", body, future)), ErrStaleRequest)

	assert.ErrorIs(t, v.Verify(body, "not-a-number", "v0=00"), ErrStaleRequest)
}

func TestSignatureVerifier_NoWindow(t *testing.T) {
	body := []byte("payload")
	v := &SignatureVerifier{Secret: "s"}

	assert.NoError(t, v.Verify(body, "1", ComputeSignature("s", body, "1")))
	assert.ErrorIs(t, v.Verify(body, "1", "v0=deadbeef"), ErrBadSignature)
	assert.ErrorIs(t, v.Verify(body, "", ""), ErrMissingSignature)
}
