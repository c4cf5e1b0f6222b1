// ABOUTME: net/http adapter for the dispatcher
// ABOUTME: Reads the raw body and signature headers, writes JSON responses and error bodies

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// MaxBodyBytes caps inbound webhook bodies.
const MaxBodyBytes = 1 << 20

// Signature header names. The X-Request-* pair is accepted when the Slack
// pair is absent, which lets relays that rename headers still deliver.
const (
	HeaderSignature         = "X-Slack-Signature"
	HeaderTimestamp         = "X-Slack-Request-Timestamp"
	HeaderSignatureFallback = "X-Request-Signature"
	HeaderTimestampFallback = "X-Request-Timestamp"
)

// ServeHTTP makes the dispatcher mountable on any router.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrMalformedPayload.Error()})
		return
	}

	req := Request{
		Body:        body,
		Signature:   headerWithFallback(r.Header, HeaderSignature, HeaderSignatureFallback),
		Timestamp:   headerWithFallback(r.Header, HeaderTimestamp, HeaderTimestampFallback),
		ContentType: r.Header.Get("Content-Type"),
	}

	// Slack drops the connection after three seconds; work already started
	// should still finish and record its outcome.
	resp, err := d.Handle(context.WithoutCancel(r.Context()), req)
	if err != nil {
		writeJSON(w, StatusCode(err), map[string]string{"error": publicMessage(err)})
		return
	}

	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}
	writeJSON(w, resp.Status, resp.Body)
}

func headerWithFallback(h http.Header, primary, fallback string) string {
	if v := h.Get(primary); v != "" {
		return v
	}
	return h.Get(fallback)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
