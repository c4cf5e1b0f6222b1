// ABOUTME: Tests for the admin bearer-token middleware
// ABOUTME: Covers header parsing, purpose checks, and the disabled state

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func serveAdmin(t *testing.T, verifier TokenVerifier, authHeader string) (*httptest.ResponseRecorder, *AuthContext) {
	t.Helper()
	var got *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	RequireAdmin(verifier, nil)(handler).ServeHTTP(rec, req)
	return rec, got
}

func TestRequireAdmin_ValidToken(t *testing.T) {
	v := newTestVerifier(t)
	token, _ := v.Generate("ops", PurposeAdmin, time.Hour)

	rec, got := serveAdmin(t, v, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.Subject != "ops" {
		t.Errorf("AuthContext = %+v, want subject ops", got)
	}
}

func TestRequireAdmin_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	state, _ := v.Generate("install", PurposeOAuthState, time.Hour)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"basic auth", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"state token", "Bearer " + state, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, got := serveAdmin(t, v, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if got != nil {
				t.Error("handler should not run")
			}
			if !strings.Contains(rec.Body.String(), tt.wantMsg) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestRequireAdmin_Disabled(t *testing.T) {
	rec, got := serveAdmin(t, nil, "Bearer anything")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got != nil {
		t.Error("handler should not run")
	}
}

func TestFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if FromContext(req.Context()) != nil {
		t.Error("FromContext() on a bare context should be nil")
	}
}
