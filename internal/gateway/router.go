// ABOUTME: chi route table for Slack webhooks, OAuth install, health, metrics, and the admin API
// ABOUTME: Includes a slog access-log middleware keyed by chi's request id

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/slack-pulse/internal/auth"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	if g.metrics != nil {
		r.Method(http.MethodGet, g.config.Metrics.Path, g.metrics.Handler())
	}

	r.Route("/slack", func(sr chi.Router) {
		sr.Method(http.MethodPost, "/events", g.dispatcher)
		sr.Method(http.MethodPost, "/commands", g.dispatcher)
		sr.Get("/install", g.handleInstall)
		sr.Get("/oauth", g.handleOAuthCallback)
	})

	var verifier auth.TokenVerifier
	if g.tokens != nil {
		verifier = g.tokens
	}
	r.Route("/api", func(api chi.Router) {
		api.Use(auth.RequireAdmin(verifier, g.logger))
		api.Get("/workspaces", g.handleListWorkspaces)
		api.Get("/workspaces/{teamID}/channels/{channelID}/analyses", g.handleListAnalyses)
		api.Post("/workspaces/{teamID}/channels/{channelID}/analyze", g.handleAnalyze)
		api.Get("/jobs/{id}", g.handleGetJob)
	})

	return r
}

// requestLogger logs one line per request at debug for health probes and info otherwise.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if r.URL.Path == "/health" || r.URL.Path == "/health/ready" {
				level = slog.LevelDebug
			}
			logger.Log(r.Context(), level, "http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
