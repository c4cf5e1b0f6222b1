// Package gateway assembles and runs the slack-pulse server.
//
// # Components
//
// New opens the SQLite store, builds the Slack connector, the LLM client,
// and (in upload image mode) the S3 blob store, then hands them to
// Assemble. Assemble is the seam tests use: it takes already-built
// dependencies and wires the job queue, the sentiment analysis job, the
// dedupe filter, and the webhook dispatcher into one chi router.
//
// # HTTP Routes
//
//	POST /slack/events                     Events API webhooks
//	POST /slack/commands                   slash commands
//	GET  /slack/install                    authorize URL (?redirect=1 for a 302)
//	GET  /slack/oauth                      OAuth callback
//	GET  /health                           liveness
//	GET  /health/ready                     database ping
//	GET  /metrics                          Prometheus (metrics.enabled)
//	GET  /api/workspaces                   admin: installed workspaces
//	GET  /api/workspaces/{team}/channels/{channel}/analyses
//	POST /api/workspaces/{team}/channels/{channel}/analyze
//	GET  /api/jobs/{id}
//
// The /api routes require an admin bearer token (see package auth) and
// answer 503 when auth.jwt_secret is unset.
//
// # Lifecycle
//
// Run listens on server.http_addr, or on a tsnet node when tailscale is
// enabled, starts the job workers, and serves until its context is
// canceled. Shutdown then stops the HTTP server, drains the workers, and
// closes the store.
package gateway
