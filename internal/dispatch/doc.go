// Package dispatch turns signed Slack webhooks into bot actions.
//
// Every request is verified against the app's signing secret before its
// body is parsed. Verified payloads fall into a closed set of variants:
// the url_verification handshake, slash commands, and event callbacks.
// Slash commands schedule a background sentiment analysis and acknowledge
// in channel. App mentions are answered synchronously with the last few
// stored exchanges as context. Shared images are described when vision is
// enabled.
package dispatch
