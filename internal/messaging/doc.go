// Package messaging is the bot's boundary with Slack.
//
// Messenger and Connector describe the Web API calls the bot makes; the
// SlackConnector implementation uses github.com/slack-go/slack with a
// shared rate limiter and a timeout on every call. SignatureVerifier
// authenticates inbound webhooks, and SlackOAuth completes app
// installation.
//
// IsBotOrigin is the single rule for deciding whether a message came from
// a bot: it has a bot id, the bot_message subtype, or an app id.
package messaging
