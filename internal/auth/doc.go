// Package auth issues and checks the HS256 tokens slack-pulse uses.
//
// Two kinds of token share one signing secret (auth.jwt_secret) and are
// kept apart by a purpose claim:
//
//   - Admin tokens are minted by `slack-pulse token` and sent as
//     "Authorization: Bearer <token>" to the /api routes.
//   - OAuth state tokens are minted by /slack/install and checked by the
//     /slack/oauth callback. They expire after ten minutes.
package auth
