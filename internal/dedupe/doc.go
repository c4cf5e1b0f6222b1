// Package dedupe drops Slack events that are delivered more than once
// within a configurable window.
package dedupe
