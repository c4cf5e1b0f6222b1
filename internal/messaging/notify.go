// ABOUTME: Best-effort channel notifications used on failure paths
// ABOUTME: Errors are logged and dropped so they never replace the caller's primary error

package messaging

import (
	"context"
	"log/slog"
	"time"
)

const notifyTimeout = 5 * time.Second

// Notify posts text to channel and only logs if that fails. It runs even
// when ctx is already cancelled so a timed-out operation can still report.
func Notify(ctx context.Context, m Messenger, logger *slog.Logger, channel, threadTS, text string) {
	if m == nil || channel == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if _, err := m.PostMessage(ctx, channel, text, threadTS); err != nil {
		logger.Warn("notification failed", "channel", channel, "error", err)
	}
}
