// ABOUTME: Slack Web API implementation of Messenger using slack-go
// ABOUTME: Shares a rate limiter across workspaces and bounds every call with a timeout

package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/2389/slack-pulse/internal/metrics"
)

// ErrFileTooLarge is returned when a download exceeds the configured limit.
var ErrFileTooLarge = errors.New("file exceeds download limit")

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxDownload = 20 << 20
	maxRateLimitWait   = 30 * time.Second
	maxAttempts        = 3
)

// SlackOptions configures a SlackConnector.
type SlackOptions struct {
	// APIURL overrides https://slack.com/api/ (must end in a slash).
	APIURL     string
	HTTPClient *http.Client
	// RateLimit is requests per second across all workspaces. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Timeout bounds each API call.
	Timeout time.Duration
	// MaxDownload caps file downloads in bytes.
	MaxDownload int64
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// SlackConnector builds Messengers backed by the Slack Web API.
type SlackConnector struct {
	apiURL      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	timeout     time.Duration
	maxDownload int64
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewSlackConnector creates a connector with the given options.
func NewSlackConnector(opts SlackOptions) *SlackConnector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxDownload := opts.MaxDownload
	if maxDownload <= 0 {
		maxDownload = defaultMaxDownload
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &SlackConnector{
		apiURL:      opts.APIURL,
		httpClient:  httpClient,
		limiter:     limiter,
		timeout:     timeout,
		maxDownload: maxDownload,
		logger:      logger.With("component", "slack"),
		metrics:     opts.Metrics,
	}
}

// Client returns a Messenger authorized with botToken.
func (c *SlackConnector) Client(botToken string) Messenger {
	options := []slack.Option{slack.OptionHTTPClient(c.httpClient)}
	if c.apiURL != "" {
		options = append(options, slack.OptionAPIURL(c.apiURL))
	}
	return &slackClient{
		api:  slack.New(botToken, options...),
		conn: c,
	}
}

type slackClient struct {
	api  *slack.Client
	conn *SlackConnector
}

// call runs fn under the shared rate limiter and a per-call timeout, retrying
// when Slack answers 429.
func (c *slackClient) call(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() { c.conn.metrics.Vendor("slack", op, time.Since(start), err) }()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if werr := c.conn.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("slack %s: %w", op, werr)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.conn.timeout)
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		var rateErr *slack.RateLimitedError
		if !errors.As(err, &rateErr) || attempt == maxAttempts {
			break
		}

		wait := rateErr.RetryAfter
		if wait <= 0 || wait > maxRateLimitWait {
			wait = time.Second
		}
		c.conn.logger.Warn("slack_rate_limited", "op", op, "retry_after", wait, "attempt", attempt)
		if serr := sleepWithContext(ctx, wait); serr != nil {
			return fmt.Errorf("slack %s: %w", op, serr)
		}
	}
	return fmt.Errorf("slack %s: %w", op, err)
}

// PostMessage sends text to a channel, threaded when threadTS is set.
func (c *slackClient) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}

	var ts string
	err := c.call(ctx, "chat.postMessage", func(ctx context.Context) error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channel, options...)
		return err
	})
	return ts, err
}

// FileInfo fetches metadata for a file.
func (c *slackClient) FileInfo(ctx context.Context, fileID string) (*File, error) {
	var f *slack.File
	err := c.call(ctx, "files.info", func(ctx context.Context) error {
		var err error
		f, _, _, err = c.api.GetFileInfoContext(ctx, fileID, 0, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := convertFile(*f)
	return &out, nil
}

// History returns channel or thread messages, newest first.
func (c *slackClient) History(ctx context.Context, params HistoryParams) ([]Message, error) {
	var oldest string
	if !params.Oldest.IsZero() {
		oldest = FormatTS(params.Oldest)
	}

	var msgs []slack.Message
	if params.ThreadTS != "" {
		replies, err := c.threadReplies(ctx, params.Channel, params.ThreadTS, oldest, params.Limit)
		if err != nil {
			return nil, err
		}
		// Replies come back oldest first.
		for i, j := 0, len(replies)-1; i < j; i, j = i+1, j-1 {
			replies[i], replies[j] = replies[j], replies[i]
		}
		msgs = replies
	} else {
		err := c.call(ctx, "conversations.history", func(ctx context.Context) error {
			resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: params.Channel,
				Limit:     params.Limit,
				Oldest:    oldest,
			})
			if err != nil {
				return err
			}
			msgs = resp.Messages
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

// threadReplies pages through conversations.replies, oldest first, and
// keeps the newest limit messages so a thread has the same window as a
// channel. limit <= 0 keeps everything.
func (c *slackClient) threadReplies(ctx context.Context, channel, threadTS, oldest string, limit int) ([]slack.Message, error) {
	var (
		out    []slack.Message
		cursor string
	)
	for {
		var (
			page    []slack.Message
			hasMore bool
			next    string
		)
		err := c.call(ctx, "conversations.replies", func(ctx context.Context) error {
			var err error
			page, hasMore, next, err = c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
				ChannelID: channel,
				Timestamp: threadTS,
				Limit:     limit,
				Oldest:    oldest,
				Cursor:    cursor,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if limit > 0 && len(out) > limit {
			out = slices.Clone(out[len(out)-limit:])
		}
		if !hasMore || next == "" || next == cursor {
			return out, nil
		}
		cursor = next
	}
}

// DownloadFile fetches a private file URL with the bot token.
func (c *slackClient) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	err := c.call(ctx, "files.download", func(ctx context.Context) error {
		buf.Reset()
		return c.api.GetFileContext(ctx, url, &limitedWriter{w: &buf, remaining: c.conn.maxDownload})
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func convertMessage(m slack.Message) Message {
	out := Message{
		TS:       m.Timestamp,
		ThreadTS: m.ThreadTimestamp,
		User:     m.User,
		Text:     m.Text,
		Subtype:  m.SubType,
		BotID:    m.BotID,
	}
	if m.BotProfile != nil {
		out.AppID = m.BotProfile.AppID
	}
	for _, f := range m.Files {
		out.Files = append(out.Files, convertFile(f))
	}
	return out
}

func convertFile(f slack.File) File {
	return File{
		ID:                 f.ID,
		Name:               f.Name,
		Filetype:           f.Filetype,
		Mimetype:           f.Mimetype,
		URLPrivate:         f.URLPrivate,
		URLPrivateDownload: f.URLPrivateDownload,
		Permalink:          f.Permalink,
		Size:               f.Size,
	}
}

// limitedWriter fails once more than remaining bytes are written.
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > l.remaining {
		return 0, ErrFileTooLarge
	}
	l.remaining -= int64(len(p))
	return l.w.Write(p)
}

// sleepWithContext waits for d or until ctx is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ensure SlackConnector implements Connector.
var _ Connector = (*SlackConnector)(nil)
