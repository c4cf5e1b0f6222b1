// ABOUTME: Channel sentiment analysis job run on the background worker pool
// ABOUTME: Resolve, fetch history, ingest, locate image, guard, analyze, then persist and notify

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/slack-pulse/internal/blob"
	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/llm"
	"github.com/2389/slack-pulse/internal/messaging"
	"github.com/2389/slack-pulse/internal/mrkdwn"
	"github.com/2389/slack-pulse/internal/store"
)

// JobName is the queue name the job is registered under.
const JobName = "analyze_channel_sentiment"

const defaultHistoryLimit = 100

// Params are the job arguments as stored in the queue.
type Params struct {
	WorkspaceID string `json:"workspace_id"`
	ChannelID   string `json:"channel_id"`
	Hours       int    `json:"hours"`
	ThreadTS    string `json:"thread_ts,omitempty"`
}

// Result summarizes a finished run.
type Result struct {
	// MessageCount is the number of non-bot messages analyzed. Zero means
	// the guard stopped the run and nothing was stored.
	MessageCount int
	Hours        int
	AnalysisID   string
	Text         string
	ImageURL     string
	// Ingested counts records created by this run.
	Ingested int
}

// Store is the persistence the job needs.
type Store interface {
	store.WorkspaceStore
	store.ConversationStore
	store.AnalysisStore
}

// Options tunes the job.
type Options struct {
	HistoryLimit int
	// ImageMode is config.ImageModeInline or config.ImageModeUpload.
	ImageMode     string
	VisionEnabled bool
	Bucket        string
	Logger        *slog.Logger
}

// Job runs sentiment analysis for one channel or thread.
type Job struct {
	store     Store
	connector messaging.Connector
	llm       llm.Completer
	blob      blob.Store
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a job. blobs may be nil unless opts.ImageMode is upload.
func New(s Store, connector messaging.Connector, completer llm.Completer, blobs blob.Store, opts Options) *Job {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.ImageMode == "" {
		opts.ImageMode = config.ImageModeInline
	}
	return &Job{
		store:     s,
		connector: connector,
		llm:       completer,
		blob:      blobs,
		opts:      opts,
		logger:    logger.With("component", "analysis"),
		now:       time.Now,
	}
}

// Handle adapts Run to the job queue.
func (j *Job) Handle(ctx context.Context, payload json.RawMessage) error {
	var p Params
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding %s params: %w", JobName, err)
	}
	_, err := j.Run(ctx, p)
	return err
}

// Run executes every stage in order. Any stage error aborts the run; the
// channel gets a best-effort failure notice and the error is returned.
func (j *Job) Run(ctx context.Context, p Params) (*Result, error) {
	hours := NormalizeHours(p.Hours)
	logger := j.logger.With("workspace_id", p.WorkspaceID, "channel_id", p.ChannelID, "hours", hours)

	ws, err := j.store.GetWorkspace(ctx, p.WorkspaceID)
	if err != nil {
		logger.Error("sentiment analysis failed", "stage", "resolve", "error", err)
		return nil, fmt.Errorf("resolving workspace %s: %w", p.WorkspaceID, err)
	}

	client := j.connector.Client(ws.BotToken)
	res, err := j.run(ctx, ws, client, p, hours, logger)
	if err != nil {
		logger.Error("sentiment analysis failed", "error", err)
		messaging.Notify(ctx, client, logger, p.ChannelID, p.ThreadTS, FailureText(err))
		return nil, err
	}
	return res, nil
}

func (j *Job) run(ctx context.Context, ws *store.Workspace, client messaging.Messenger, p Params, hours int, logger *slog.Logger) (*Result, error) {
	since := j.now().Add(-time.Duration(hours) * time.Hour)
	msgs, err := client.History(ctx, messaging.HistoryParams{
		Channel:  p.ChannelID,
		ThreadTS: p.ThreadTS,
		Limit:    j.opts.HistoryLimit,
		Oldest:   since,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}

	ingested, err := j.ingest(ctx, ws, p, msgs)
	if err != nil {
		return nil, err
	}

	var img *image
	if j.opts.VisionEnabled {
		img = j.locateImage(ctx, client, msgs, logger)
	}

	lines := transcript(msgs)
	if len(lines) == 0 {
		logger.Info("nothing to analyze", "fetched", len(msgs))
		if _, err := client.PostMessage(ctx, p.ChannelID, NothingToAnalyzeText(hours), p.ThreadTS); err != nil {
			return nil, fmt.Errorf("posting nothing-to-analyze notice: %w", err)
		}
		return &Result{MessageCount: 0, Hours: hours, Ingested: ingested}, nil
	}

	var description string
	if img != nil {
		description, err = j.llm.CompleteVision(ctx, llm.ImagePrompt(llm.ImageInstruction, img.modelURL))
		if err != nil {
			return nil, fmt.Errorf("describing image: %w", err)
		}
	}

	analysisText, err := j.llm.Complete(ctx, llm.SentimentPrompt(lines, description))
	if err != nil {
		return nil, fmt.Errorf("analyzing sentiment: %w", err)
	}

	combined := CombinedText(analysisText, description)
	result := &store.ChannelAnalysisResult{
		WorkspaceID:  ws.ID,
		ChannelID:    p.ChannelID,
		ThreadTS:     p.ThreadTS,
		AnalysisText: combined,
		MessageCount: len(lines),
		Hours:        hours,
	}
	if img != nil {
		result.ImageURL = img.reference
	}
	if err := j.store.CreateAnalysisResult(ctx, result); err != nil {
		return nil, fmt.Errorf("storing analysis: %w", err)
	}

	if _, err := client.PostMessage(ctx, p.ChannelID, mrkdwn.Render(combined), p.ThreadTS); err != nil {
		return nil, fmt.Errorf("posting analysis: %w", err)
	}

	logger.Info("sentiment analysis complete", "analysis_id", result.ID, "messages", len(lines), "image", img != nil)
	return &Result{
		MessageCount: len(lines),
		Hours:        hours,
		AnalysisID:   result.ID,
		Text:         combined,
		ImageURL:     result.ImageURL,
		Ingested:     ingested,
	}, nil
}

// ingest get-or-creates a record for every message with text.
func (j *Job) ingest(ctx context.Context, ws *store.Workspace, p Params, msgs []messaging.Message) (int, error) {
	created := 0
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" || m.TS == "" {
			continue
		}
		threadTS := m.ThreadTS
		if threadTS == "" {
			threadTS = p.ThreadTS
		}
		ok, err := j.store.EnsureConversationRecord(ctx, &store.ConversationRecord{
			WorkspaceID: ws.ID,
			ChannelID:   p.ChannelID,
			ThreadTS:    threadTS,
			MessageTS:   m.TS,
			UserID:      m.User,
			MessageText: m.Text,
			Kind:        store.KindText,
			IsBot:       m.IsBot(),
		})
		if err != nil {
			return created, fmt.Errorf("storing message %s: %w", m.TS, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// transcript returns non-bot messages with text, oldest first.
func transcript(msgs []messaging.Message) []llm.TranscriptLine {
	var lines []llm.TranscriptLine
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.IsBot() || strings.TrimSpace(m.Text) == "" {
			continue
		}
		lines = append(lines, llm.TranscriptLine{UserID: m.User, Text: m.Text})
	}
	return lines
}

// CombinedText joins the sentiment analysis with the image description.
func CombinedText(analysisText, imageDescription string) string {
	if imageDescription == "" {
		return analysisText
	}
	return analysisText + "\n\n*Image analysis:*\n" + imageDescription
}

// MaxHours caps the look-back window at ten years, well inside
// time.Duration's range.
const MaxHours = 10 * 365 * 24

// NormalizeHours maps non-positive windows to one hour and clamps
// oversized ones to MaxHours.
func NormalizeHours(hours int) int {
	switch {
	case hours <= 0:
		return 1
	case hours > MaxHours:
		return MaxHours
	}
	return hours
}

// HoursPhrase renders "1 hour" or "<n> hours".
func HoursPhrase(hours int) string {
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// ScheduledText acknowledges an enqueued analysis.
func ScheduledText(hours int) string {
	return fmt.Sprintf("Sentiment analysis for the last %s has been scheduled. Results will be posted here shortly.", HoursPhrase(hours))
}

// NothingToAnalyzeText is posted when the window holds no human messages.
func NothingToAnalyzeText(hours int) string {
	return fmt.Sprintf("Nothing to analyze: no messages found in the last %s.", HoursPhrase(hours))
}

// FailureText is the channel notice for a failed analysis.
func FailureText(err error) string {
	if err == nil {
		return "analysis failed: unknown error"
	}
	return "analysis failed: " + err.Error()
}
