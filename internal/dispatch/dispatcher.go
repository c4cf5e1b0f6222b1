// ABOUTME: Validates, classifies, and routes inbound Slack webhooks
// ABOUTME: Slash commands enqueue analysis; mentions get a synchronous LLM reply; images get described

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/dedupe"
	"github.com/2389/slack-pulse/internal/jobs"
	"github.com/2389/slack-pulse/internal/llm"
	"github.com/2389/slack-pulse/internal/messaging"
	"github.com/2389/slack-pulse/internal/metrics"
	"github.com/2389/slack-pulse/internal/mrkdwn"
	"github.com/2389/slack-pulse/internal/store"
)

const defaultMentionDepth = 5

// Request is an inbound webhook as received.
type Request struct {
	Body        []byte
	Signature   string
	Timestamp   string
	ContentType string
}

// Response is what the caller should answer with. A nil Body means an
// empty 200.
type Response struct {
	Status int
	Body   any
}

// Store is the persistence the dispatcher needs.
type Store interface {
	store.WorkspaceStore
	store.ConversationStore
}

// Config holds dispatcher settings.
type Config struct {
	SigningSecret string
	// MaxRequestAge rejects older timestamps; zero disables the check.
	MaxRequestAge time.Duration
	// MentionDepth is how many prior records give a mention context.
	MentionDepth  int
	VisionEnabled bool
}

// Deps are the dispatcher's collaborators. Dedupe, Logger, and Metrics are optional.
type Deps struct {
	Store     Store
	Connector messaging.Connector
	LLM       llm.Completer
	Queue     jobs.Enqueuer
	Dedupe    *dedupe.Filter
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Dispatcher routes each request to exactly one handler.
type Dispatcher struct {
	verifier      *messaging.SignatureVerifier
	store         Store
	connector     messaging.Connector
	llm           llm.Completer
	queue         jobs.Enqueuer
	dedupe        *dedupe.Filter
	mentionDepth  int
	visionEnabled bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	depth := cfg.MentionDepth
	if depth <= 0 {
		depth = defaultMentionDepth
	}
	d := &Dispatcher{
		store:         deps.Store,
		connector:     deps.Connector,
		llm:           deps.LLM,
		queue:         deps.Queue,
		dedupe:        deps.Dedupe,
		mentionDepth:  depth,
		visionEnabled: cfg.VisionEnabled,
		logger:        logger.With("component", "dispatch"),
		metrics:       deps.Metrics,
		now:           time.Now,
	}
	d.verifier = &messaging.SignatureVerifier{
		Secret: cfg.SigningSecret,
		MaxAge: cfg.MaxRequestAge,
		Now:    func() time.Time { return d.now() },
	}
	return d
}

// Handle verifies, parses, and routes req.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (resp *Response, err error) {
	kind := "unverified"
	defer func() { d.metrics.Request(kind, StatusCode(err)) }()

	if verr := d.verifier.Verify(req.Body, req.Timestamp, req.Signature); verr != nil {
		d.logger.Warn("rejected request", "reason", verr)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, verr)
	}

	kind = "malformed"
	p, err := ParsePayload(req.Body, req.ContentType)
	if err != nil {
		d.logger.Warn("unparseable payload", "error", err)
		return nil, err
	}
	kind = Kind(p)

	switch p := p.(type) {
	case URLVerification:
		return &Response{Status: http.StatusOK, Body: map[string]string{"challenge": p.Challenge}}, nil
	case SlashCommand:
		return d.handleSlashCommand(ctx, p)
	case EventCallback:
		return d.handleEventCallback(ctx, p)
	default:
		return nil, fmt.Errorf("%w: unknown payload %T", ErrMalformedPayload, p)
	}
}

// Kind names a payload for logs and metrics.
func Kind(p Payload) string {
	switch p := p.(type) {
	case URLVerification:
		return "url_verification"
	case SlashCommand:
		return "slash_command"
	case EventCallback:
		switch p.Event.(type) {
		case AppMention:
			return "app_mention"
		case FileShared:
			return "file_shared"
		default:
			return "event"
		}
	default:
		return "unknown"
	}
}

func ok() *Response {
	return &Response{Status: http.StatusOK, Body: map[string]bool{"ok": true}}
}

func (d *Dispatcher) workspace(ctx context.Context, teamID string) (*store.Workspace, error) {
	ws, err := d.store.GetWorkspaceByTeamID(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: team %s", ErrWorkspaceNotFound, teamID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workspace for team %s: %w", teamID, err)
	}
	return ws, nil
}

func (d *Dispatcher) handleSlashCommand(ctx context.Context, cmd SlashCommand) (*Response, error) {
	logger := d.logger.With("team_id", cmd.TeamID, "channel_id", cmd.ChannelID, "command", cmd.Command)

	ws, err := d.workspace(ctx, cmd.TeamID)
	if err != nil {
		logger.Warn("slash command rejected", "error", err)
		return nil, err
	}
	client := d.connector.Client(ws.BotToken)
	hours := ParseHours(cmd.Text)

	job, err := d.queue.Enqueue(ctx, analysis.JobName, analysis.Params{
		WorkspaceID: ws.ID,
		ChannelID:   cmd.ChannelID,
		Hours:       hours,
		ThreadTS:    cmd.ThreadTS,
	})
	if err != nil {
		err = external("queue", "enqueue", err)
		logger.Error("enqueue failed", "error", err)
		messaging.Notify(ctx, client, logger, cmd.ChannelID, cmd.ThreadTS, analysis.FailureText(err))
		return nil, err
	}

	if _, err := client.PostMessage(ctx, cmd.ChannelID, analysis.ScheduledText(hours), cmd.ThreadTS); err != nil {
		err = external("slack", "chat.postMessage", err)
		logger.Error("ack failed", "job_id", job.ID, "error", err)
		messaging.Notify(ctx, client, logger, cmd.ChannelID, cmd.ThreadTS, analysis.FailureText(err))
		return nil, err
	}

	logger.Info("sentiment analysis scheduled", "job_id", job.ID, "hours", hours)
	return &Response{Status: http.StatusOK}, nil
}

func (d *Dispatcher) handleEventCallback(ctx context.Context, cb EventCallback) (*Response, error) {
	if _, supported := cb.Event.(UnsupportedEvent); supported {
		return ok(), nil
	}

	key := ""
	if cb.EventID != "" {
		key = dedupe.Key(cb.TeamID, cb.EventID)
	}
	if !d.dedupe.Claim(key) {
		d.logger.Info("duplicate event ignored", "team_id", cb.TeamID, "event_id", cb.EventID)
		return ok(), nil
	}

	var err error
	switch ev := cb.Event.(type) {
	case AppMention:
		err = d.handleMention(ctx, cb.TeamID, ev)
	case FileShared:
		err = d.handleFileShared(ctx, cb.TeamID, ev)
	}
	if err != nil {
		// Let Slack's redelivery try again.
		d.dedupe.Release(key)
		return nil, err
	}
	return ok(), nil
}

func (d *Dispatcher) handleMention(ctx context.Context, teamID string, ev AppMention) error {
	logger := d.logger.With("team_id", teamID, "channel_id", ev.Channel, "ts", ev.TS)

	if ev.IsBot() {
		logger.Debug("ignoring bot mention")
		return nil
	}

	ws, err := d.workspace(ctx, teamID)
	if err != nil {
		logger.Warn("mention rejected", "error", err)
		return err
	}
	client := d.connector.Client(ws.BotToken)

	recent, err := d.store.RecentConversationRecords(ctx, ws.ID, ev.Channel, d.mentionDepth)
	if err != nil {
		logger.Error("loading history failed", "error", err)
		return fmt.Errorf("loading conversation history: %w", err)
	}
	history := make([]llm.Exchange, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		history = append(history, llm.Exchange{Message: recent[i].MessageText, Response: recent[i].Response})
	}

	reply, err := d.llm.Complete(ctx, llm.ConversationPrompt(llm.MentionSystemPrompt, history, ev.Text))
	if err != nil {
		err = external("llm", "complete", err)
		logger.Error("mention reply failed", "error", err)
		messaging.Notify(ctx, client, logger, ev.Channel, ev.ThreadTS, RequestFailedText(err))
		return err
	}

	ts := ev.TS
	if ts == "" {
		ts = messaging.FormatTS(d.now())
	}
	rec := &store.ConversationRecord{
		WorkspaceID: ws.ID,
		ChannelID:   ev.Channel,
		ThreadTS:    ev.ThreadTS,
		MessageTS:   ts,
		UserID:      ev.User,
		MessageText: ev.Text,
		Kind:        store.KindText,
		IsBot:       ev.IsBot(),
		Response:    reply,
	}
	if err := d.store.SaveExchange(ctx, rec); err != nil {
		logger.Error("saving mention failed", "error", err)
		messaging.Notify(ctx, client, logger, ev.Channel, ev.ThreadTS, RequestFailedText(err))
		return fmt.Errorf("saving mention: %w", err)
	}

	if _, err := client.PostMessage(ctx, ev.Channel, mrkdwn.Render(reply), ev.ThreadTS); err != nil {
		err = external("slack", "chat.postMessage", err)
		logger.Error("posting reply failed", "error", err)
		return err
	}

	logger.Info("mention answered", "history", len(history))
	return nil
}

func (d *Dispatcher) handleFileShared(ctx context.Context, teamID string, ev FileShared) error {
	logger := d.logger.With("team_id", teamID, "channel_id", ev.Channel, "file_id", ev.FileID)

	if !d.visionEnabled {
		return nil
	}

	ws, err := d.workspace(ctx, teamID)
	if err != nil {
		logger.Warn("file event rejected", "error", err)
		return err
	}
	if ev.UserID != "" && ev.UserID == ws.BotUserID {
		return nil
	}
	client := d.connector.Client(ws.BotToken)

	f, err := client.FileInfo(ctx, ev.FileID)
	if err != nil {
		err = external("slack", "files.info", err)
		logger.Error("file info failed", "error", err)
		return err
	}
	if !f.IsImage() {
		logger.Debug("ignoring non-image file", "filetype", f.Filetype)
		return nil
	}

	data, err := client.DownloadFile(ctx, f.DownloadURL())
	if err != nil {
		err = external("slack", "files.download", err)
		logger.Error("file download failed", "error", err)
		messaging.Notify(ctx, client, logger, ev.Channel, "", RequestFailedText(err))
		return err
	}

	description, err := d.llm.CompleteVision(ctx, llm.ImagePrompt(llm.ImageInstruction, llm.DataURL(f.ContentType(), data)))
	if err != nil {
		err = external("llm", "vision", err)
		logger.Error("image description failed", "error", err)
		messaging.Notify(ctx, client, logger, ev.Channel, "", RequestFailedText(err))
		return err
	}

	ts := ev.EventTS
	if ts == "" {
		ts = messaging.FormatTS(d.now())
	}
	rec := &store.ConversationRecord{
		WorkspaceID: ws.ID,
		ChannelID:   ev.Channel,
		MessageTS:   ts,
		UserID:      ev.UserID,
		MessageText: f.Name,
		Kind:        store.KindFile,
		Response:    description,
	}
	if err := d.store.SaveExchange(ctx, rec); err != nil {
		logger.Error("saving file record failed", "error", err)
		return fmt.Errorf("saving file record: %w", err)
	}

	if _, err := client.PostMessage(ctx, ev.Channel, mrkdwn.Render(description), ""); err != nil {
		err = external("slack", "chat.postMessage", err)
		logger.Error("posting description failed", "error", err)
		return err
	}

	logger.Info("image described", "file_name", f.Name)
	return nil
}

// RequestFailedText is the channel notice when a mention or file event fails.
func RequestFailedText(err error) string {
	return "request failed: " + err.Error()
}
