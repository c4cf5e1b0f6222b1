// ABOUTME: Parses inbound Slack bodies into a closed set of payload variants
// ABOUTME: Accepts JSON event envelopes and form-encoded slash commands

package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/messaging"
)

// Payload is one of URLVerification, SlashCommand, or EventCallback.
type Payload interface {
	payload()
}

// URLVerification is Slack's endpoint handshake.
type URLVerification struct {
	Challenge string
}

// SlashCommand is a slash command invocation.
type SlashCommand struct {
	TeamID      string
	ChannelID   string
	UserID      string
	Command     string
	Text        string
	ThreadTS    string
	ResponseURL string
}

// EventCallback wraps one Events API event.
type EventCallback struct {
	TeamID  string
	EventID string
	Event   Event
}

func (URLVerification) payload() {}
func (SlashCommand) payload()    {}
func (EventCallback) payload()   {}

// Event is one of AppMention, FileShared, or UnsupportedEvent.
type Event interface {
	event()
}

// AppMention is an @-mention of the bot.
type AppMention struct {
	User     string
	Text     string
	Channel  string
	TS       string
	ThreadTS string
	Subtype  string
	BotID    string
	AppID    string
}

// IsBot applies the shared bot-origin rule.
func (m AppMention) IsBot() bool {
	return messaging.IsBotOrigin(m.BotID, m.Subtype, m.AppID)
}

// FileShared announces a file shared into a channel.
type FileShared struct {
	FileID  string
	UserID  string
	Channel string
	EventTS string
}

// UnsupportedEvent is any event type the bot does not act on.
type UnsupportedEvent struct {
	Type string
}

func (AppMention) event()       {}
func (FileShared) event()       {}
func (UnsupportedEvent) event() {}

type envelope struct {
	Type        string          `json:"type"`
	Challenge   string          `json:"challenge"`
	TeamID      string          `json:"team_id"`
	EventID     string          `json:"event_id"`
	Command     string          `json:"command"`
	ChannelID   string          `json:"channel_id"`
	UserID      string          `json:"user_id"`
	Text        string          `json:"text"`
	ThreadTS    string          `json:"thread_ts"`
	ResponseURL string          `json:"response_url"`
	Event       json.RawMessage `json:"event"`
}

type rawEvent struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	User       string `json:"user"`
	Text       string `json:"text"`
	Channel    string `json:"channel"`
	TS         string `json:"ts"`
	ThreadTS   string `json:"thread_ts"`
	EventTS    string `json:"event_ts"`
	BotID      string `json:"bot_id"`
	AppID      string `json:"app_id"`
	BotProfile *struct {
		AppID string `json:"app_id"`
	} `json:"bot_profile"`
	FileID    string `json:"file_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	File      *struct {
		ID string `json:"id"`
	} `json:"file"`
}

// ParsePayload classifies body. contentType selects form decoding; a body
// that does not start with '{' is also treated as a form.
func ParsePayload(body []byte, contentType string) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" || trimmed[0] != '{' {
		return parseForm(trimmed)
	}
	return parseJSON(trimmed)
}

func parseForm(body []byte) (Payload, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	// Interactive components post their JSON in a payload field.
	if p := values.Get("payload"); p != "" {
		return parseJSON([]byte(p))
	}

	return slashCommand(envelope{
		Command:     values.Get("command"),
		TeamID:      values.Get("team_id"),
		ChannelID:   values.Get("channel_id"),
		UserID:      values.Get("user_id"),
		Text:        values.Get("text"),
		ThreadTS:    values.Get("thread_ts"),
		ResponseURL: values.Get("response_url"),
	})
}

func parseJSON(body []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case env.Type == "url_verification":
		return URLVerification{Challenge: env.Challenge}, nil
	case env.Command != "":
		return slashCommand(env)
	case env.Type == "event_callback":
		return eventCallback(env)
	case env.Type != "":
		return EventCallback{TeamID: env.TeamID, Event: UnsupportedEvent{Type: env.Type}}, nil
	default:
		return nil, fmt.Errorf("%w: no type or command", ErrMalformedPayload)
	}
}

func slashCommand(env envelope) (Payload, error) {
	if env.Command == "" {
		return nil, fmt.Errorf("%w: missing command", ErrMalformedPayload)
	}
	if env.TeamID == "" || env.ChannelID == "" {
		return nil, fmt.Errorf("%w: slash command needs team_id and channel_id", ErrMalformedPayload)
	}
	return SlashCommand{
		TeamID:      env.TeamID,
		ChannelID:   env.ChannelID,
		UserID:      env.UserID,
		Command:     env.Command,
		Text:        env.Text,
		ThreadTS:    env.ThreadTS,
		ResponseURL: env.ResponseURL,
	}, nil
}

func eventCallback(env envelope) (Payload, error) {
	if env.TeamID == "" {
		return nil, fmt.Errorf("%w: event_callback without team_id", ErrMalformedPayload)
	}
	if len(env.Event) == 0 {
		return nil, fmt.Errorf("%w: event_callback without event", ErrMalformedPayload)
	}

	var ev rawEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return nil, fmt.Errorf("%w: event: %v", ErrMalformedPayload, err)
	}

	cb := EventCallback{TeamID: env.TeamID, EventID: env.EventID}
	switch ev.Type {
	case "app_mention":
		if ev.Channel == "" {
			return nil, fmt.Errorf("%w: app_mention without channel", ErrMalformedPayload)
		}
		appID := ev.AppID
		if appID == "" && ev.BotProfile != nil {
			appID = ev.BotProfile.AppID
		}
		cb.Event = AppMention{
			User:     ev.User,
			Text:     ev.Text,
			Channel:  ev.Channel,
			TS:       ev.TS,
			ThreadTS: ev.ThreadTS,
			Subtype:  ev.Subtype,
			BotID:    ev.BotID,
			AppID:    appID,
		}
	case "file_shared":
		fileID := ev.FileID
		if fileID == "" && ev.File != nil {
			fileID = ev.File.ID
		}
		channel := ev.ChannelID
		if channel == "" {
			channel = ev.Channel
		}
		if fileID == "" || channel == "" {
			return nil, fmt.Errorf("%w: file_shared without file or channel", ErrMalformedPayload)
		}
		userID := ev.UserID
		if userID == "" {
			userID = ev.User
		}
		cb.Event = FileShared{FileID: fileID, UserID: userID, Channel: channel, EventTS: ev.EventTS}
	default:
		cb.Event = UnsupportedEvent{Type: ev.Type}
	}
	return cb, nil
}

// ParseHours reads the optional leading integer of a slash command's text.
// Missing, unparseable, or non-positive values mean one hour; values above
// analysis.MaxHours are clamped to it.
func ParseHours(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 1
	}
	n, err := strconv.Atoi(fields[0])
	if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(fields[0], "-") {
		return analysis.MaxHours
	}
	if err != nil {
		return 1
	}
	return analysis.NormalizeHours(n)
}
