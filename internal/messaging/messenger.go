// ABOUTME: Messaging capability interfaces and the Slack message model used by the bot
// ABOUTME: Includes the single bot-origin rule shared by every code path

package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// File is the subset of Slack file metadata the bot uses.
type File struct {
	ID                 string
	Name               string
	Filetype           string
	Mimetype           string
	URLPrivate         string
	URLPrivateDownload string
	Permalink          string
	Size               int
}

// imageFiletypes are the Slack filetypes treated as analyzable images.
var imageFiletypes = map[string]bool{"png": true, "jpg": true, "jpeg": true}

// IsImage reports whether the file is a png or jpeg image.
func (f File) IsImage() bool {
	return imageFiletypes[strings.ToLower(f.Filetype)]
}

// DownloadURL prefers the download variant of the private URL.
func (f File) DownloadURL() string {
	if f.URLPrivateDownload != "" {
		return f.URLPrivateDownload
	}
	return f.URLPrivate
}

// ContentType returns the MIME type, derived from the filetype when Slack omits it.
func (f File) ContentType() string {
	if f.Mimetype != "" {
		return f.Mimetype
	}
	switch strings.ToLower(f.Filetype) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// Message is one message from channel or thread history.
type Message struct {
	TS       string
	ThreadTS string
	User     string
	Text     string
	Subtype  string
	BotID    string
	AppID    string
	Files    []File
}

// IsBot reports whether the message was posted by a bot or app.
func (m Message) IsBot() bool {
	return IsBotOrigin(m.BotID, m.Subtype, m.AppID)
}

// IsBotOrigin is the one rule for bot-originated messages: a bot id, the
// bot_message subtype, or an app id.
func IsBotOrigin(botID, subtype, appID string) bool {
	return botID != "" || subtype == "bot_message" || appID != ""
}

// HistoryParams selects messages to fetch.
type HistoryParams struct {
	Channel string
	// ThreadTS scopes the fetch to a thread's replies when set.
	ThreadTS string
	Limit    int
	// Oldest excludes messages before this time when non-zero.
	Oldest time.Time
}

// Messenger is the set of Slack calls the bot makes on behalf of one workspace.
type Messenger interface {
	// PostMessage sends text to a channel, in a thread when threadTS is set.
	// Returns the posted message timestamp.
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
	FileInfo(ctx context.Context, fileID string) (*File, error)
	// History returns messages newest first.
	History(ctx context.Context, params HistoryParams) ([]Message, error)
	DownloadFile(ctx context.Context, url string) ([]byte, error)
}

// Connector returns a Messenger authorized with a workspace bot token.
type Connector interface {
	Client(botToken string) Messenger
}

// FormatTS renders t as a Slack timestamp ("seconds.micros").
func FormatTS(t time.Time) string {
	us := t.UnixMicro()
	return fmt.Sprintf("%d.%06d", us/1_000_000, us%1_000_000)
}
