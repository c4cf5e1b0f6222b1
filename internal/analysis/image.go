// ABOUTME: Locates the newest shared image in fetched history and prepares it for the vision model
// ABOUTME: Inline mode sends a data URL; upload mode stores the bytes in blob storage first

package analysis

import (
	"context"
	"log/slog"
	"strings"

	"github.com/2389/slack-pulse/internal/blob"
	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/llm"
	"github.com/2389/slack-pulse/internal/messaging"
)

type image struct {
	file messaging.File
	// modelURL is what the vision model is given.
	modelURL string
	// reference is stored on the analysis result.
	reference string
}

// locateImage returns the first png/jpeg in msgs (newest first), or nil.
// Failures are logged and treated as no image.
func (j *Job) locateImage(ctx context.Context, client messaging.Messenger, msgs []messaging.Message, logger *slog.Logger) *image {
	f, ok := firstImage(msgs)
	if !ok {
		return nil
	}
	logger = logger.With("file_id", f.ID, "file_name", f.Name)

	data, err := client.DownloadFile(ctx, f.DownloadURL())
	if err != nil {
		logger.Warn("image download failed", "error", err)
		return nil
	}
	inline := llm.DataURL(f.ContentType(), data)

	if j.opts.ImageMode != config.ImageModeUpload {
		return &image{file: f, modelURL: inline, reference: f.Permalink}
	}

	if j.blob == nil {
		logger.Warn("image upload skipped: no blob store configured")
		return nil
	}
	key := blob.UploadKey(j.now(), f.Name)
	url, err := j.blob.PutObject(ctx, j.opts.Bucket, key, data, f.ContentType())
	if err != nil {
		logger.Warn("image upload failed", "key", key, "error", err)
		return nil
	}

	img := &image{file: f, modelURL: inline, reference: url}
	// A public http(s) URL can be fetched by the model directly.
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		img.modelURL = url
	}
	logger.Debug("image uploaded", "url", url)
	return img
}

func firstImage(msgs []messaging.Message) (messaging.File, bool) {
	for _, m := range msgs {
		for _, f := range m.Files {
			if f.IsImage() {
				return f, true
			}
		}
	}
	return messaging.File{}, false
}
