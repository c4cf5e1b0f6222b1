// ABOUTME: Chat completion client over an eino BaseChatModel
// ABOUTME: Adds per-call timeouts, a circuit breaker, and metrics; builds text and vision prompts

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/2389/slack-pulse/internal/config"
	"github.com/2389/slack-pulse/internal/metrics"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("llm returned empty response")

const serviceName = "llm"

// Completer produces a single reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (string, error)
	// CompleteVision is Complete against the vision-capable model.
	CompleteVision(ctx context.Context, messages []*schema.Message) (string, error)
}

// Options tunes a Client.
type Options struct {
	Model           string
	VisionModel     string
	Timeout         time.Duration
	BreakerFailures int
	BreakerReset    time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Client implements Completer.
type Client struct {
	chat    model.BaseChatModel
	opts    Options
	breaker *Breaker
	logger  *slog.Logger
}

// New wraps chat.
func New(chat model.BaseChatModel, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.VisionModel == "" {
		opts.VisionModel = opts.Model
	}
	return &Client{
		chat:    chat,
		opts:    opts,
		breaker: NewBreaker(opts.BreakerFailures, opts.BreakerReset),
		logger:  logger.With("component", "llm"),
	}
}

// NewArk builds a Client backed by the Ark chat model from cfg.
func NewArk(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens

	chat, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}

	return New(chat, Options{
		Model:           cfg.Model,
		VisionModel:     cfg.VisionModel,
		Timeout:         cfg.Timeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerReset:    cfg.BreakerReset,
		Logger:          logger,
		Metrics:         m,
	}), nil
}

// Complete runs the text model.
func (c *Client) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	return c.generate(ctx, "complete", c.opts.Model, messages)
}

// CompleteVision runs the vision model.
func (c *Client) CompleteVision(ctx context.Context, messages []*schema.Message) (string, error) {
	return c.generate(ctx, "vision", c.opts.VisionModel, messages)
}

func (c *Client) generate(ctx context.Context, op, modelName string, messages []*schema.Message) (string, error) {
	var opts []model.Option
	if modelName != "" {
		opts = append(opts, model.WithModel(modelName))
	}

	start := time.Now()
	var content string
	err := c.breaker.Call(func() error {
		callCtx := ctx
		if c.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
			defer cancel()
		}

		resp, err := c.chat.Generate(callCtx, messages, opts...)
		if err != nil {
			return err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return ErrEmptyResponse
		}
		content = resp.Content
		return nil
	})
	elapsed := time.Since(start)

	c.opts.Metrics.Vendor(serviceName, op, elapsed, err)
	c.opts.Metrics.BreakerOpen(serviceName, c.breaker.State() == StateOpen)

	if err != nil {
		c.logger.Warn("llm_call_failed", "op", op, "model", modelName, "duration", elapsed, "error", err)
		return "", fmt.Errorf("llm %s: %w", op, err)
	}
	c.logger.Debug("llm_call", "op", op, "model", modelName, "duration", elapsed, "chars", len(content))
	return content, nil
}

var _ Completer = (*Client)(nil)
