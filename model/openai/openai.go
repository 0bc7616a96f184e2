// Package openai provides a model.Completer backed by the OpenAI Chat
// Completions API. Any OpenAI-compatible endpoint (OpenRouter by default) can
// be targeted through BaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBaseURL is the OpenRouter chat completions root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

const provider = "openai"

// Options configure the OpenAI completer.
type Options struct {
	Model      string
	MaxTokens  int64
	APIKey     string
	BaseURL    string
	Timeouts   model.Timeouts
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Completer wraps the Chat Completions API behind model.Completer.
type Completer struct {
	client     *openai.Client
	opts       Options
	missingKey bool
}

// NewCompleter creates a completer with its own client. Automatic SDK retries
// are disabled; retry policy belongs to the caller.
func NewCompleter(optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = model.NewHTTPClient(opts.Timeouts)
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(opts.BaseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(reqOpts...)
	return &Completer{client: &client, opts: opts, missingKey: opts.APIKey == ""}
}

// NewCompleterFromClient creates a completer from an existing client.
func NewCompleterFromClient(client *openai.Client, optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Completer{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:     openai.ChatModelGPT4oMini,
		MaxTokens: 500,
		BaseURL:   DefaultBaseURL,
		Timeouts:  model.DefaultTimeouts,
		Logger:    logging.NoOpLogger{},
	}
}

// Complete sends the prompt and returns the first choice's content.
func (c *Completer) Complete(ctx context.Context, req model.Request) (string, error) {
	if c.missingKey {
		c.opts.Logger.Warn("api key is not configured", "provider", provider)
		return "", core.NewGenerationError(provider, "missing api key", nil)
	}
	params := c.buildParams(req)
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", core.NewGenerationError(provider, fmt.Sprintf("status %d", apiErr.StatusCode), err)
		}
		return "", core.NewGenerationError(provider, "request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", core.NewGenerationError(provider, "no choices returned", nil)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", core.NewGenerationError(provider, "empty content", nil)
	}
	return content, nil
}

func (c *Completer) buildParams(req model.Request) openai.ChatCompletionNewParams {
	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	return openai.ChatCompletionNewParams{
		Messages:  buildMessages(req.Messages),
		Model:     c.opts.Model,
		MaxTokens: openai.Int(maxTokens),
	}
}

// buildMessages converts the closed message variant into SDK messages.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case core.SystemMessage:
			out = append(out, openai.SystemMessage(v.Content))
		case core.UserMessage:
			out = append(out, openai.UserMessage(v.Content))
		case core.AssistantMessage:
			out = append(out, openai.AssistantMessage(v.Content))
		}
	}
	return out
}

// Info returns metadata describing this completer.
func (c *Completer) Info() model.Info {
	return model.Info{Name: c.opts.Model, Provider: provider}
}
