// Package anthropic provides a model.Completer for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
	"github.com/hupe1980/storymesh/model"
)

const provider = "anthropic"

// Options configures the Anthropic completer (model id, max tokens, API key,
// transport). Extend via functional options to preserve stability.
type Options struct {
	Model      anthropic.Model
	MaxTokens  int64
	APIKey     string
	BaseURL    string
	Timeouts   model.Timeouts
	HTTPClient *http.Client
	Logger     logging.Logger
}

// Completer wraps the Messages API behind model.Completer.
type Completer struct {
	client     *anthropic.Client
	opts       Options
	missingKey bool
}

// NewCompleter creates a completer using the official client with SDK retries
// disabled.
func NewCompleter(optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = model.NewHTTPClient(opts.Timeouts)
	}

	clientOpts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Completer{
		client:     &client,
		opts:       opts,
		missingKey: opts.APIKey == "",
	}
}

// NewCompleterFromClient creates a completer from an existing client.
func NewCompleterFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Completer{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 500,
		Timeouts:  model.DefaultTimeouts,
		Logger:    logging.NoOpLogger{},
	}
}

// Complete sends the prompt and concatenates the text blocks of the reply.
func (c *Completer) Complete(ctx context.Context, req model.Request) (string, error) {
	if c.missingKey {
		c.opts.Logger.Warn("api key is not configured", "provider", provider)
		return "", core.NewGenerationError(provider, "missing api key", nil)
	}

	maxTokens := c.opts.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	system, messages := buildMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", core.NewGenerationError(provider, fmt.Sprintf("status %d", apiErr.StatusCode), err)
		}
		return "", core.NewGenerationError(provider, "request failed", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", core.NewGenerationError(provider, "no text content returned", nil)
	}
	return text, nil
}

// buildMessages splits system messages into the system prompt and converts the
// rest into conversation turns. A prompt made only of system messages sends its
// last entry as the user turn, since the API requires at least one message.
func buildMessages(msgs []core.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range msgs {
		switch v := m.(type) {
		case core.SystemMessage:
			if v.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: v.Content})
			}
		case core.UserMessage:
			if v.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(v.Content)))
			}
		case core.AssistantMessage:
			if v.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(v.Content)))
			}
		}
	}

	if len(messages) == 0 && len(system) > 0 {
		last := system[len(system)-1]
		system = system[:len(system)-1]
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(last.Text)))
	}

	return system, messages
}

// Info returns metadata describing this completer.
func (c *Completer) Info() model.Info {
	return model.Info{Name: string(c.opts.Model), Provider: provider}
}
