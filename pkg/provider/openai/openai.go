package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"linerelay/pkg/config"
	"linerelay/pkg/provider"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrMissingAPIKey is returned by New when no API key is configured.
var ErrMissingAPIKey = errors.New("openai.api_key is required or OPENAI_API_KEY must be set")

// Client requests chat completions for single-turn user messages.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	client    osdk.Client
	model     string
	maxTokens int64
}

func New(cfg config.OpenAIConfig, opts ...option.RequestOption) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(cfg.MaxRetries)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	}
	if timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second; timeout > 0 {
		requestOpts = append(requestOpts, option.WithRequestTimeout(timeout))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.DefaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultMaxTokens
	}

	return &Client{
		client:    osdk.NewClient(append(requestOpts, opts...)...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Complete sends the persona and text as one chat turn and returns the first
// choice, trimmed. Failures are returned as *provider.Error.
func (c *Client) Complete(ctx context.Context, text string) (string, error) {
	log := providerLogger().With("operation", "complete")
	startedAt := time.Now()
	log.Debug("provider request started", "model", c.model, "prompt_length", len(text))

	completion, err := c.client.Chat.Completions.New(ctx, osdk.ChatCompletionNewParams{
		Model: osdk.ChatModel(c.model),
		Messages: []osdk.ChatCompletionMessageParamUnion{
			osdk.SystemMessage(provider.Persona),
			osdk.UserMessage(text),
		},
		MaxTokens: osdk.Int(c.maxTokens),
	})
	if err != nil {
		classified := classifyError(err)
		log.Debug("provider request failed",
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"kind", classified.Kind,
			"status", classified.StatusCode,
			"error", err,
		)
		return "", classified
	}

	reply := ""
	if len(completion.Choices) > 0 {
		reply = strings.TrimSpace(completion.Choices[0].Message.Content)
	}
	if reply == "" {
		log.Debug("provider returned empty content", "duration_ms", time.Since(startedAt).Milliseconds())
		return provider.EmptyReply, nil
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds(), "response_length", len(reply))

	return reply, nil
}

func classifyError(err error) *provider.Error {
	var apiErr *osdk.Error
	if !errors.As(err, &apiErr) {
		return provider.NewError(err, 0)
	}

	classified := provider.NewError(err, apiErr.StatusCode)
	if message := strings.TrimSpace(apiErr.Message); message != "" {
		classified.Detail = message
		if strings.Contains(message, "API key") {
			classified.Kind = provider.KindCredentialInvalid
		}
	}

	return classified
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}
