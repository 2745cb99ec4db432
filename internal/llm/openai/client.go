// Package openai adapts the OpenAI chat-completions API (and any
// OpenAI-compatible self-hosted server) to the llm.Provider contract.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"modelgate/internal/config"
	"modelgate/internal/llm"
	"modelgate/internal/observability"
)

// Client streams chat generations through the OpenAI SDK. A non-OpenAI
// BaseURL points it at a self-hosted compatible server (llama.cpp, vLLM,
// mlx_lm.server), which is how the "local" provider is wired.
type Client struct {
	sdk     sdk.Client
	model   string
	baseURL string
	extra   map[string]any
}

// New builds a Client from config. A nil httpClient falls back to
// http.DefaultClient.
func New(cfg config.OpenAIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.LogPayloads {
		llm.ConfigureLogging(true, 0)
	}
	return &Client{
		sdk:     sdk.NewClient(opts...),
		model:   cfg.Model,
		baseURL: strings.TrimSpace(cfg.BaseURL),
		extra:   cfg.ExtraParams,
	}
}

// isSelfHosted reports whether the client talks to a non-OpenAI backend.
// Those servers don't reliably honor stream_options.include_usage, so the
// usage chunk is only requested from the cloud API.
func (c *Client) isSelfHosted() bool {
	return c.baseURL != "" && c.baseURL != "https://api.openai.com/v1"
}

// ChatStream implements llm.Provider.
func (c *Client) ChatStream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}

	ctx, span := llm.StartRequestSpan(ctx, "OpenAI ChatStream", string(params.Model), len(req.Messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, req.Messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage llm.Usage
	for stream.Next() {
		chunk := stream.Current()
		// The final chunk carries usage and no choices when include_usage is
		// on; some self-hosted servers attach usage to the last choice chunk
		// instead, so check every chunk.
		if chunk.JSON.Usage.Valid() && chunk.JSON.Usage.Raw() != "null" {
			usage.PromptTokens = int(chunk.Usage.PromptTokens)
			usage.CompletionTokens = int(chunk.Usage.CompletionTokens)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" && h != nil {
			h.OnDelta(delta)
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("openai_stream_error")
		return err
	}

	if h != nil {
		h.OnUsage(usage)
	}
	llm.RecordTokenAttributes(span, usage)
	llm.RecordTokenMetrics(string(params.Model), usage)

	log.Debug().
		Str("model", string(params.Model)).
		Dur("duration", time.Since(start)).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Msg("openai_stream_ok")
	return nil
}

func (c *Client) buildParams(req llm.Request) (sdk.ChatCompletionNewParams, error) {
	msgs, err := adaptMessages(req.Messages)
	if err != nil {
		return sdk.ChatCompletionNewParams{}, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}
	if !c.isSelfHosted() {
		params.StreamOptions.IncludeUsage = sdk.Bool(true)
	}
	return params, nil
}

func adaptMessages(msgs []llm.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("openai provider: messages required")
	}
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "user":
			out = append(out, sdk.UserMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai provider: unsupported role %q", m.Role)
		}
	}
	return out, nil
}
