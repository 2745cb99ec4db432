// Package anthropic adapts the Anthropic Messages API to the llm.Provider
// contract used by the inference worker.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"modelgate/internal/config"
	"modelgate/internal/llm"
	"modelgate/internal/observability"
)

const defaultMaxTokens int64 = 1024

// Client streams chat generations through the Anthropic SDK.
type Client struct {
	sdk      anthropic.Client
	model    string
	cacheCfg config.AnthropicPromptCacheConfig
	extra    map[string]any
}

// New builds a Client from config. A nil httpClient falls back to
// http.DefaultClient.
func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}

	cacheCfg := cfg.PromptCache
	if cacheCfg.Enabled && !cacheCfg.CacheSystem && !cacheCfg.CacheMessages {
		cacheCfg.CacheSystem = true
	}

	return &Client{
		sdk:      anthropic.NewClient(opts...),
		model:    model,
		cacheCfg: cacheCfg,
		extra:    cfg.ExtraParams,
	}
}

// ChatStream implements llm.Provider.
func (c *Client) ChatStream(ctx context.Context, req llm.Request, h llm.StreamHandler) error {
	params, err := c.buildParams(req)
	if err != nil {
		return err
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic ChatStream", string(params.Model), len(req.Messages))
	defer span.End()
	llm.LogRedactedPrompt(ctx, req.Messages)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage llm.Usage
	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = promptTokens(ev.Message.Usage.CacheCreationInputTokens, ev.Message.Usage.CacheReadInputTokens, ev.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" && h != nil {
				h.OnDelta(delta.Text)
			}
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(ev.Usage.OutputTokens)
			if p := promptTokens(ev.Usage.CacheCreationInputTokens, ev.Usage.CacheReadInputTokens, ev.Usage.InputTokens); p > 0 {
				usage.PromptTokens = p
			}
		}
	}
	if err := stream.Err(); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("anthropic_stream_error")
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
		Msg("anthropic_stream_ok")
	return nil
}

func (c *Client) buildParams(req llm.Request) (anthropic.MessageNewParams, error) {
	system, converted, err := c.adaptMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		System:    system,
		MaxTokens: maxTokens,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(c.extra) > 0 {
		params.SetExtraFields(c.extra)
	}
	return params, nil
}

// adaptMessages splits the system turn out (the Messages API takes it as a
// separate field) and converts the rest, applying prompt-cache markers per
// config.
func (c *Client) adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("anthropic provider: messages required")
	}
	cacheControl := anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTLTTL5m}
	cacheSystem := c.cacheCfg.Enabled && c.cacheCfg.CacheSystem
	cacheMessages := c.cacheCfg.Enabled && c.cacheCfg.CacheMessages

	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			block := anthropic.TextBlockParam{Text: m.Content}
			if cacheSystem {
				block.CacheControl = cacheControl
			}
			system = append(system, block)
		case "user":
			out = append(out, anthropic.NewUserMessage(textBlock(m.Content, cacheMessages, cacheControl)))
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(textBlock(m.Content, cacheMessages, cacheControl)))
		default:
			return nil, nil, fmt.Errorf("anthropic provider: unsupported role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("anthropic provider: at least one user or assistant message required")
	}
	return system, out, nil
}

func textBlock(text string, cache bool, cc anthropic.CacheControlEphemeralParam) anthropic.ContentBlockParamUnion {
	if !cache {
		return anthropic.NewTextBlock(text)
	}
	return anthropic.ContentBlockParamUnion{OfText: &anthropic.TextBlockParam{Text: text, CacheControl: cc}}
}

func promptTokens(cacheCreation, cacheRead, input int64) int {
	return int(cacheCreation + cacheRead + input)
}
