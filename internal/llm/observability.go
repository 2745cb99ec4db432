package llm

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"modelgate/internal/observability"
)

var (
	mu                   sync.RWMutex
	enablePayloadLogging = false
	truncateBytes        = 0 // 0 means no truncation
)

// ConfigureLogging sets global behavior for prompt/response payload logging.
// Call once at startup with values from the main config.
func ConfigureLogging(enable bool, truncate int) {
	mu.Lock()
	defer mu.Unlock()
	enablePayloadLogging = enable
	truncateBytes = truncate
}

func shouldLog() (bool, int) {
	mu.RLock()
	defer mu.RUnlock()
	return enablePayloadLogging, truncateBytes
}

var (
	tokenOnce         sync.Once
	promptCounter     otelmetric.Int64Counter
	completionCounter otelmetric.Int64Counter
)

func ensureTokenInstruments() {
	tokenOnce.Do(func() {
		m := otel.Meter("internal/llm")
		promptCounter, _ = m.Int64Counter("llm.prompt_tokens",
			otelmetric.WithDescription("Cumulative prompt tokens by model"))
		completionCounter, _ = m.Int64Counter("llm.completion_tokens",
			otelmetric.WithDescription("Cumulative completion tokens by model"))
	})
}

// RecordTokenMetrics adds one generation's token usage to the process-wide
// OTel counters, attributed by model.
func RecordTokenMetrics(model string, u Usage) {
	if model == "" || (u.PromptTokens == 0 && u.CompletionTokens == 0) {
		return
	}
	ensureTokenInstruments()
	ctx := context.Background()
	attrs := otelmetric.WithAttributes(attribute.String("llm.model", model))
	if promptCounter != nil && u.PromptTokens > 0 {
		promptCounter.Add(ctx, int64(u.PromptTokens), attrs)
	}
	if completionCounter != nil && u.CompletionTokens > 0 {
		completionCounter.Add(ctx, int64(u.CompletionTokens), attrs)
	}
}

// StartRequestSpan starts a tracer span for one provider call and sets the
// common attributes.
func StartRequestSpan(ctx context.Context, operation, model string, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.messages", messages))
	return ctx, span
}

// RecordTokenAttributes sets token counts on span.
func RecordTokenAttributes(span trace.Span, u Usage) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", u.PromptTokens),
		attribute.Int("llm.completion_tokens", u.CompletionTokens),
		attribute.Int("llm.total_tokens", u.PromptTokens+u.CompletionTokens),
	)
}

// LogRedactedPrompt logs a redacted copy of the outbound messages at debug
// level. No-op unless payload logging is enabled.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	logRedacted(ctx, "prompt", "llm_request", msgs)
}

// LogRedactedResponse logs a redacted copy of the response payload at debug
// level. No-op unless payload logging is enabled.
func LogRedactedResponse(ctx context.Context, resp any) {
	logRedacted(ctx, "response", "llm_response", resp)
}

func logRedacted(ctx context.Context, field, msg string, payload any) {
	ok, limit := shouldLog()
	if !ok {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	if limit > 0 && len(red) > limit {
		preview, err := json.Marshal(map[string]any{"truncated": true, "preview": string(red[:limit])})
		if err != nil {
			return
		}
		red = preview
	}
	logger := observability.LoggerWithTrace(ctx).With().RawJSON(field, red).Logger()
	logger.Debug().Msg(msg)
}
