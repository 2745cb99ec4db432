package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"modelgate/internal/config"
	"modelgate/internal/llm"
)

type streamRecorder struct {
	deltas []string
	usage  llm.Usage
}

func (s *streamRecorder) OnDelta(text string) { s.deltas = append(s.deltas, text) }
func (s *streamRecorder) OnUsage(u llm.Usage) { s.usage = u }

func writeEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, payload map[string]any) {
	if _, ok := payload["type"]; !ok {
		payload["type"] = eventType
	}
	b, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", b)
	if flusher != nil {
		flusher.Flush()
	}
}

func minimalMessage() map[string]any {
	return map[string]any{
		"id":            "msg",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-7-sonnet-latest",
		"stop_reason":   nil,
		"stop_sequence": nil,
		"content":       []any{},
		"usage": map[string]any{
			"input_tokens":                7,
			"output_tokens":               0,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	}
}

func streamServer(t *testing.T, capture *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if capture != nil {
			_ = json.NewDecoder(r.Body).Decode(capture)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)

		writeEvent(w, flusher, "message_start", map[string]any{"message": minimalMessage()})
		writeEvent(w, flusher, "content_block_start", map[string]any{
			"index":         0,
			"content_block": map[string]any{"type": "text", "text": ""},
		})
		writeEvent(w, flusher, "content_block_delta", map[string]any{
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": "hello"},
		})
		writeEvent(w, flusher, "content_block_delta", map[string]any{
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": " world"},
		})
		writeEvent(w, flusher, "message_delta", map[string]any{
			"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": ""},
			"usage": map[string]any{"output_tokens": 2},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatStreamDeltasAndUsage(t *testing.T) {
	srv := streamServer(t, nil)
	client := New(config.AnthropicConfig{APIKey: "k", Model: "claude-3-7-sonnet-latest", BaseURL: srv.URL}, srv.Client())

	rec := &streamRecorder{}
	err := client.ChatStream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	}, rec)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if got := strings.Join(rec.deltas, ""); got != "hello world" {
		t.Fatalf("unexpected delta content %q", got)
	}
	if rec.usage.PromptTokens != 7 || rec.usage.CompletionTokens != 2 {
		t.Fatalf("unexpected usage %+v", rec.usage)
	}
}

func TestChatStreamSendsRequestParams(t *testing.T) {
	var reqBody map[string]any
	srv := streamServer(t, &reqBody)
	client := New(config.AnthropicConfig{APIKey: "k", Model: "default-model", BaseURL: srv.URL}, srv.Client())

	err := client.ChatStream(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "persona"},
			{Role: "user", Content: "hi"},
		},
		Model:       "override-model",
		MaxTokens:   64,
		Temperature: 0.4,
	}, &streamRecorder{})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	if reqBody["model"] != "override-model" {
		t.Fatalf("expected model override, got %v", reqBody["model"])
	}
	if reqBody["max_tokens"] != float64(64) {
		t.Fatalf("expected max_tokens 64, got %v", reqBody["max_tokens"])
	}
	if reqBody["temperature"] != 0.4 {
		t.Fatalf("expected temperature 0.4, got %v", reqBody["temperature"])
	}
	sys, ok := reqBody["system"].([]any)
	if !ok || len(sys) != 1 {
		t.Fatalf("expected one system block, got %#v", reqBody["system"])
	}
	msgs, ok := reqBody["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("expected system turn split out of messages, got %#v", reqBody["messages"])
	}
}

func TestChatStreamPromptCacheMarksSystem(t *testing.T) {
	var reqBody map[string]any
	srv := streamServer(t, &reqBody)
	cfg := config.AnthropicConfig{
		APIKey:  "k",
		BaseURL: srv.URL,
		// CacheSystem intentionally unset to verify the enabled-but-unscoped
		// default.
		PromptCache: config.AnthropicPromptCacheConfig{Enabled: true},
	}
	client := New(cfg, srv.Client())

	err := client.ChatStream(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "static system"},
			{Role: "user", Content: "hi"},
		},
	}, &streamRecorder{})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}

	sysList, ok := reqBody["system"].([]any)
	if !ok || len(sysList) == 0 {
		t.Fatalf("expected system blocks array, got %#v", reqBody["system"])
	}
	sys0, ok := sysList[0].(map[string]any)
	if !ok {
		t.Fatalf("expected system block object, got %#v", sysList[0])
	}
	if _, ok := sys0["cache_control"]; !ok {
		t.Fatalf("expected system cache_control, got %#v", sys0)
	}
}

func TestChatStreamRejectsEmptyAndUnknownRoles(t *testing.T) {
	client := New(config.AnthropicConfig{APIKey: "k"}, nil)

	if err := client.ChatStream(context.Background(), llm.Request{}, &streamRecorder{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
	err := client.ChatStream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "tool", Content: "x"}},
	}, &streamRecorder{})
	if err == nil {
		t.Fatal("expected error for unsupported role")
	}
}
