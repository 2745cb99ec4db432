package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"modelgate/internal/config"
)

// httpEmbedder calls an OpenAI-compatible /embeddings endpoint. Requests go
// out one text at a time: some self-hosted embedding servers (llama.cpp
// among them) mishandle batched inputs.
type httpEmbedder struct {
	cfg    config.EmbeddingConfig
	dim    int
	client *http.Client
}

// NewClient constructs an embedder against the configured endpoint.
func NewClient(cfg config.EmbeddingConfig, dim int) Embedder {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpEmbedder{
		cfg:    cfg,
		dim:    dim,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpEmbedder) Name() string   { return c.cfg.Model }
func (c *httpEmbedder) Dimension() int { return c.dim }

func (c *httpEmbedder) Ping(ctx context.Context) error {
	if _, err := c.embedOne(ctx, "ping"); err != nil {
		return fmt.Errorf("embedding endpoint unreachable: %w", err)
	}
	return nil
}

func (c *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := c.embedOne(ctx, t)
		if err != nil {
			return out, err
		}
		out = append(out, vec)
	}
	return out, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *httpEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{text}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embeddings error: %s: %s", resp.Status, string(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}
	if len(parsed.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want 1", len(parsed.Data))
	}
	return parsed.Data[0].Embedding, nil
}

// setAuthHeaders applies the configured header map first, then the
// api_header/api_key pair for anything the map didn't already cover.
func (c *httpEmbedder) setAuthHeaders(req *http.Request) {
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.cfg.APIHeader == "" {
		return
	}
	if _, already := c.cfg.Headers[c.cfg.APIHeader]; already {
		return
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		return
	}
	req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
}
