// Package providers builds the configured llm.Provider implementations.
package providers

import (
	"fmt"
	"net/http"

	"modelgate/internal/config"
	"modelgate/internal/llm"
	"modelgate/internal/llm/anthropic"
	openaillm "modelgate/internal/llm/openai"
)

// Build constructs an llm.Provider based on the configured provider name.
//   - openai: the OpenAI chat-completions client
//   - local: the same client pointed at a self-hosted OpenAI-compatible server
//   - anthropic: the Anthropic Messages client
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.LLMClient.Provider {
	case "", "openai", "local":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLMClient.Provider)
	}
}
