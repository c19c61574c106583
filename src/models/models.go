package models

import (
	"context"
	"fmt"

	"github.com/aria-labs/ai-companion/src/config"
)

// Agent is a chat model. Generate runs one turn: the system prompt carries
// the persona and any retrieved memory context, the user prompt carries the
// incoming message.
type Agent interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// NewLLMProvider returns the Agent for the configured provider.
func NewLLMProvider(cfg *config.Settings, model string) (Agent, error) {
	switch cfg.LLMProvider {
	case config.ProviderGroq:
		return NewGroqLLM(cfg.GroqAPIKey, model)
	case config.ProviderOpenAI:
		return NewOpenAILLM(cfg.OpenAIAPIKey, model)
	case config.ProviderAnthropic:
		return NewAnthropicLLM(cfg.AnthropicAPIKey, model)
	case config.ProviderOllama:
		return NewOllamaLLM(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.LLMProvider)
	}
}
