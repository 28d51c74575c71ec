package llm

import (
	"context"

	"github.com/kalambet/faqscope/internal/engine"
)

// Compile-time check that EngineProvider implements Provider.
var _ Provider = (*EngineProvider)(nil)

// EngineProvider sends prompts to a chat model on the local inference engine.
type EngineProvider struct {
	engine      engine.Engine
	model       string
	temperature float64
}

// NewEngineProvider returns a Provider backed by eng using model.
func NewEngineProvider(eng engine.Engine, model string) *EngineProvider {
	return &EngineProvider{engine: eng, model: model}
}

func (p *EngineProvider) Chat(ctx context.Context, prompt string) (string, error) {
	temp := p.temperature
	resp, err := p.engine.Chat(ctx, p.model, []engine.Message{
		{Role: "user", Content: prompt},
	}, engine.ChatOptions{Temperature: &temp})
	if err != nil {
		return "", &ProviderError{Provider: "ollama", Err: err}
	}
	return resp, nil
}
