// Package llm holds the language-model providers used by the matching,
// scoring and summarizing stages, plus the shared rate-limit and retry policy.
package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalambet/faqscope/internal/ollama"
)

// ErrRateLimited marks a provider response that asked the caller to slow down.
var ErrRateLimited = errors.New("rate limited")

// Provider is a single-turn chat completion: one prompt in, raw text out.
// All prompt construction and response parsing live with the caller.
type Provider interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt string) (string, error)

func (f ProviderFunc) Chat(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ProviderError wraps a failed provider call with the provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimit reports whether err is a rate-limit signal from any provider.
func IsRateLimit(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code == http.StatusServiceUnavailable
	}
	return false
}
