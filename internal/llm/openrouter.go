package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultHTTPTimeout   = 60 * time.Second
)

// Compile-time check that OpenRouter implements Provider.
var _ Provider = (*OpenRouter)(nil)

// OpenRouter sends prompts to the OpenRouter chat completions API.
// Retries are not done here; wrap it in Resilient.
type OpenRouter struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewOpenRouter creates an OpenRouter provider for the given model.
func NewOpenRouter(apiKey, model string) *OpenRouter {
	return &OpenRouter{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultOpenRouterURL,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		referer: "https://github.com/kalambet/faqscope",
		title:   "faqscope",
	}
}

// NewOpenRouterWithBaseURL creates a provider pointing at a custom base URL (for testing).
func NewOpenRouterWithBaseURL(apiKey, model, baseURL string) *OpenRouter {
	c := NewOpenRouter(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status     int
	retryAfter string
}

func (e *rateLimitError) Error() string {
	if e.retryAfter != "" {
		return fmt.Sprintf("rate limited (HTTP %d, retry after %s)", e.status, e.retryAfter)
	}
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func (e *rateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Chat sends a single user prompt and returns the first choice's content.
func (c *OpenRouter) Chat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ProviderError{Provider: "openrouter", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &ProviderError{Provider: "openrouter", Err: &rateLimitError{
			status:     resp.StatusCode,
			retryAfter: resp.Header.Get("Retry-After"),
		}}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &ProviderError{Provider: "openrouter",
			Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ProviderError{Provider: "openrouter", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if out.Error != nil {
		return "", &ProviderError{Provider: "openrouter", Err: fmt.Errorf("api error: %s", out.Error.Message)}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{Provider: "openrouter", Err: fmt.Errorf("response has no choices")}
	}
	return out.Choices[0].Message.Content, nil
}

// Model is an entry of the /models listing.
type Model struct {
	ID string `json:"id"`
}

// ListModels returns the models available to the configured key.
func (c *OpenRouter) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var list struct {
		Data []Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}
	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
