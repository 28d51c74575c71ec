// Package scoring rates how well an FAQ answer covers a customer message and
// drafts replacement FAQs where coverage is weak.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/faqscope/internal/llm"
)

// Coverage is the categorical judgment of an FAQ against a message.
type Coverage string

const (
	Fully     Coverage = "Fully"
	Partially Coverage = "Partially"
	Not       Coverage = "Not"
	// Unknown marks a failed analysis, never a real rating.
	Unknown Coverage = "Unknown"
)

// Result is a coverage rating. Score is 1..5 for a real rating and 0 only
// together with Unknown.
type Result struct {
	Label  Coverage `json:"label"`
	Score  int      `json:"score"`
	Reason string   `json:"reason"`
}

// IsSentinel reports whether r is the failure sentinel.
func (r Result) IsSentinel() bool {
	return r.Label == Unknown && r.Score == 0
}

func sentinel(reason string) Result {
	return Result{Label: Unknown, Score: 0, Reason: reason}
}

// Suggestion is a drafted FAQ. The zero value means no suggestion.
type Suggestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// IsEmpty reports whether no suggestion was produced.
func (s Suggestion) IsEmpty() bool {
	return s.Question == "" && s.Answer == ""
}

// Scorer issues the scoring prompts through a Provider.
type Scorer struct {
	provider llm.Provider
}

// New returns a Scorer using p.
func New(p llm.Provider) *Scorer {
	return &Scorer{provider: p}
}

// ScoreResolution rates how well faqAnswer resolves message. Any provider or
// parse failure yields the Unknown/0 sentinel with a diagnostic reason that
// keeps the raw reply.
func (s *Scorer) ScoreResolution(ctx context.Context, message, faqAnswer string) Result {
	prompt := fmt.Sprintf(`Evaluate the resolution quality of this FAQ in response to the user's message.

User message:
%s

FAQ answer:
%s

Provide:
- A label: Fully / Partially / Not covered
- A numeric score: 5 (excellent) to 1 (poor)
- A short explanation

Respond in JSON format. Do NOT include any markdown formatting, code blocks, or triple backticks.
Format:
{"label": "...", "score": ..., "reason": "..."}
`, message, faqAnswer)

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("scoring: score_resolution provider error", "error", err)
		return sentinel(fmt.Sprintf("provider error: %v", err))
	}

	switch p := ParseScore(resp).(type) {
	case Ok:
		return p.Result
	case Malformed:
		slog.Warn("scoring: malformed score reply", "error", p.Err, "raw", llm.Truncate(p.Raw, 200))
		return sentinel(fmt.Sprintf("malformed response (%v): %s", p.Err, p.Raw))
	default:
		return sentinel("unhandled parse result")
	}
}

// NeedsSuggestion reports whether a label warrants drafting a new FAQ.
func NeedsSuggestion(label Coverage) bool {
	return label == Partially || label == Not
}

// SuggestFAQ drafts a replacement question and answer for message. Failures
// return the empty Suggestion.
func (s *Scorer) SuggestFAQ(ctx context.Context, message string) Suggestion {
	prompt := fmt.Sprintf(`Suggest a better FAQ (Q&A) to address the following user message if the current FAQ is insufficient.

User message:
%s

Respond ONLY with a raw JSON object. Do NOT include any markdown formatting, triple backticks, or explanation.

Format:
{
  "question": "...",
  "answer": "..."
}
`, message)

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("scoring: suggest_faq provider error", "error", err)
		return Suggestion{}
	}

	obj, err := llm.ExtractJSONObject(resp)
	if err != nil {
		slog.Warn("scoring: suggest_faq reply has no JSON", "raw", llm.Truncate(resp, 200))
		return Suggestion{}
	}
	var out Suggestion
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		slog.Warn("scoring: suggest_faq reply unparseable", "error", err)
		return Suggestion{}
	}
	out.Question = strings.TrimSpace(out.Question)
	out.Answer = strings.TrimSpace(out.Answer)
	if out.Question == "" || out.Answer == "" {
		return Suggestion{}
	}
	return out
}
