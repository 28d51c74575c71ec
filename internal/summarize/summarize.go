// Package summarize produces the human-readable enrichment of a cluster: a
// short topic label, a free-text summary and LLM-extracted topic phrases.
// Every operation returns an empty value on failure.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/faqscope/internal/llm"
)

const (
	labelSampleSize  = 5
	phraseSampleSize = 50
	maxPhrases       = 10
	maxLabelWords    = 6
)

// Summarizer issues the summary prompts through a Provider.
type Summarizer struct {
	provider llm.Provider
}

// New returns a Summarizer using p.
func New(p llm.Provider) *Summarizer {
	return &Summarizer{provider: p}
}

// LabelTopic names the topic shared by texts in two to four words, using at
// most the first five texts. It returns "" on failure.
func (s *Summarizer) LabelTopic(ctx context.Context, texts []string) string {
	texts = nonEmpty(texts)
	if len(texts) == 0 {
		return ""
	}
	if len(texts) > labelSampleSize {
		texts = texts[:labelSampleSize]
	}

	prompt := fmt.Sprintf(`You are a clustering assistant.

Given the following messages, label the topic in 2-4 descriptive words (e.g., "Shipping Delay", "Login Issue", "Refund Request").

Messages:
%s

Respond with just the label.
`, strings.Join(texts, "\n"))

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("summarize: label_topic failed", "error", err)
		return ""
	}
	return cleanLabel(resp)
}

// cleanLabel keeps the first line of a reply without quotes or a "Label:"
// prefix. Replies far longer than a label are discarded.
func cleanLabel(resp string) string {
	s := llm.StripCodeFence(resp)
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[:nl]
	}
	if i := strings.Index(strings.ToLower(s), "label:"); i != -1 {
		s = s[i+len("label:"):]
	}
	s = strings.Trim(strings.TrimSpace(s), `"'*.`)
	if len(strings.Fields(s)) > maxLabelWords {
		return ""
	}
	return s
}

// Summarize describes the issue shared by all texts. It returns "" on failure.
func (s *Summarizer) Summarize(ctx context.Context, texts []string) string {
	texts = nonEmpty(texts)
	if len(texts) == 0 {
		return ""
	}
	prompt := "Summarize the key topic or issue from the following user messages in one or two sentences:\n\n" +
		strings.Join(texts, "\n")

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("summarize: summarize_cluster failed", "error", err)
		return ""
	}
	return strings.TrimSpace(resp)
}

// TopicPhrases extracts up to ten recurring questions or topic phrases from
// at most fifty texts. label, when set, is given to the model as context. It
// returns nil on failure.
func (s *Summarizer) TopicPhrases(ctx context.Context, texts []string, label string) []string {
	texts = nonEmpty(texts)
	if len(texts) == 0 {
		return nil
	}
	if len(texts) > phraseSampleSize {
		texts = texts[:phraseSampleSize]
	}
	if label == "" {
		label = "various topics"
	}

	var sample strings.Builder
	for _, t := range texts {
		sample.WriteString("- ")
		sample.WriteString(t)
		sample.WriteByte('\n')
	}
	prompt := fmt.Sprintf(`You are an expert at analyzing customer support messages.

Given the following user messages related to %s, extract the top %d recurring questions or topic keywords that appear across them.

Respond ONLY as a JSON list of strings.

Messages:
%s`, label, maxPhrases, sample.String())

	resp, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		slog.Warn("summarize: extract_gpt_keywords failed", "error", err)
		return nil
	}
	arr, err := llm.ExtractJSONArray(resp)
	if err != nil {
		slog.Warn("summarize: topic phrases reply has no list", "raw", llm.Truncate(resp, 200))
		return nil
	}
	var phrases []string
	if err := json.Unmarshal([]byte(arr), &phrases); err != nil {
		slog.Warn("summarize: topic phrases unparseable", "error", err)
		return nil
	}

	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > maxPhrases {
		out = out[:maxPhrases]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func nonEmpty(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}
