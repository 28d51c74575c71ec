package matching

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kalambet/faqscope/internal/llm"
)

// Selection is the FAQ chosen for a representative message.
type Selection struct {
	FAQ        FAQ
	Similarity float64
	// Fallback is set when the top cosine candidate was used because the
	// model reply could not be used.
	Fallback bool
	// Reason explains a fallback.
	Reason string
}

// Reranker asks a language model to pick the best of several candidates.
type Reranker struct {
	provider llm.Provider
}

// NewReranker returns a Reranker using p.
func NewReranker(p llm.Provider) *Reranker {
	return &Reranker{provider: p}
}

// Rerank returns the candidate the model picks for text. A provider error, an
// unparseable reply or an index outside the candidate list selects candidate
// 0 instead. Rerank never fails; with no candidates it returns an empty
// fallback Selection without calling the model.
func (r *Reranker) Rerank(ctx context.Context, text string, candidates []Candidate) Selection {
	if len(candidates) == 0 {
		return Selection{Fallback: true, Reason: "no candidates"}
	}
	fallback := func(reason string) Selection {
		slog.Warn("matching: rerank fell back to top cosine candidate", "reason", reason)
		return Selection{
			FAQ:        candidates[0].FAQ,
			Similarity: candidates[0].Similarity,
			Fallback:   true,
			Reason:     reason,
		}
	}
	if len(candidates) == 1 {
		return Selection{FAQ: candidates[0].FAQ, Similarity: candidates[0].Similarity}
	}

	resp, err := r.provider.Chat(ctx, buildRerankPrompt(text, candidates))
	if err != nil {
		return fallback(fmt.Sprintf("provider error: %v", err))
	}

	idx, err := parseIndex(resp, len(candidates))
	if err != nil {
		return fallback(fmt.Sprintf("%v (raw: %q)", err, llm.Truncate(resp, 200)))
	}
	c := candidates[idx]
	return Selection{FAQ: c.FAQ, Similarity: c.Similarity}
}

func buildRerankPrompt(text string, candidates []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User message:\n%s\n\nBelow are %d FAQ entries:\n", text, len(candidates))
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n", i+1, c.FAQ.Question, c.FAQ.Answer)
	}
	fmt.Fprintf(&b, "\nWhich FAQ best matches the user's question? Reply with just the number (1-%d).", len(candidates))
	return b.String()
}

// parseIndex reads a 1-based choice from a reply and returns it 0-based.
// Surrounding punctuation ("3.", "**2**") is tolerated; any other text is not.
func parseIndex(resp string, n int) (int, error) {
	s := strings.Trim(llm.StripCodeFence(resp), " \t\r\n.*#()[]\"'`")
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("reply is not an integer")
	}
	if v < 1 || v > n {
		return 0, fmt.Errorf("index %d outside 1..%d", v, n)
	}
	return v - 1, nil
}
