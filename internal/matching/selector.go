package matching

import (
	"context"
)

// Selector composes the FAQ assignment policy used for scoring: cosine top-N,
// then an LLM rerank, then the first candidate if the rerank cannot be used.
type Selector struct {
	faqs     []FAQ
	topN     int
	reranker *Reranker
}

// NewSelector returns a Selector over faqs. topN <= 0 uses DefaultTopCandidates.
func NewSelector(faqs []FAQ, topN int, reranker *Reranker) *Selector {
	if topN <= 0 {
		topN = DefaultTopCandidates
	}
	return &Selector{faqs: faqs, topN: topN, reranker: reranker}
}

// Select picks the FAQ for a representative message. The only error is
// ErrNoCandidateFAQs; model failures resolve to the top cosine candidate.
func (s *Selector) Select(ctx context.Context, text string, vector []float32) (Selection, error) {
	cands, err := TopCandidates(vector, s.faqs, s.topN)
	if err != nil {
		return Selection{}, err
	}
	if s.reranker == nil {
		return Selection{FAQ: cands[0].FAQ, Similarity: cands[0].Similarity}, nil
	}
	return s.reranker.Rerank(ctx, text, cands), nil
}
