// Package matching finds the FAQ entries that best cover a cluster: a cheap
// cosine pass over centroids and an LLM rerank over the top candidates for a
// representative message.
package matching

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNoCandidateFAQs is returned when no FAQ carries a usable vector.
var ErrNoCandidateFAQs = errors.New("no candidate FAQs")

// DefaultTopCandidates is the candidate count used when topN <= 0.
const DefaultTopCandidates = 5

// FAQ is a knowledge-base entry. Only entries with a vector take part in matching.
type FAQ struct {
	ID       string
	Question string
	Answer   string
	Vector   []float32
}

// Candidate is an FAQ paired with its cosine similarity to a query vector.
type Candidate struct {
	FAQ        FAQ
	Similarity float64
}

// Match is the centroid top-1 for one cluster. An empty FAQID with zero
// similarity means no FAQ was available.
type Match struct {
	ClusterLabel int
	FAQID        string
	Similarity   float64
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopCandidates ranks faqs by cosine similarity to vector and returns the best
// topN, highest first. Ties keep the order of faqs. FAQs with no vector or a
// vector of another dimension are skipped.
func TopCandidates(vector []float32, faqs []FAQ, topN int) ([]Candidate, error) {
	if topN <= 0 {
		topN = DefaultTopCandidates
	}

	cands := make([]Candidate, 0, len(faqs))
	for _, f := range faqs {
		if len(f.Vector) == 0 || len(f.Vector) != len(vector) {
			continue
		}
		cands = append(cands, Candidate{FAQ: f, Similarity: Cosine(vector, f.Vector)})
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %d FAQs, none with a %d-dimensional vector", ErrNoCandidateFAQs, len(faqs), len(vector))
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Similarity > cands[j].Similarity
	})
	if len(cands) > topN {
		cands = cands[:topN]
	}
	return cands, nil
}

// MatchCentroids finds the top-1 FAQ by raw cosine similarity for every
// centroid. No language model is involved.
func MatchCentroids(centroids map[int][]float32, faqs []FAQ) (map[int]Match, error) {
	if len(faqs) == 0 {
		return nil, ErrNoCandidateFAQs
	}

	out := make(map[int]Match, len(centroids))
	for label, c := range centroids {
		cands, err := TopCandidates(c, faqs, 1)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", label, err)
		}
		out[label] = Match{
			ClusterLabel: label,
			FAQID:        cands[0].FAQ.ID,
			Similarity:   cands[0].Similarity,
		}
	}
	return out, nil
}
