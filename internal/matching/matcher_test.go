package matching

import (
	"errors"
	"math"
	"testing"
)

func testFAQs() []FAQ {
	return []FAQ{
		{ID: "reset", Question: "How do I reset my password?", Answer: "Use the reset link.", Vector: []float32{1, 0, 0}},
		{ID: "refund", Question: "How do refunds work?", Answer: "Within 30 days.", Vector: []float32{0, 1, 0}},
		{ID: "ship", Question: "When will my order ship?", Answer: "In 2 days.", Vector: []float32{0, 0, 1}},
		{ID: "no-vector", Question: "Unembedded", Answer: "n/a"},
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopCandidates_Order(t *testing.T) {
	cands, err := TopCandidates([]float32{0.2, 0.9, 0.1}, testFAQs(), 2)
	if err != nil {
		t.Fatalf("TopCandidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2", len(cands))
	}
	if cands[0].FAQ.ID != "refund" || cands[1].FAQ.ID != "reset" {
		t.Errorf("order = %s, %s, want refund, reset", cands[0].FAQ.ID, cands[1].FAQ.ID)
	}
	if cands[0].Similarity < cands[1].Similarity {
		t.Error("candidates not in descending similarity")
	}
}

func TestTopCandidates_TiesKeepInsertionOrder(t *testing.T) {
	faqs := []FAQ{
		{ID: "first", Vector: []float32{1, 0}},
		{ID: "second", Vector: []float32{1, 0}},
		{ID: "third", Vector: []float32{1, 0}},
	}
	cands, err := TopCandidates([]float32{1, 0}, faqs, 5)
	if err != nil {
		t.Fatalf("TopCandidates: %v", err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if cands[i].FAQ.ID != want {
			t.Errorf("cands[%d] = %s, want %s", i, cands[i].FAQ.ID, want)
		}
	}
}

func TestTopCandidates_SkipsUnusableFAQs(t *testing.T) {
	faqs := append(testFAQs(), FAQ{ID: "wrong-dim", Vector: []float32{1, 0}})
	cands, err := TopCandidates([]float32{1, 0, 0}, faqs, 10)
	if err != nil {
		t.Fatalf("TopCandidates: %v", err)
	}
	if len(cands) != 3 {
		t.Errorf("got %d candidates, want 3", len(cands))
	}
	for _, c := range cands {
		if c.FAQ.ID == "no-vector" || c.FAQ.ID == "wrong-dim" {
			t.Errorf("unusable FAQ %s was ranked", c.FAQ.ID)
		}
	}
}

func TestTopCandidates_NoFAQs(t *testing.T) {
	if _, err := TopCandidates([]float32{1}, nil, 5); !errors.Is(err, ErrNoCandidateFAQs) {
		t.Fatalf("err = %v, want ErrNoCandidateFAQs", err)
	}
	if _, err := TopCandidates([]float32{1}, []FAQ{{ID: "x"}}, 5); !errors.Is(err, ErrNoCandidateFAQs) {
		t.Fatalf("err = %v, want ErrNoCandidateFAQs", err)
	}
}

func TestMatchCentroids(t *testing.T) {
	centroids := map[int][]float32{
		0: {0.9, 0.1, 0},
		1: {0, 0.1, 0.95},
	}
	got, err := MatchCentroids(centroids, testFAQs())
	if err != nil {
		t.Fatalf("MatchCentroids: %v", err)
	}
	if got[0].FAQID != "reset" || got[1].FAQID != "ship" {
		t.Errorf("matches = %+v", got)
	}
	if got[0].Similarity <= 0.9 {
		t.Errorf("similarity = %v, want > 0.9", got[0].Similarity)
	}
	if got[1].ClusterLabel != 1 {
		t.Errorf("ClusterLabel = %d, want 1", got[1].ClusterLabel)
	}
}

func TestMatchCentroids_NoFAQs(t *testing.T) {
	_, err := MatchCentroids(map[int][]float32{0: {1}}, nil)
	if !errors.Is(err, ErrNoCandidateFAQs) {
		t.Fatalf("err = %v, want ErrNoCandidateFAQs", err)
	}
}
