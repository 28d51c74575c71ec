package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertMessage_PreservesArrivalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m3", "m1", "m2"} {
		if err := s.UpsertMessage(ctx, Message{ID: id, Text: "text " + id}); err != nil {
			t.Fatalf("UpsertMessage(%s): %v", id, err)
		}
	}

	got, err := s.ListMessagesMissingEmbedding(ctx, 0)
	if err != nil {
		t.Fatalf("ListMessagesMissingEmbedding: %v", err)
	}
	want := []string{"m3", "m1", "m2"}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("messages[%d].ID = %q, want %q", i, got[i].ID, want[i])
		}
	}
}

func TestUpsertMessage_TextChangeDropsEmbedding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMessage(ctx, Message{ID: "m1", Text: "hello"}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	if err := s.SetMessageEmbedding(ctx, "m1", []float32{1, 2, 3}); err != nil {
		t.Fatalf("SetMessageEmbedding: %v", err)
	}

	// Same text keeps the embedding.
	if err := s.UpsertMessage(ctx, Message{ID: "m1", Text: "hello"}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	embedded, err := s.ListEmbeddedMessages(ctx)
	if err != nil {
		t.Fatalf("ListEmbeddedMessages: %v", err)
	}
	if len(embedded) != 1 {
		t.Fatalf("embedded = %d, want 1", len(embedded))
	}

	if err := s.UpsertMessage(ctx, Message{ID: "m1", Text: "hello again"}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	embedded, err = s.ListEmbeddedMessages(ctx)
	if err != nil {
		t.Fatalf("ListEmbeddedMessages: %v", err)
	}
	if len(embedded) != 0 {
		t.Errorf("embedded = %d after text change, want 0", len(embedded))
	}
}

func TestMessageEmbeddingRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertMessage(ctx, Message{ID: "m1", Text: "refund please", CreatedAt: &created}); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}
	vec := []float32{0.25, -1.5, 3}
	if err := s.SetMessageEmbedding(ctx, "m1", vec); err != nil {
		t.Fatalf("SetMessageEmbedding: %v", err)
	}

	got, err := s.ListEmbeddedMessages(ctx)
	if err != nil {
		t.Fatalf("ListEmbeddedMessages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].CreatedAt == nil || !got[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, created)
	}
	if len(got[0].Embedding) != len(vec) {
		t.Fatalf("embedding len = %d, want %d", len(got[0].Embedding), len(vec))
	}
	for i := range vec {
		if got[0].Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got[0].Embedding[i], vec[i])
		}
	}
}

func TestSetMessageEmbedding_NotFound(t *testing.T) {
	s := openTestStore(t)
	err := s.SetMessageEmbedding(context.Background(), "nope", []float32{1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertFAQ_KeyedByQuestion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertFAQ(ctx, FAQ{Question: "How do I reset my password?", Answer: "Use the link."})
	if err != nil {
		t.Fatalf("UpsertFAQ: %v", err)
	}
	id2, err := s.UpsertFAQ(ctx, FAQ{Question: "How do I reset my password?", Answer: "Use the reset link on the login page."})
	if err != nil {
		t.Fatalf("UpsertFAQ: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %q vs %q", id1, id2)
	}

	got, err := s.GetFAQ(ctx, id1)
	if err != nil {
		t.Fatalf("GetFAQ: %v", err)
	}
	if got.Answer != "Use the reset link on the login page." {
		t.Errorf("Answer = %q", got.Answer)
	}
}

func TestGetFAQ_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetFAQ(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCountsAndEmbeddingDimension(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	dim, err := s.EmbeddingDimension(ctx)
	if err != nil {
		t.Fatalf("EmbeddingDimension: %v", err)
	}
	if dim != 0 {
		t.Errorf("dim on empty store = %d, want 0", dim)
	}

	id, err := s.UpsertFAQ(ctx, FAQ{Question: "q", Answer: "a"})
	if err != nil {
		t.Fatalf("UpsertFAQ: %v", err)
	}
	if err := s.SetFAQEmbedding(ctx, id, []float32{1, 2}); err != nil {
		t.Fatalf("SetFAQEmbedding: %v", err)
	}
	for _, m := range []string{"m1", "m2"} {
		if err := s.UpsertMessage(ctx, Message{ID: m, Text: m}); err != nil {
			t.Fatalf("UpsertMessage: %v", err)
		}
	}
	if err := s.SetMessageEmbedding(ctx, "m2", []float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetMessageEmbedding: %v", err)
	}

	dim, err = s.EmbeddingDimension(ctx)
	if err != nil {
		t.Fatalf("EmbeddingDimension: %v", err)
	}
	if dim != 4 {
		t.Errorf("dim = %d, want 4 (messages take precedence)", dim)
	}

	c, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	want := RecordCounts{Messages: 2, EmbeddedMessages: 1, FAQs: 1, EmbeddedFAQs: 1}
	if c != want {
		t.Errorf("Counts = %+v, want %+v", c, want)
	}
}

func TestDecodeFloat32s_InvalidLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for blob length not divisible by 4")
	}
	v, err := decodeFloat32s(nil)
	if err != nil || v != nil {
		t.Errorf("decodeFloat32s(nil) = %v, %v; want nil, nil", v, err)
	}
}
