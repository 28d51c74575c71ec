package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/faqscope/internal/engine"
	"github.com/kalambet/faqscope/internal/llm"
	"github.com/kalambet/faqscope/internal/storage"
)

const (
	defaultBatchSize = 32
	maxConcurrency   = 4
	// maxRunes caps the text sent to the embedding model.
	maxRunes = 1024

	defaultMaxAttempts = 5
	defaultBackoff     = time.Second
	maxBackoff         = 30 * time.Second
)

// Embedder turns texts into vectors with the local engine.
type Embedder struct {
	engine    engine.Engine
	model     string
	batchSize int
	// Rate-limited batches are retried up to maxAttempts times, starting at
	// backoff and doubling up to maxBackoff.
	maxAttempts int
	backoff     time.Duration
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{
		engine:      e,
		model:       model,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// EmbedBatch embeds texts in batches, running up to four batches at once.
// The result is index-aligned with texts. A failed batch leaves nil vectors
// for its texts and is reported in the returned error count.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int) {
	if len(texts) == 0 {
		return nil, 0
	}
	out := make([][]float32, len(texts))
	var failed int
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			batch := make([]string, end-start)
			for i, t := range texts[start:end] {
				batch[i] = truncateRunes(t, maxRunes)
			}
			vecs, err := e.embedWithRetry(ctx, batch)
			if err != nil {
				slog.Warn("ingest: embedding batch failed", "from", start, "to", end, "error", err)
				mu.Lock()
				failed += end - start
				mu.Unlock()
				return nil
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	_ = g.Wait()
	return out, failed
}

// embedWithRetry calls the engine, backing off exponentially while it reports
// rate limiting. Other errors are returned after the first attempt.
func (e *Embedder) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	b := retry.NewExponential(e.backoff)
	b = retry.WithCappedDuration(maxBackoff, b)
	b = retry.WithMaxRetries(uint64(max(e.maxAttempts, 1)-1), b)

	var vecs [][]float32
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		v, err := e.engine.EmbedBatch(ctx, e.model, batch)
		if err != nil {
			if llm.IsRateLimit(err) {
				slog.Debug("ingest: embedding rate limited, backing off", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return vecs, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// DimensionGuard enforces one embedding length for the duration of a pass.
// The first accepted vector fixes the dimension unless one is preset.
type DimensionGuard struct {
	mu      sync.Mutex
	dim     int
	skipped int
}

// NewDimensionGuard returns a guard expecting dim, or the first vector seen when dim is 0.
func NewDimensionGuard(dim int) *DimensionGuard {
	return &DimensionGuard{dim: dim}
}

// Accept reports whether vec has the expected dimension. Rejections are counted.
func (g *DimensionGuard) Accept(vec []float32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(vec) == 0 {
		g.skipped++
		return false
	}
	if g.dim == 0 {
		g.dim = len(vec)
		slog.Info("ingest: embedding dimension fixed", "dim", g.dim)
		return true
	}
	if len(vec) != g.dim {
		g.skipped++
		return false
	}
	return true
}

// Dim returns the fixed dimension, or 0 if none yet.
func (g *DimensionGuard) Dim() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dim
}

// Skipped returns how many vectors were rejected.
func (g *DimensionGuard) Skipped() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipped
}

// EmbedStore is the storage used by EmbedPending.
type EmbedStore interface {
	ListMessagesMissingEmbedding(ctx context.Context, limit int) ([]storage.Message, error)
	ListFAQsMissingEmbedding(ctx context.Context) ([]storage.FAQ, error)
	SetMessageEmbedding(ctx context.Context, id string, vec []float32) error
	SetFAQEmbedding(ctx context.Context, id string, vec []float32) error
	EmbeddingDimension(ctx context.Context) (int, error)
}

// EmbedStats reports one EmbedPending pass.
type EmbedStats struct {
	Messages int `json:"messages"`
	FAQs     int `json:"faqs"`
	// Skipped counts vectors rejected by the dimension guard.
	Skipped int `json:"skipped"`
	// Failed counts texts the engine could not embed.
	Failed int `json:"failed"`
	Dim    int `json:"dim"`
}

// EmbedPending embeds every message and FAQ that lacks an embedding. FAQs
// are embedded from their question. The dimension already in the store, if
// any, is enforced; otherwise the first vector of the pass fixes it.
func EmbedPending(ctx context.Context, store EmbedStore, emb *Embedder) (EmbedStats, error) {
	var stats EmbedStats
	dim, err := store.EmbeddingDimension(ctx)
	if err != nil {
		return stats, err
	}
	guard := NewDimensionGuard(dim)

	msgs, err := store.ListMessagesMissingEmbedding(ctx, 0)
	if err != nil {
		return stats, fmt.Errorf("listing messages: %w", err)
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	vecs, failed := emb.EmbedBatch(ctx, texts)
	stats.Failed += failed
	for i, m := range msgs {
		if vecs[i] == nil {
			continue
		}
		if !guard.Accept(vecs[i]) {
			slog.Warn("ingest: skipping message with mismatched dimension", "id", m.ID, "dim", len(vecs[i]), "expected", guard.Dim())
			continue
		}
		if err := store.SetMessageEmbedding(ctx, m.ID, vecs[i]); err != nil {
			return stats, err
		}
		stats.Messages++
	}

	faqs, err := store.ListFAQsMissingEmbedding(ctx)
	if err != nil {
		return stats, fmt.Errorf("listing faqs: %w", err)
	}
	texts = make([]string, len(faqs))
	for i, f := range faqs {
		texts[i] = f.Question
	}
	vecs, failed = emb.EmbedBatch(ctx, texts)
	stats.Failed += failed
	for i, f := range faqs {
		if vecs[i] == nil {
			continue
		}
		if !guard.Accept(vecs[i]) {
			slog.Warn("ingest: skipping FAQ with mismatched dimension", "id", f.ID, "dim", len(vecs[i]), "expected", guard.Dim())
			continue
		}
		if err := store.SetFAQEmbedding(ctx, f.ID, vecs[i]); err != nil {
			return stats, err
		}
		stats.FAQs++
	}

	stats.Skipped = guard.Skipped()
	stats.Dim = guard.Dim()
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}
