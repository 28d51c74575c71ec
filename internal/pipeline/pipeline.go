// Package pipeline runs one clustering-and-matching pass over the embedded
// messages and FAQs and records it as a versioned run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/faqscope/internal/cluster"
	"github.com/kalambet/faqscope/internal/matching"
	"github.com/kalambet/faqscope/internal/scoring"
	"github.com/kalambet/faqscope/internal/storage"
)

var (
	// ErrInvalidInput aborts a run before clustering: nothing embedded,
	// inconsistent dimensions or no FAQ to match against.
	ErrInvalidInput = errors.New("invalid pipeline input")
	// ErrNoClusters aborts a run whose messages are all noise.
	ErrNoClusters = errors.New("no clusters found")
)

// Source supplies the embedded records for a run.
type Source interface {
	ListEmbeddedMessages(ctx context.Context) ([]storage.Message, error)
	ListEmbeddedFAQs(ctx context.Context) ([]storage.FAQ, error)
}

// ResolutionScorer rates FAQ coverage. Implementations report failures as
// sentinels, not errors.
type ResolutionScorer interface {
	ScoreResolution(ctx context.Context, message, faqAnswer string) scoring.Result
	SuggestFAQ(ctx context.Context, message string) scoring.Suggestion
	Sentiment(ctx context.Context, text string) scoring.Sentiment
}

// TopicSummarizer enriches a cluster with readable descriptions.
type TopicSummarizer interface {
	LabelTopic(ctx context.Context, texts []string) string
	Summarize(ctx context.Context, texts []string) string
	TopicPhrases(ctx context.Context, texts []string, label string) []string
}

// Config tunes a Pipeline.
type Config struct {
	Cluster cluster.Config
	// TopCandidates is how many cosine candidates the reranker sees.
	TopCandidates int
	// KeywordCount is the number of lexical keywords kept per cluster.
	KeywordCount int
	// Workers bounds concurrent per-cluster processing. 1 is sequential.
	Workers    int
	Projection cluster.ProjectionOptions
}

// Deps are the collaborators of a Pipeline. Reranker may be nil, in which
// case the top cosine candidate is scored.
type Deps struct {
	Source     Source
	Runs       RunStore
	Reranker   *matching.Reranker
	Scorer     ResolutionScorer
	Summarizer TopicSummarizer
}

// Pipeline sequences clustering, matching, scoring, summarizing and persistence.
type Pipeline struct {
	source     Source
	runs       *RunManager
	clusterer  *cluster.Clusterer
	reranker   *matching.Reranker
	scorer     ResolutionScorer
	summarizer TopicSummarizer
	cfg        Config
	now        func() time.Time
}

// New validates cfg and returns a Pipeline.
func New(d Deps, cfg Config) (*Pipeline, error) {
	if d.Source == nil || d.Runs == nil || d.Scorer == nil || d.Summarizer == nil {
		return nil, fmt.Errorf("pipeline: source, runs, scorer and summarizer are required")
	}
	c, err := cluster.New(cfg.Cluster)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.KeywordCount <= 0 {
		cfg.KeywordCount = cluster.DefaultKeywordCount
	}
	if cfg.TopCandidates <= 0 {
		cfg.TopCandidates = matching.DefaultTopCandidates
	}
	return &Pipeline{
		source:     d.Source,
		runs:       NewRunManager(d.Runs),
		clusterer:  c,
		reranker:   d.Reranker,
		scorer:     d.Scorer,
		summarizer: d.Summarizer,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// ClusterError records a cluster that was skipped.
type ClusterError struct {
	Label int
	Err   error
}

func (e *ClusterError) Error() string {
	return fmt.Sprintf("cluster %d: %v", e.Label, e.Err)
}

func (e *ClusterError) Unwrap() error {
	return e.Err
}

// ClusterOutcome is the result of processing one cluster: Result on
// success, Err otherwise.
type ClusterOutcome struct {
	Result storage.ClusterResult
	Err    *ClusterError
}

// Report summarises a finished run.
type Report struct {
	RunID     string
	Messages  int
	FAQs      int
	Clusters  int
	Noise     int
	Persisted int
	Failures  []ClusterError
	Duration  time.Duration
}

// Run executes one pass. Invalid input marks the run failed and returns an
// error wrapping ErrInvalidInput or ErrNoClusters with no result rows
// written. Failures inside a single cluster skip that cluster only.
func (p *Pipeline) Run(ctx context.Context, notes string) (*Report, error) {
	start := p.now()
	run, err := p.runs.Begin(ctx, notes)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	report := &Report{RunID: run.ID}

	abort := func(err error) (*Report, error) {
		// Record the failure even if ctx is already cancelled.
		if ferr := p.runs.Fail(context.WithoutCancel(ctx), run, err.Error()); ferr != nil {
			slog.Error("pipeline: marking run failed", "run_id", run.ID, "error", ferr)
		}
		report.Duration = p.now().Sub(start)
		return report, err
	}

	msgs, err := p.source.ListEmbeddedMessages(ctx)
	if err != nil {
		return abort(fmt.Errorf("loading messages: %w", err))
	}
	faqRecords, err := p.source.ListEmbeddedFAQs(ctx)
	if err != nil {
		return abort(fmt.Errorf("loading FAQs: %w", err))
	}
	report.Messages, report.FAQs = len(msgs), len(faqRecords)

	if len(msgs) == 0 {
		return abort(fmt.Errorf("%w: no embedded messages", ErrInvalidInput))
	}
	items := toItems(msgs)
	dim, err := cluster.Validate(items)
	if err != nil {
		return abort(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	faqs := toFAQs(faqRecords, dim)
	if len(faqs) == 0 {
		return abort(fmt.Errorf("%w: %w: %d embedded FAQs, none of dimension %d",
			ErrInvalidInput, matching.ErrNoCandidateFAQs, len(faqRecords), dim))
	}

	res, err := p.clusterer.Cluster(items)
	if err != nil {
		return abort(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	report.Clusters, report.Noise = len(res.Clusters), res.Noise
	if len(res.Clusters) == 0 {
		return abort(fmt.Errorf("%w: all %d messages are noise", ErrNoClusters, len(items)))
	}
	slog.Info("clustering complete", "run_id", run.ID, "clusters", len(res.Clusters), "noise", res.Noise)

	if err := p.runs.Clustered(ctx, run, p.project(res), memberships(run.ID, res)); err != nil {
		return abort(fmt.Errorf("recording clusters: %w", err))
	}

	centroids := make(map[int][]float32, len(res.Clusters))
	for _, c := range res.Clusters {
		centroids[c.Label] = c.Centroid
	}
	matches, err := matching.MatchCentroids(centroids, faqs)
	if err != nil {
		return abort(fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	if err := p.runs.Matched(ctx, run); err != nil {
		return abort(fmt.Errorf("recording matches: %w", err))
	}

	selector := matching.NewSelector(faqs, p.cfg.TopCandidates, p.reranker)
	outcomes := p.processAll(ctx, res.Clusters, matches, selector)
	if err := ctx.Err(); err != nil {
		return abort(fmt.Errorf("run cancelled: %w", err))
	}

	results := make([]storage.ClusterResult, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			slog.Error("pipeline: cluster skipped", "run_id", run.ID, "cluster", o.Err.Label, "error", o.Err.Err)
			report.Failures = append(report.Failures, *o.Err)
			continue
		}
		o.Result.RunID = run.ID
		results = append(results, o.Result)
	}

	if err := p.runs.Scored(ctx, run); err != nil {
		return abort(fmt.Errorf("recording scores: %w", err))
	}
	if err := p.runs.Persist(ctx, run, results); err != nil {
		return abort(fmt.Errorf("persisting results: %w", err))
	}
	report.Persisted = len(results)
	report.Duration = p.now().Sub(start)
	return report, nil
}

// processAll runs processCluster for every cluster on a bounded pool.
// Outcomes are index-aligned with clusters.
func (p *Pipeline) processAll(ctx context.Context, clusters []cluster.Cluster, matches map[int]matching.Match, sel *matching.Selector) []ClusterOutcome {
	outcomes := make([]ClusterOutcome, len(clusters))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, c := range clusters {
		g.Go(func() error {
			outcomes[i] = p.processCluster(ctx, c, matches[c.Label], sel)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// processCluster analyses one cluster. A panic in a collaborator is turned
// into a ClusterError so the rest of the run proceeds.
func (p *Pipeline) processCluster(ctx context.Context, c cluster.Cluster, match matching.Match, sel *matching.Selector) (out ClusterOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ClusterOutcome{Err: &ClusterError{Label: c.Label, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	fail := func(err error) ClusterOutcome {
		return ClusterOutcome{Err: &ClusterError{Label: c.Label, Err: err}}
	}

	rep := c.Members[0]
	texts := make([]string, len(c.Members))
	for i, m := range c.Members {
		texts[i] = m.Text
	}

	selection, err := sel.Select(ctx, rep.Text, rep.Vector)
	if err != nil {
		return fail(fmt.Errorf("selecting FAQ: %w", err))
	}
	if selection.Fallback {
		slog.Debug("pipeline: rerank fallback", "cluster", c.Label, "reason", selection.Reason)
	}

	score := p.scorer.ScoreResolution(ctx, rep.Text, selection.FAQ.Answer)
	var suggestion *storage.FAQSuggestion
	if scoring.NeedsSuggestion(score.Label) {
		if s := p.scorer.SuggestFAQ(ctx, rep.Text); !s.IsEmpty() {
			suggestion = &storage.FAQSuggestion{Question: s.Question, Answer: s.Answer}
		}
	}
	sentiment := p.scorer.Sentiment(ctx, rep.Text)

	label := p.summarizer.LabelTopic(ctx, texts)
	summary := p.summarizer.Summarize(ctx, texts)
	phrases := p.summarizer.TopicPhrases(ctx, texts, label)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// The first member's timestamp anchors the cluster in time.
	anchor := p.now()
	if rep.CreatedAt != nil && !rep.CreatedAt.IsZero() {
		anchor = *rep.CreatedAt
	}

	return ClusterOutcome{Result: storage.ClusterResult{
		ClusterLabel:       c.Label,
		MessageCount:       len(c.Members),
		RepresentativeText: rep.Text,
		MatchedFAQID:       match.FAQID,
		Similarity:         match.Similarity,
		ScoredFAQID:        selection.FAQ.ID,
		CoverageLabel:      string(score.Label),
		ResolutionScore:    score.Score,
		ResolutionReason:   score.Reason,
		Suggestion:         suggestion,
		Sentiment:          string(sentiment),
		Keywords:           cluster.Keywords(texts, p.cfg.KeywordCount),
		TopicPhrases:       phrases,
		Summary:            summary,
		TopicLabel:         label,
		CreatedAt:          anchor,
	}}
}

// project lays out the clustered items. Failure degrades to an empty map.
func (p *Pipeline) project(res *cluster.Result) []storage.MapPoint {
	var items []cluster.Item
	labels := make(map[string]int)
	for _, c := range res.Clusters {
		for _, m := range c.Members {
			items = append(items, m)
			labels[m.ID] = c.Label
		}
	}

	pts, err := cluster.Project(items, p.cfg.Projection)
	if err != nil {
		slog.Warn("pipeline: projection failed, storing empty cluster map", "error", err)
		return []storage.MapPoint{}
	}
	out := make([]storage.MapPoint, len(pts))
	for i, pt := range pts {
		out[i] = storage.MapPoint{ItemID: pt.ItemID, X: pt.X, Y: pt.Y, ClusterLabel: labels[pt.ItemID]}
	}
	return out
}

func memberships(runID string, res *cluster.Result) []storage.Membership {
	var out []storage.Membership
	for _, c := range res.Clusters {
		for _, m := range c.Members {
			out = append(out, storage.Membership{RunID: runID, ItemID: m.ID, ClusterLabel: c.Label})
		}
	}
	return out
}

func toItems(msgs []storage.Message) []cluster.Item {
	items := make([]cluster.Item, len(msgs))
	for i, m := range msgs {
		items[i] = cluster.Item{ID: m.ID, Text: m.Text, Vector: m.Embedding, CreatedAt: m.CreatedAt}
	}
	return items
}

// toFAQs keeps the FAQs whose embedding matches dim.
func toFAQs(records []storage.FAQ, dim int) []matching.FAQ {
	out := make([]matching.FAQ, 0, len(records))
	for _, f := range records {
		if len(f.Embedding) != dim {
			slog.Warn("pipeline: skipping FAQ with mismatched embedding", "faq_id", f.ID, "dim", len(f.Embedding), "expected", dim)
			continue
		}
		out = append(out, matching.FAQ{ID: f.ID, Question: f.Question, Answer: f.Answer, Vector: f.Embedding})
	}
	return out
}
