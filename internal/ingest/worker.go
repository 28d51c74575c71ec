package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/faqscope/internal/pipeline"
	"github.com/kalambet/faqscope/internal/storage"
)

// Job types handled by Worker.
const (
	JobEmbedPending = "embed_pending"
	JobClusterRun   = "cluster_run"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, notes string) (*pipeline.Report, error)
}

// EmbedFunc embeds all pending records.
type EmbedFunc func(ctx context.Context) (EmbedStats, error)

// ClusterRunPayload is the payload of a cluster_run job.
type ClusterRunPayload struct {
	Notes string `json:"notes,omitempty"`
	// EmbedFirst embeds pending records before the run starts.
	EmbedFirst bool `json:"embed_first,omitempty"`
}

// EnqueueClusterRun queues a pipeline run and returns the job id.
func EnqueueClusterRun(ctx context.Context, store JobStore, p ClusterRunPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: JobClusterRun, PayloadJSON: string(data)}); err != nil {
		return "", fmt.Errorf("enqueueing cluster run: %w", err)
	}
	return id, nil
}

// EnqueueEmbedPending queues an embedding pass and returns the job id.
func EnqueueEmbedPending(ctx context.Context, store JobStore) (string, error) {
	id := uuid.New().String()
	if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: JobEmbedPending}); err != nil {
		return "", fmt.Errorf("enqueueing embedding pass: %w", err)
	}
	return id, nil
}

// Worker processes embed_pending and cluster_run jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	embed  EmbedFunc
	runner Runner
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embed EmbedFunc, runner Runner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		embed:  embed,
		runner: runner,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobEmbedPending, JobClusterRun})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobEmbedPending:
		stats, err := w.embed(ctx)
		if err != nil {
			return fmt.Errorf("embedding pending records: %w", err)
		}
		w.logger.Info("embedding pass complete", "job_id", job.ID, "messages", stats.Messages, "faqs", stats.FAQs, "skipped", stats.Skipped)
		return nil

	case JobClusterRun:
		var payload ClusterRunPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if payload.EmbedFirst {
			if _, err := w.embed(ctx); err != nil {
				return fmt.Errorf("embedding before run: %w", err)
			}
		}
		report, err := w.runner.Run(ctx, payload.Notes)
		// Input problems are recorded on the failed run; retrying cannot help.
		if errors.Is(err, pipeline.ErrInvalidInput) || errors.Is(err, pipeline.ErrNoClusters) {
			w.logger.Warn("cluster run aborted", "job_id", job.ID, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}
		w.logger.Info("cluster run complete", "job_id", job.ID, "run_id", report.RunID, "clusters", report.Persisted)
		return nil

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
