package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/faqscope/internal/storage"
)

// ErrInvalidTransition is returned when a run is asked to skip or repeat a state.
var ErrInvalidTransition = errors.New("invalid run state transition")

// RunStore persists runs and their outputs.
type RunStore interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	UpdateRunState(ctx context.Context, id string, from, to storage.RunState, reason string) error
	SaveClusterMap(ctx context.Context, runID string, points []storage.MapPoint) error
	SaveMemberships(ctx context.Context, runID string, members []storage.Membership) error
	SaveClusterResults(ctx context.Context, runID string, results []storage.ClusterResult) error
}

// next lists the forward transition out of each non-terminal state.
var next = map[storage.RunState]storage.RunState{
	storage.RunNew:       storage.RunClustered,
	storage.RunClustered: storage.RunMatched,
	storage.RunMatched:   storage.RunScored,
	storage.RunScored:    storage.RunPersisted,
}

// RunManager drives a run through new, clustered, matched, scored and
// persisted. Any non-terminal run may instead be marked failed. Previous runs
// are never touched.
type RunManager struct {
	store RunStore
	newID func() string
}

// NewRunManager returns a RunManager writing to store.
func NewRunManager(store RunStore) *RunManager {
	return &RunManager{store: store, newID: uuid.NewString}
}

// Begin creates a run in state new. This is the single write that precedes
// all per-cluster work.
func (m *RunManager) Begin(ctx context.Context, notes string) (*storage.Run, error) {
	run := &storage.Run{ID: m.newID(), Notes: notes, State: storage.RunNew}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	slog.Info("run started", "run_id", run.ID)
	return run, nil
}

// Clustered attaches the projection and memberships and moves the run to clustered.
func (m *RunManager) Clustered(ctx context.Context, run *storage.Run, points []storage.MapPoint, members []storage.Membership) error {
	if err := m.check(run, storage.RunClustered); err != nil {
		return err
	}
	if err := m.store.SaveClusterMap(ctx, run.ID, points); err != nil {
		return err
	}
	if err := m.store.SaveMemberships(ctx, run.ID, members); err != nil {
		return err
	}
	run.ClusterMap = points
	return m.advance(ctx, run, storage.RunClustered, "")
}

// Matched moves the run to matched once every cluster has a centroid match.
func (m *RunManager) Matched(ctx context.Context, run *storage.Run) error {
	if err := m.check(run, storage.RunMatched); err != nil {
		return err
	}
	return m.advance(ctx, run, storage.RunMatched, "")
}

// Scored moves the run to scored once every cluster has been processed.
func (m *RunManager) Scored(ctx context.Context, run *storage.Run) error {
	if err := m.check(run, storage.RunScored); err != nil {
		return err
	}
	return m.advance(ctx, run, storage.RunScored, "")
}

// Persist writes the result rows and moves the run to its terminal
// persisted state.
func (m *RunManager) Persist(ctx context.Context, run *storage.Run, results []storage.ClusterResult) error {
	if err := m.check(run, storage.RunPersisted); err != nil {
		return err
	}
	if err := m.store.SaveClusterResults(ctx, run.ID, results); err != nil {
		return err
	}
	if err := m.advance(ctx, run, storage.RunPersisted, ""); err != nil {
		return err
	}
	slog.Info("run persisted", "run_id", run.ID, "clusters", len(results))
	return nil
}

// Fail marks a non-terminal run as failed with reason.
func (m *RunManager) Fail(ctx context.Context, run *storage.Run, reason string) error {
	if run.State == storage.RunPersisted || run.State == storage.RunFailed {
		return fmt.Errorf("%w: run %s is already %s", ErrInvalidTransition, run.ID, run.State)
	}
	if err := m.advance(ctx, run, storage.RunFailed, reason); err != nil {
		return err
	}
	run.FailureReason = reason
	slog.Warn("run failed", "run_id", run.ID, "reason", reason)
	return nil
}

func (m *RunManager) check(run *storage.Run, to storage.RunState) error {
	if next[run.State] != to {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, run.State, to)
	}
	return nil
}

func (m *RunManager) advance(ctx context.Context, run *storage.Run, to storage.RunState, reason string) error {
	if err := m.store.UpdateRunState(ctx, run.ID, run.State, to, reason); err != nil {
		return fmt.Errorf("moving run %s to %s: %w", run.ID, to, err)
	}
	run.State = to
	return nil
}
