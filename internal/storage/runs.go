package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrStateConflict is returned when a run is not in the state a transition expects.
var ErrStateConflict = errors.New("run state conflict")

// CreateRun inserts a new run. CreatedAt defaults to now and State to RunNew.
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	if run.State == "" {
		run.State = RunNew
	}
	run.UpdatedAt = run.CreatedAt
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cluster_runs (id, created_at, updated_at, notes, state)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, formatTime(run.CreatedAt), formatTime(run.UpdatedAt), run.Notes, run.State,
	)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunState moves a run from one state to another. The update only
// applies when the stored state equals from; otherwise ErrStateConflict.
func (s *Store) UpdateRunState(ctx context.Context, id string, from, to RunState, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cluster_runs SET state = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		to, reason, formatTime(s.now()), id, from,
	)
	if err != nil {
		return fmt.Errorf("updating run %s state: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current RunState
	err = s.db.QueryRowContext(ctx, `SELECT state FROM cluster_runs WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s, expected %s", ErrStateConflict, id, current, from)
}

// SaveClusterMap attaches the 2-D projection to a run.
func (s *Store) SaveClusterMap(ctx context.Context, runID string, points []MapPoint) error {
	if points == nil {
		points = []MapPoint{}
	}
	data, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encoding cluster map: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE cluster_runs SET cluster_map = ?, updated_at = ? WHERE id = ?`,
		string(data), formatTime(s.now()), runID)
	if err != nil {
		return fmt.Errorf("saving cluster map for run %s: %w", runID, err)
	}
	return expectOneRow(res)
}

// SaveMemberships records which items belong to which cluster for a run.
func (s *Store) SaveMemberships(ctx context.Context, runID string, members []Membership) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning membership transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cluster_members (run_id, item_id, cluster_label) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing membership insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range members {
		if _, err := stmt.ExecContext(ctx, runID, m.ItemID, m.ClusterLabel); err != nil {
			return fmt.Errorf("inserting membership %s: %w", m.ItemID, err)
		}
	}
	return tx.Commit()
}

// SaveClusterResults writes all result rows for a run in one transaction.
func (s *Store) SaveClusterResults(ctx context.Context, runID string, results []ClusterResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning results transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cluster_results (
			run_id, cluster_label, message_count, representative_text, matched_faq_id, similarity,
			scored_faq_id, coverage_label, resolution_score, resolution_reason, faq_suggestion,
			sentiment, keywords, topic_phrases, summary, topic_label, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing result insert: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, r := range results {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		keywords, err := marshalStrings(r.Keywords)
		if err != nil {
			return err
		}
		phrases, err := marshalStrings(r.TopicPhrases)
		if err != nil {
			return err
		}
		var suggestion sql.NullString
		if r.Suggestion != nil {
			data, err := json.Marshal(r.Suggestion)
			if err != nil {
				return fmt.Errorf("encoding suggestion: %w", err)
			}
			suggestion = sql.NullString{String: string(data), Valid: true}
		}
		_, err = stmt.ExecContext(ctx,
			runID, r.ClusterLabel, r.MessageCount, r.RepresentativeText, nullString(r.MatchedFAQID), r.Similarity,
			nullString(r.ScoredFAQID), r.CoverageLabel, r.ResolutionScore, r.ResolutionReason, suggestion,
			r.Sentiment, keywords, phrases, r.Summary, r.TopicLabel, formatTime(createdAt),
		)
		if err != nil {
			return fmt.Errorf("inserting result for cluster %d: %w", r.ClusterLabel, err)
		}
	}
	return tx.Commit()
}

// GetRun returns a run by id, including its cluster map.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return run, err
}

// LatestRun returns the most recently created persisted run.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, runSelect+` WHERE state = ? ORDER BY created_at DESC LIMIT 1`, RunPersisted)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return run, err
}

// ListRuns returns runs in any state, newest first. The cluster map is omitted.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, updated_at, notes, state, failure_reason, NULL
		FROM cluster_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListClusterResults returns a run's results ordered by cluster label, with
// member ids attached from the run's memberships.
func (s *Store) ListClusterResults(ctx context.Context, runID string) ([]ClusterResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, cluster_label, message_count, representative_text, matched_faq_id, similarity,
			scored_faq_id, coverage_label, resolution_score, resolution_reason, faq_suggestion,
			sentiment, keywords, topic_phrases, summary, topic_label, created_at
		FROM cluster_results WHERE run_id = ? ORDER BY cluster_label ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing cluster results: %w", err)
	}
	defer rows.Close()

	var results []ClusterResult
	index := make(map[int]int)
	for rows.Next() {
		var r ClusterResult
		var matched, scored, suggestion sql.NullString
		var keywords, phrases, createdAt string
		if err := rows.Scan(&r.RunID, &r.ClusterLabel, &r.MessageCount, &r.RepresentativeText, &matched, &r.Similarity,
			&scored, &r.CoverageLabel, &r.ResolutionScore, &r.ResolutionReason, &suggestion,
			&r.Sentiment, &keywords, &phrases, &r.Summary, &r.TopicLabel, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning cluster result: %w", err)
		}
		r.MatchedFAQID = matched.String
		r.ScoredFAQID = scored.String
		if suggestion.Valid {
			r.Suggestion = &FAQSuggestion{}
			if err := json.Unmarshal([]byte(suggestion.String), r.Suggestion); err != nil {
				return nil, fmt.Errorf("decoding suggestion for cluster %d: %w", r.ClusterLabel, err)
			}
		}
		if err := json.Unmarshal([]byte(keywords), &r.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords for cluster %d: %w", r.ClusterLabel, err)
		}
		if err := json.Unmarshal([]byte(phrases), &r.TopicPhrases); err != nil {
			return nil, fmt.Errorf("decoding topic phrases for cluster %d: %w", r.ClusterLabel, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for cluster %d: %w", r.ClusterLabel, err)
		}
		index[r.ClusterLabel] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	members, err := s.db.QueryContext(ctx, `
		SELECT cm.item_id, cm.cluster_label FROM cluster_members cm
		LEFT JOIN messages m ON m.id = cm.item_id
		WHERE cm.run_id = ? ORDER BY cm.cluster_label, m.rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer members.Close()
	for members.Next() {
		var itemID string
		var label int
		if err := members.Scan(&itemID, &label); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		if i, ok := index[label]; ok {
			results[i].MemberIDs = append(results[i].MemberIDs, itemID)
		}
	}
	return results, members.Err()
}

// PruneRuns deletes all but the newest keep runs. Results and memberships
// are removed by cascade. Returns the number of runs deleted.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be >= 0, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cluster_runs WHERE id NOT IN (
			SELECT id FROM cluster_runs ORDER BY created_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

const runSelect = `SELECT id, created_at, updated_at, notes, state, failure_reason, cluster_map FROM cluster_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var createdAt, updatedAt string
	var clusterMap sql.NullString
	if err := row.Scan(&run.ID, &createdAt, &updatedAt, &run.Notes, &run.State, &run.FailureReason, &clusterMap); err != nil {
		return Run{}, err
	}
	var err error
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return Run{}, fmt.Errorf("parsing created_at for run %s: %w", run.ID, err)
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Run{}, fmt.Errorf("parsing updated_at for run %s: %w", run.ID, err)
	}
	if clusterMap.Valid && clusterMap.String != "" {
		if err := json.Unmarshal([]byte(clusterMap.String), &run.ClusterMap); err != nil {
			return Run{}, fmt.Errorf("decoding cluster map for run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding string list: %w", err)
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
