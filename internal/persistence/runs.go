package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BeginRun inserts a new run row in the running state.
func (s *SQLiteStore) BeginRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, model_name, slots, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.ModelName, run.Slots, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stamps a run's final status and finish time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// SaveIteration records one iteration's outcome (completed or aborted).
func (s *SQLiteStore) SaveIteration(ctx context.Context, it IterationRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO iterations (run_id, itno, duration_ms, status) VALUES (?, ?, ?, ?)`,
		it.RunID, it.Iteration, it.DurationMS, it.Status)
	if err != nil {
		return fmt.Errorf("saving iteration %d of run %s: %w", it.Iteration, it.RunID, err)
	}
	return nil
}

// SaveTaskRun records one task completion or failure.
func (s *SQLiteStore) SaveTaskRun(ctx context.Context, tr TaskRun) error {
	var taskErr sql.NullString
	if tr.Error != "" {
		taskErr = sql.NullString{String: tr.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (run_id, itno, task_id, kind, parent_name, name, level, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.RunID, tr.Iteration, tr.TaskID, tr.Kind, tr.ParentName, tr.Name, tr.Level, taskErr)
	if err != nil {
		return fmt.Errorf("saving task run %d: %w", tr.TaskID, err)
	}
	return nil
}

// ListTaskRuns returns the task records of one iteration in insertion order.
func (s *SQLiteStore) ListTaskRuns(ctx context.Context, runID string, iteration int) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, itno, task_id, kind, parent_name, name, level, error
		 FROM task_runs WHERE run_id = ? AND itno = ? ORDER BY id`,
		runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("listing task runs: %w", err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		var tr TaskRun
		var taskErr sql.NullString
		if err := rows.Scan(&tr.RunID, &tr.Iteration, &tr.TaskID, &tr.Kind,
			&tr.ParentName, &tr.Name, &tr.Level, &taskErr); err != nil {
			return nil, err
		}
		tr.Error = taskErr.String
		out = append(out, tr)
	}
	return out, rows.Err()
}
