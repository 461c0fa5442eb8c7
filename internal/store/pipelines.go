package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// SavePipeline inserts or updates a pipeline and fires pipeline.updated.
// Stage DAG validation belongs to the pipeline engine, not here.
func (s *Store) SavePipeline(ctx context.Context, p *v1.Pipeline) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := v1.Now()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE pipelines SET name = ?, stages = ?, built_in = ?, updated_at = ? WHERE id = ?
	`), p.Name, jsonText(p.Stages), db.BoolToInt(p.BuiltIn), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO pipelines (id, name, stages, built_in, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		`), p.ID, p.Name, jsonText(p.Stages), db.BoolToInt(p.BuiltIn), p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.PipelineUpdated, map[string]interface{}{"pipeline": p})
	return nil
}

// DeletePipeline removes a pipeline and fires pipeline.deleted.
func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM pipelines WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("pipeline", id)
	}
	s.publish(ctx, events.PipelineDeleted, map[string]interface{}{"pipelineId": id})
	return nil
}

// GetPipeline returns one pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*v1.Pipeline, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT id, name, stages, built_in, created_at, updated_at FROM pipelines WHERE id = ?`), id)
	p, err := scanPipeline(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("pipeline", id)
	}
	return p, err
}

// ListPipelines returns all pipelines in creation order.
func (s *Store) ListPipelines(ctx context.Context) ([]*v1.Pipeline, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, `SELECT id, name, stages, built_in, created_at, updated_at FROM pipelines ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []*v1.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

func scanPipeline(row rowScanner) (*v1.Pipeline, error) {
	p := &v1.Pipeline{}
	var stages string
	var builtIn int
	if err := row.Scan(&p.ID, &p.Name, &stages, &builtIn, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.BuiltIn = builtIn != 0
	fromJSONText(stages, &p.Stages)
	return p, nil
}

// SavePipelineRun inserts or updates a run. A brand new run fires
// pipeline.run.started; subsequent saves fire pipeline.run.updated.
func (s *Store) SavePipelineRun(ctx context.Context, run *v1.PipelineRun) error {
	isNew := run.ID == ""
	if isNew {
		run.ID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = v1.Now()
	}
	if run.StageResults == nil {
		run.StageResults = map[string]*v1.StageResult{}
	}

	w := s.pool.Writer()
	eventType := events.PipelineRunUpdated
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE pipeline_runs SET pipeline_id = ?, status = ?, stage_results = ?, completed_at = ? WHERE id = ?
	`), run.PipelineID, string(run.Status), jsonText(run.StageResults), int64PtrToCol(run.CompletedAt), run.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		eventType = events.PipelineRunStarted
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO pipeline_runs (id, pipeline_id, status, stage_results, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), run.ID, run.PipelineID, string(run.Status), jsonText(run.StageResults), run.StartedAt, int64PtrToCol(run.CompletedAt))
		if err != nil {
			return err
		}
	}
	s.publish(ctx, eventType, map[string]interface{}{"run": run})
	return nil
}

// GetPipelineRun returns one run by id.
func (s *Store) GetPipelineRun(ctx context.Context, id string) (*v1.PipelineRun, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT id, pipeline_id, status, stage_results, started_at, completed_at FROM pipeline_runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("pipelineRun", id)
	}
	return run, err
}

// ListPipelineRuns returns runs, newest first, optionally filtered by pipeline.
func (s *Store) ListPipelineRuns(ctx context.Context, pipelineID string) ([]*v1.PipelineRun, error) {
	r := s.pool.Reader()
	query := `SELECT id, pipeline_id, status, stage_results, started_at, completed_at FROM pipeline_runs`
	args := []interface{}{}
	if pipelineID != "" {
		query += ` WHERE pipeline_id = ?`
		args = append(args, pipelineID)
	}
	query += ` ORDER BY started_at DESC`
	rows, err := r.QueryContext(ctx, r.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*v1.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListActivePipelineRuns returns runs in running or paused status.
func (s *Store) ListActivePipelineRuns(ctx context.Context) ([]*v1.PipelineRun, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, `SELECT id, pipeline_id, status, stage_results, started_at, completed_at FROM pipeline_runs WHERE status IN ('running', 'paused') ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*v1.PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*v1.PipelineRun, error) {
	run := &v1.PipelineRun{}
	var status, stageResults string
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.PipelineID, &status, &stageResults, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = v1.RunStatus(status)
	run.CompletedAt = colToInt64Ptr(completedAt)
	run.StageResults = map[string]*v1.StageResult{}
	fromJSONText(stageResults, &run.StageResults)
	return run, nil
}
