package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/events"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

const laneColumns = `id, name, runtime_id, working_dir, session_name, session_active,
	context_instructions, ai_provider, model, memory_file_id,
	auto_start, auto_pilot, auto_close, use_worktree, created_at`

// SaveSwimLane inserts or updates a lane and fires lane.updated.
func (s *Store) SaveSwimLane(ctx context.Context, lane *v1.SwimLane) error {
	if lane.ID == "" {
		lane.ID = uuid.New().String()
	}
	if lane.CreatedAt == 0 {
		lane.CreatedAt = v1.Now()
	}
	if lane.SessionName == "" {
		lane.SessionName = lane.Name
	}

	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE swim_lanes SET name = ?, runtime_id = ?, working_dir = ?, session_name = ?, session_active = ?,
			context_instructions = ?, ai_provider = ?, model = ?, memory_file_id = ?,
			auto_start = ?, auto_pilot = ?, auto_close = ?, use_worktree = ?
		WHERE id = ?
	`), lane.Name, lane.RuntimeID, lane.WorkingDir, lane.SessionName, boolCol(lane.SessionActive),
		lane.ContextInstructions, lane.AIProvider, lane.Model, lane.MemoryFileID,
		flagToCol(lane.AutoStart), flagToCol(lane.AutoPilot), flagToCol(lane.AutoClose), flagToCol(lane.UseWorktree),
		lane.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO swim_lanes (`+laneColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), lane.ID, lane.Name, lane.RuntimeID, lane.WorkingDir, lane.SessionName, boolCol(lane.SessionActive),
			lane.ContextInstructions, lane.AIProvider, lane.Model, lane.MemoryFileID,
			flagToCol(lane.AutoStart), flagToCol(lane.AutoPilot), flagToCol(lane.AutoClose), flagToCol(lane.UseWorktree),
			lane.CreatedAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.LaneUpdated, map[string]interface{}{"lane": lane})
	return nil
}

// DeleteSwimLane removes a lane, detaches its tasks (swim_lane_id set to
// NULL) and fires lane.deleted. Killing the underlying session is the
// orchestrator's job, not the store's.
func (s *Store) DeleteSwimLane(ctx context.Context, id string) error {
	w := s.pool.Writer()
	tx, err := w.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, w.Rebind(`DELETE FROM swim_lanes WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_ = tx.Rollback()
		return apperrors.NotFound("swimLane", id)
	}
	if _, err := tx.ExecContext(ctx, w.Rebind(`UPDATE tasks SET swim_lane_id = NULL WHERE swim_lane_id = ?`), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.publish(ctx, events.LaneDeleted, map[string]interface{}{"laneId": id})
	return nil
}

// GetSwimLane returns one lane by id.
func (s *Store) GetSwimLane(ctx context.Context, id string) (*v1.SwimLane, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT `+laneColumns+` FROM swim_lanes WHERE id = ?`), id)
	lane, err := scanLane(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("swimLane", id)
	}
	return lane, err
}

// ListSwimLanes returns all lanes in creation order.
func (s *Store) ListSwimLanes(ctx context.Context) ([]*v1.SwimLane, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, `SELECT `+laneColumns+` FROM swim_lanes ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lanes []*v1.SwimLane
	for rows.Next() {
		lane, err := scanLane(rows)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

func scanLane(row rowScanner) (*v1.SwimLane, error) {
	lane := &v1.SwimLane{}
	var (
		sessionActive                                int
		autoStart, autoPilot, autoClose, useWorktree sql.NullInt64
	)
	err := row.Scan(
		&lane.ID, &lane.Name, &lane.RuntimeID, &lane.WorkingDir, &lane.SessionName, &sessionActive,
		&lane.ContextInstructions, &lane.AIProvider, &lane.Model, &lane.MemoryFileID,
		&autoStart, &autoPilot, &autoClose, &useWorktree, &lane.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	lane.SessionActive = sessionActive != 0
	lane.AutoStart = colToFlag(autoStart)
	lane.AutoPilot = colToFlag(autoPilot)
	lane.AutoClose = colToFlag(autoClose)
	lane.UseWorktree = colToFlag(useWorktree)
	return lane, nil
}

func boolCol(b bool) int {
	if b {
		return 1
	}
	return 0
}
