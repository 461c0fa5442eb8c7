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

const taskColumns = `id, swim_lane_id, description, details, target_role, priority, status, kanban_column,
	auto_start, auto_pilot, auto_close, use_worktree, ai_provider, ai_model,
	depends_on, parent_task_id, subtask_ids, assigned_agent_id, pipeline_stage_id,
	worktree_path, signal_id, output, error_message, verification_status,
	tmux_session_name, tmux_window_index, tmux_pane_index, tmux_runtime_id,
	done_at, created_at, started_at, completed_at`

// CreateTask inserts a new task and fires task.updated. Defaults are filled
// for id, status, column, priority and verification status.
func (s *Store) CreateTask(ctx context.Context, task *v1.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = v1.TaskPending
	}
	if task.KanbanColumn == "" {
		task.KanbanColumn = v1.ColumnBacklog
	}
	if task.Priority == 0 {
		task.Priority = 5
	}
	if task.VerificationStatus == "" {
		task.VerificationStatus = v1.VerificationNone
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = v1.Now()
	}

	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), taskValues(task)...)
	if err != nil {
		return err
	}
	s.publish(ctx, events.TaskUpdated, map[string]interface{}{"task": task})
	return nil
}

// SaveTask persists all mutable fields of an existing task and fires
// task.updated.
func (s *Store) SaveTask(ctx context.Context, task *v1.Task) error {
	if err := s.updateTask(ctx, task); err != nil {
		return err
	}
	s.publish(ctx, events.TaskUpdated, map[string]interface{}{"task": task})
	return nil
}

// SaveTaskQuiet persists a task without firing any event. Used by callers
// that fire their own, more specific event for the same write.
func (s *Store) SaveTaskQuiet(ctx context.Context, task *v1.Task) error {
	return s.updateTask(ctx, task)
}

// FinishAutoClose persists a task whose window was summarised and torn down,
// firing task.autoclose.completed instead of task.updated.
func (s *Store) FinishAutoClose(ctx context.Context, task *v1.Task) error {
	if err := s.updateTask(ctx, task); err != nil {
		return err
	}
	s.publish(ctx, events.TaskAutoCloseComplete, map[string]interface{}{"task": task})
	return nil
}

func (s *Store) updateTask(ctx context.Context, task *v1.Task) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE tasks SET swim_lane_id = ?, description = ?, details = ?, target_role = ?, priority = ?,
			status = ?, kanban_column = ?, auto_start = ?, auto_pilot = ?, auto_close = ?, use_worktree = ?,
			ai_provider = ?, ai_model = ?, depends_on = ?, parent_task_id = ?, subtask_ids = ?,
			assigned_agent_id = ?, pipeline_stage_id = ?, worktree_path = ?, signal_id = ?,
			output = ?, error_message = ?, verification_status = ?,
			tmux_session_name = ?, tmux_window_index = ?, tmux_pane_index = ?, tmux_runtime_id = ?,
			done_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`), append(taskValues(task)[1:29], int64PtrToCol(task.StartedAt), int64PtrToCol(task.CompletedAt), task.ID)...)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("task", task.ID)
	}
	return nil
}

// MoveTask changes the kanban column. Moving into done stamps doneAt once
// and fires task.completed; moving back out clears doneAt again. Any other
// move fires task.moved. A move to the current column is a no-op with no
// event.
func (s *Store) MoveTask(ctx context.Context, id string, column v1.KanbanColumn) (*v1.Task, error) {
	if !v1.ValidColumn(column) {
		return nil, apperrors.InvalidField("kanbanColumn", string(column))
	}
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.KanbanColumn == column {
		return task, nil
	}

	task.KanbanColumn = column
	eventType := events.TaskMoved
	if column == v1.ColumnDone {
		if task.DoneAt == nil {
			now := v1.Now()
			task.DoneAt = &now
			eventType = events.TaskCompleted
		}
		if task.Status == v1.TaskInProgress || task.Status == v1.TaskAssigned || task.Status == v1.TaskPending {
			task.Status = v1.TaskCompleted
		}
		if task.CompletedAt == nil {
			now := v1.Now()
			task.CompletedAt = &now
		}
	} else {
		task.DoneAt = nil
	}
	if err := s.updateTask(ctx, task); err != nil {
		return nil, err
	}
	s.publish(ctx, eventType, map[string]interface{}{"task": task})
	return task, nil
}

// DeleteTask removes a task and fires task.deleted.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("task", id)
	}
	s.publish(ctx, events.TaskDeleted, map[string]interface{}{"taskId": id})
	return nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	return task, err
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
}

// ListTasksByLane returns the tasks of one swim-lane.
func (s *Store) ListTasksByLane(ctx context.Context, laneID string) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE swim_lane_id = ? ORDER BY created_at DESC`, laneID)
}

// ListTasksByStatus returns tasks in the given status, oldest first so queue
// consumers see submission order.
func (s *Store) ListTasksByStatus(ctx context.Context, status v1.TaskStatus) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// ListTasksByStage returns tasks generated for one pipeline stage.
func (s *Store) ListTasksByStage(ctx context.Context, stageID string) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE pipeline_stage_id = ? ORDER BY created_at ASC`, stageID)
}

// ListBoundTasks returns tasks that hold a pane binding.
func (s *Store) ListBoundTasks(ctx context.Context) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE tmux_session_name != '' ORDER BY created_at ASC`)
}

// ListTasksByColumn returns tasks in a kanban column.
func (s *Store) ListTasksByColumn(ctx context.Context, column v1.KanbanColumn) ([]*v1.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE kanban_column = ? ORDER BY created_at ASC`, string(column))
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*v1.Task, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, r.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*v1.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func taskValues(t *v1.Task) []interface{} {
	return []interface{}{
		t.ID, nullIfEmpty(t.SwimLaneID), t.Description, t.Details, t.TargetRole, t.Priority,
		string(t.Status), string(t.KanbanColumn),
		flagToCol(t.AutoStart), flagToCol(t.AutoPilot), flagToCol(t.AutoClose), flagToCol(t.UseWorktree),
		t.AIProvider, t.AIModel,
		jsonText(t.DependsOn), t.ParentTaskID, jsonText(t.SubtaskIDs), t.AssignedAgentID, t.PipelineStageID,
		t.WorktreePath, t.SignalID, t.Output, t.ErrorMessage, string(t.VerificationStatus),
		t.TmuxSessionName, intPtrToCol(t.TmuxWindowIndex), intPtrToCol(t.TmuxPaneIndex), t.TmuxRuntimeID,
		int64PtrToCol(t.DoneAt), t.CreatedAt, int64PtrToCol(t.StartedAt), int64PtrToCol(t.CompletedAt),
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*v1.Task, error) {
	task := &v1.Task{}
	var (
		laneID                             sql.NullString
		autoStart, autoPilot               sql.NullInt64
		autoClose, useWorktree             sql.NullInt64
		dependsOn, subtaskIDs              string
		windowIndex, paneIndex             sql.NullInt64
		doneAt, startedAt, completedAt     sql.NullInt64
		status, column, verificationStatus string
	)
	err := row.Scan(
		&task.ID, &laneID, &task.Description, &task.Details, &task.TargetRole, &task.Priority,
		&status, &column,
		&autoStart, &autoPilot, &autoClose, &useWorktree,
		&task.AIProvider, &task.AIModel,
		&dependsOn, &task.ParentTaskID, &subtaskIDs, &task.AssignedAgentID, &task.PipelineStageID,
		&task.WorktreePath, &task.SignalID, &task.Output, &task.ErrorMessage, &verificationStatus,
		&task.TmuxSessionName, &windowIndex, &paneIndex, &task.TmuxRuntimeID,
		&doneAt, &task.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	task.SwimLaneID = laneID.String
	task.Status = v1.TaskStatus(status)
	task.KanbanColumn = v1.KanbanColumn(column)
	task.VerificationStatus = v1.VerificationStatus(verificationStatus)
	task.AutoStart = colToFlag(autoStart)
	task.AutoPilot = colToFlag(autoPilot)
	task.AutoClose = colToFlag(autoClose)
	task.UseWorktree = colToFlag(useWorktree)
	task.TmuxWindowIndex = colToIntPtr(windowIndex)
	task.TmuxPaneIndex = colToIntPtr(paneIndex)
	task.DoneAt = colToInt64Ptr(doneAt)
	task.StartedAt = colToInt64Ptr(startedAt)
	task.CompletedAt = colToInt64Ptr(completedAt)
	fromJSONText(dependsOn, &task.DependsOn)
	fromJSONText(subtaskIDs, &task.SubtaskIDs)
	return task, nil
}
