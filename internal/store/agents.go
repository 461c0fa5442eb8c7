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

const agentColumns = `id, role, provider, model, runtime_id, session_name, window_index, pane_index,
	state, team_id, current_task_id, expertise, error_message, created_at, last_activity_at`

// SaveAgent inserts or updates an agent and fires agent.updated. The binding
// uniqueness invariant (one non-terminal agent per pane) is checked on insert.
func (s *Store) SaveAgent(ctx context.Context, agent *v1.Agent) error {
	isNew := agent.ID == ""
	if isNew {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt == 0 {
		agent.CreatedAt = v1.Now()
	}
	agent.LastActivityAt = v1.Now()

	w := s.pool.Writer()
	if isNew && !agent.State.Terminal() {
		var count int
		err := s.pool.Reader().QueryRowContext(ctx, s.pool.Reader().Rebind(`
			SELECT COUNT(*) FROM agents
			WHERE runtime_id = ? AND session_name = ? AND window_index = ? AND pane_index = ?
			  AND state NOT IN ('completed', 'terminated')
		`), agent.RuntimeID, agent.SessionName, agent.WindowIndex, agent.PaneIndex).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return apperrors.Conflict("an active agent already occupies this pane")
		}
	}

	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE agents SET role = ?, provider = ?, model = ?, runtime_id = ?, session_name = ?,
			window_index = ?, pane_index = ?, state = ?, team_id = ?, current_task_id = ?,
			expertise = ?, error_message = ?, last_activity_at = ?
		WHERE id = ?
	`), string(agent.Role), agent.Provider, agent.Model, agent.RuntimeID, agent.SessionName,
		agent.WindowIndex, agent.PaneIndex, string(agent.State), agent.TeamID, agent.CurrentTaskID,
		jsonText(agent.Expertise), agent.ErrorMessage, agent.LastActivityAt, agent.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), agent.ID, string(agent.Role), agent.Provider, agent.Model, agent.RuntimeID, agent.SessionName,
			agent.WindowIndex, agent.PaneIndex, string(agent.State), agent.TeamID, agent.CurrentTaskID,
			jsonText(agent.Expertise), agent.ErrorMessage, agent.CreatedAt, agent.LastActivityAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.AgentUpdated, map[string]interface{}{"agent": agent})
	return nil
}

// DeleteAgent removes an agent record and fires agent.deleted.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("agent", id)
	}
	s.publish(ctx, events.AgentDeleted, map[string]interface{}{"agentId": id})
	return nil
}

// GetAgent returns one agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*v1.Agent, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent", id)
	}
	return agent, err
}

// ListAgents returns all agents in creation order.
func (s *Store) ListAgents(ctx context.Context) ([]*v1.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC`)
}

// ListActiveAgents returns agents in non-terminal states.
func (s *Store) ListActiveAgents(ctx context.Context) ([]*v1.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE state NOT IN ('completed', 'terminated') ORDER BY created_at ASC`)
}

// ListAgentsByTeam returns the agents of one team.
func (s *Store) ListAgentsByTeam(ctx context.Context, teamID string) ([]*v1.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE team_id = ? ORDER BY created_at ASC`, teamID)
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*v1.Agent, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, r.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*v1.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(row rowScanner) (*v1.Agent, error) {
	agent := &v1.Agent{}
	var role, state, expertise string
	err := row.Scan(
		&agent.ID, &role, &agent.Provider, &agent.Model, &agent.RuntimeID, &agent.SessionName,
		&agent.WindowIndex, &agent.PaneIndex, &state, &agent.TeamID, &agent.CurrentTaskID,
		&expertise, &agent.ErrorMessage, &agent.CreatedAt, &agent.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	agent.Role = v1.AgentRole(role)
	agent.State = v1.AgentState(state)
	fromJSONText(expertise, &agent.Expertise)
	return agent, nil
}

// SaveAgentMessage appends a side-channel message and fires agent.message.
func (s *Store) SaveAgentMessage(ctx context.Context, msg *v1.AgentMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = v1.Now()
	}
	w := s.pool.Writer()
	_, err := w.ExecContext(ctx, w.Rebind(`
		INSERT INTO agent_messages (id, from_agent, to_agent, content, ts, read)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.New().String(), msg.From, msg.To, msg.Content, msg.Timestamp, db.BoolToInt(msg.Read))
	if err != nil {
		return err
	}
	s.publish(ctx, events.AgentMessage, map[string]interface{}{"message": msg})
	return nil
}

// ListAgentMessages returns messages addressed to an agent, oldest first,
// and marks them read.
func (s *Store) ListAgentMessages(ctx context.Context, agentID string, unreadOnly bool) ([]*v1.AgentMessage, error) {
	r := s.pool.Reader()
	query := `SELECT from_agent, to_agent, content, ts, read FROM agent_messages WHERE to_agent = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY ts ASC`
	rows, err := r.QueryContext(ctx, r.Rebind(query), agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*v1.AgentMessage
	for rows.Next() {
		msg := &v1.AgentMessage{}
		var read int
		if err := rows.Scan(&msg.From, &msg.To, &msg.Content, &msg.Timestamp, &read); err != nil {
			return nil, err
		}
		msg.Read = read != 0
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	w := s.pool.Writer()
	if _, err := w.ExecContext(ctx, w.Rebind(`UPDATE agent_messages SET read = 1 WHERE to_agent = ?`), agentID); err != nil {
		return nil, err
	}
	return msgs, nil
}
