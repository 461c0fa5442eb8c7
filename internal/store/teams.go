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

// SaveTeam inserts or updates a team and fires team.updated. Agents are held
// as id references only.
func (s *Store) SaveTeam(ctx context.Context, team *v1.Team) error {
	if team.ID == "" {
		team.ID = uuid.New().String()
	}
	if team.CreatedAt == 0 {
		team.CreatedAt = v1.Now()
	}

	w := s.pool.Writer()
	result, err := w.ExecContext(ctx, w.Rebind(`
		UPDATE teams SET name = ?, agent_ids = ?, pipeline_id = ? WHERE id = ?
	`), team.Name, jsonText(team.AgentIDs), team.PipelineID, team.ID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_, err = w.ExecContext(ctx, w.Rebind(`
			INSERT INTO teams (id, name, agent_ids, pipeline_id, created_at) VALUES (?, ?, ?, ?, ?)
		`), team.ID, team.Name, jsonText(team.AgentIDs), team.PipelineID, team.CreatedAt)
		if err != nil {
			return err
		}
	}
	s.publish(ctx, events.TeamUpdated, map[string]interface{}{"team": team})
	return nil
}

// DeleteTeam removes a team and fires team.deleted. Member agents survive;
// their team_id is cleared.
func (s *Store) DeleteTeam(ctx context.Context, id string) error {
	w := s.pool.Writer()
	tx, err := w.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, w.Rebind(`DELETE FROM teams WHERE id = ?`), id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		_ = tx.Rollback()
		return apperrors.NotFound("team", id)
	}
	if _, err := tx.ExecContext(ctx, w.Rebind(`UPDATE agents SET team_id = '' WHERE team_id = ?`), id); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.publish(ctx, events.TeamDeleted, map[string]interface{}{"teamId": id})
	return nil
}

// GetTeam returns one team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (*v1.Team, error) {
	r := s.pool.Reader()
	row := r.QueryRowContext(ctx, r.Rebind(`SELECT id, name, agent_ids, pipeline_id, created_at FROM teams WHERE id = ?`), id)
	team, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("team", id)
	}
	return team, err
}

// ListTeams returns all teams in creation order.
func (s *Store) ListTeams(ctx context.Context) ([]*v1.Team, error) {
	r := s.pool.Reader()
	rows, err := r.QueryContext(ctx, `SELECT id, name, agent_ids, pipeline_id, created_at FROM teams ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*v1.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

func scanTeam(row rowScanner) (*v1.Team, error) {
	team := &v1.Team{}
	var agentIDs string
	if err := row.Scan(&team.ID, &team.Name, &agentIDs, &team.PipelineID, &team.CreatedAt); err != nil {
		return nil, err
	}
	fromJSONText(agentIDs, &team.AgentIDs)
	return team, nil
}
