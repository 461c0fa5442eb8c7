package daemon

import (
	"context"
	"time"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) dashboardGetState(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	state := &v1.DashboardState{
		Lanes:      []*v1.SwimLane{},
		Tasks:      []*v1.Task{},
		Agents:     h.orch.Agents(),
		Teams:      []*v1.Team{},
		ActiveRuns: []*v1.PipelineRun{},
		Runtimes:   h.hosts.List(),
		Favorites:  []*v1.Favorite{},
	}
	if lanes, err := h.store.ListSwimLanes(ctx); err != nil {
		return nil, err
	} else if lanes != nil {
		state.Lanes = lanes
	}
	if tasks, err := h.store.ListTasks(ctx); err != nil {
		return nil, err
	} else if tasks != nil {
		state.Tasks = tasks
	}
	if teams, err := h.store.ListTeams(ctx); err != nil {
		return nil, err
	} else if teams != nil {
		state.Teams = teams
	}
	if runs, err := h.store.ListActivePipelineRuns(ctx); err != nil {
		return nil, err
	} else if runs != nil {
		state.ActiveRuns = runs
	}
	if favorites, err := h.store.ListFavorites(ctx); err != nil {
		return nil, err
	} else if favorites != nil {
		state.Favorites = favorites
	}
	if state.Agents == nil {
		state.Agents = []*v1.Agent{}
	}
	return state, nil
}

type favoriteAddRequest struct {
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

func (r *favoriteAddRequest) Validate() error {
	if r.Label == "" {
		return apperrors.InvalidField("label", "must not be empty")
	}
	if r.Kind != v1.FavoriteCommand && r.Kind != v1.FavoritePrompt {
		return apperrors.InvalidField("kind", "must be command or prompt")
	}
	if r.Payload == "" {
		return apperrors.InvalidField("payload", "must not be empty")
	}
	return nil
}

type favoriteIDRequest struct {
	FavoriteID string `json:"favoriteId"`
}

func (r *favoriteIDRequest) Validate() error {
	if r.FavoriteID == "" {
		return apperrors.InvalidField("favoriteId", "must not be empty")
	}
	return nil
}

func (h *Handlers) dashboardAddFavorite(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req favoriteAddRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	f := &v1.Favorite{Label: req.Label, Kind: req.Kind, Payload: req.Payload}
	if err := h.store.SaveFavorite(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (h *Handlers) dashboardRemoveFavorite(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req favoriteIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.store.DeleteFavorite(ctx, req.FavoriteID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) healthGet(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	health := &v1.Health{
		OK:       true,
		UptimeMS: time.Since(h.startedAt).Milliseconds(),
		Version:  h.version,
		Runtimes: []v1.RuntimeHealth{},
	}
	for _, rt := range h.hosts.List() {
		probe := h.hosts.TestConnection(ctx, h.driver, rt.ID)
		health.Runtimes = append(health.Runtimes, probe)
		if !probe.OK {
			health.OK = false
		}
	}

	health.Database = v1.DatabaseHealth{OK: true, Path: h.cfg.DatabasePath()}
	if _, err := h.store.ListSwimLanes(ctx); err != nil {
		health.Database.OK = false
		health.OK = false
	}
	return health, nil
}
