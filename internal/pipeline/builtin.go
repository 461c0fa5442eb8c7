package pipeline

import (
	"context"

	"go.uber.org/zap"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// builtinPipelines are seeded on first start and cannot be deleted.
func builtinPipelines() []*v1.Pipeline {
	return []*v1.Pipeline{
		{
			ID:      "builtin-research-implement-review",
			Name:    "Research, implement, review",
			BuiltIn: true,
			Stages: []v1.Stage{
				{
					ID:              "research",
					Name:            "Research",
					Type:            v1.StageSequential,
					AgentRole:       v1.RoleResearcher,
					TaskDescription: "Research the problem space and produce a short implementation plan",
				},
				{
					ID:              "implement",
					Name:            "Implement",
					Type:            v1.StageSequential,
					AgentRole:       v1.RoleCoder,
					TaskDescription: "Implement the plan from the research stage",
					DependsOn:       []string{"research"},
				},
				{
					ID:              "review",
					Name:            "Review",
					Type:            v1.StageSequential,
					AgentRole:       v1.RoleReviewer,
					TaskDescription: "Review the implementation and list required fixes",
					DependsOn:       []string{"implement"},
				},
			},
		},
		{
			ID:      "builtin-parallel-implementation",
			Name:    "Parallel implementation with merge",
			BuiltIn: true,
			Stages: []v1.Stage{
				{
					ID:              "plan",
					Name:            "Plan",
					Type:            v1.StageSequential,
					AgentRole:       v1.RoleResearcher,
					TaskDescription: "Split the work into three independent pieces",
				},
				{
					ID:              "build",
					Name:            "Build",
					Type:            v1.StageFanOut,
					FanOutCount:     3,
					AgentRole:       v1.RoleCoder,
					TaskDescription: "Implement your assigned piece of the plan",
					DependsOn:       []string{"plan"},
				},
				{
					ID:              "merge",
					Name:            "Merge",
					Type:            v1.StageSequential,
					AgentRole:       v1.RoleCoder,
					TaskDescription: "Merge the parallel pieces and resolve conflicts",
					DependsOn:       []string{"build"},
				},
			},
		},
	}
}

// EnsureBuiltins inserts the built-in pipelines that are not present yet.
func (e *Engine) EnsureBuiltins(ctx context.Context) {
	for _, p := range builtinPipelines() {
		if _, err := e.store.GetPipeline(ctx, p.ID); err == nil {
			continue
		}
		if err := e.store.SavePipeline(ctx, p); err != nil {
			e.log.Warn("seed built-in pipeline", zap.String("name", p.Name), zap.Error(err))
		}
	}
}
