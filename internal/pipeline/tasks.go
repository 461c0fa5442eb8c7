package pipeline

import (
	"fmt"
	"sort"
	"strings"

	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// GenerateTasksForStage produces the tasks a stage contributes to the
// orchestrator queue: one task, or fanOutCount siblings for fan_out stages.
// Prior stage outputs travel in the task details.
func GenerateTasksForStage(p *v1.Pipeline, stage v1.Stage, previousOutputs map[string]string) []*v1.Task {
	count := 1
	if stage.Type == v1.StageFanOut && stage.FanOutCount > 1 {
		count = stage.FanOutCount
	}

	details := outputsBlock(previousOutputs)
	tasks := make([]*v1.Task, 0, count)
	for i := 0; i < count; i++ {
		description := stage.TaskDescription
		if description == "" {
			description = stage.Name
		}
		if count > 1 {
			description = fmt.Sprintf("%s (worker %d/%d)", description, i+1, count)
		}
		tasks = append(tasks, &v1.Task{
			Description:     description,
			Details:         details,
			TargetRole:      string(stage.AgentRole),
			Status:          v1.TaskPending,
			KanbanColumn:    v1.ColumnTodo,
			PipelineStageID: stage.ID,
		})
	}
	return tasks
}

// previousOutputs collects the outputs of the stage's completed
// dependencies, keyed by stage name.
func previousOutputs(p *v1.Pipeline, run *v1.PipelineRun, stage v1.Stage) map[string]string {
	byID := map[string]v1.Stage{}
	for _, s := range p.Stages {
		byID[s.ID] = s
	}
	out := map[string]string{}
	for _, dep := range stage.DependsOn {
		result := run.StageResults[dep]
		if result == nil || result.Output == "" {
			continue
		}
		name := byID[dep].Name
		if name == "" {
			name = dep
		}
		out[name] = result.Output
	}
	return out
}

func outputsBlock(outputs map[string]string) string {
	if len(outputs) == 0 {
		return ""
	}
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Previous stage outputs:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, outputs[name])
	}
	return b.String()
}
