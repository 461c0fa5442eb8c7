// Package events names every domain event fired by the store and workers.
// A single successful write fires exactly one event.
package events

// Task events.
const (
	TaskUpdated           = "task.updated"
	TaskMoved             = "task.moved"
	TaskCompleted         = "task.completed"
	TaskAutoCloseComplete = "task.autoclose.completed"
	TaskVerification      = "task.verification.started"
	TaskDeleted           = "task.deleted"
)

// Agent events.
const (
	AgentUpdated = "agent.updated"
	AgentMessage = "agent.message"
	AgentDeleted = "agent.deleted"
)

// Swim-lane events.
const (
	LaneUpdated = "lane.updated"
	LaneDeleted = "lane.deleted"
)

// Team events.
const (
	TeamUpdated = "team.updated"
	TeamDeleted = "team.deleted"
)

// Pipeline events.
const (
	PipelineUpdated    = "pipeline.updated"
	PipelineDeleted    = "pipeline.deleted"
	PipelineRunStarted = "pipeline.run.started"
	PipelineRunUpdated = "pipeline.run.updated"
)

// Runtime and template events.
const (
	RuntimeUpdated  = "runtime.updated"
	TemplateUpdated = "template.updated"
	TemplateDeleted = "template.deleted"
	FavoriteUpdated = "favorite.updated"
	FavoriteDeleted = "favorite.deleted"
)
