package rpc

// Method names exposed by the daemon, grouped by family.
const (
	// Runtimes
	MethodRuntimeList           = "runtime.list"
	MethodRuntimeTestConnection = "runtime.testConnection"

	// Raw multiplexer surface
	MethodSessionCreate = "session.create"
	MethodSessionDelete = "session.delete"
	MethodSessionRename = "session.rename"
	MethodSessionList   = "session.list"
	MethodWindowCreate  = "window.create"
	MethodWindowKill    = "window.kill"
	MethodWindowSelect  = "window.select"
	MethodWindowRename  = "window.rename"
	MethodPaneSplit     = "pane.split"
	MethodPaneKill      = "pane.kill"
	MethodPaneSelect    = "pane.select"
	MethodPaneSendKeys  = "pane.sendKeys"
	MethodPaneCapture   = "pane.capture"

	// Agents
	MethodAgentSpawn       = "agent.spawn"
	MethodAgentKill        = "agent.kill"
	MethodAgentSendPrompt  = "agent.sendPrompt"
	MethodAgentGetOutput   = "agent.getOutput"
	MethodAgentList        = "agent.list"
	MethodAgentQuery       = "agent.query"
	MethodAgentGetIdle     = "agent.getIdle"
	MethodAgentGetByRole   = "agent.getByRole"
	MethodAgentGetByTeam   = "agent.getByTeam"
	MethodAgentUpdateState = "agent.updateState"
	MethodAgentSendMessage = "agent.sendMessage"
	MethodAgentGetMessages = "agent.getMessages"

	// Teams
	MethodTeamCreate      = "team.create"
	MethodTeamDelete      = "team.delete"
	MethodTeamAddAgent    = "team.addAgent"
	MethodTeamRemoveAgent = "team.removeAgent"
	MethodTeamSetPipeline = "team.setPipeline"
	MethodTeamList        = "team.list"
	MethodTeamQuery       = "team.query"
	MethodTeamFindByAgent = "team.findByAgent"
	MethodTeamGetAgents   = "team.getAgents"

	// Pipelines
	MethodPipelineCreate             = "pipeline.create"
	MethodPipelineDelete             = "pipeline.delete"
	MethodPipelineAddStage           = "pipeline.addStage"
	MethodPipelineRemoveStage        = "pipeline.removeStage"
	MethodPipelineStartRun           = "pipeline.startRun"
	MethodPipelinePauseRun           = "pipeline.pauseRun"
	MethodPipelineResumeRun          = "pipeline.resumeRun"
	MethodPipelineList               = "pipeline.list"
	MethodPipelineQuery              = "pipeline.query"
	MethodPipelineGetActiveRuns      = "pipeline.getActiveRuns"
	MethodPipelineGetRun             = "pipeline.getRun"
	MethodPipelineGetReadyStages     = "pipeline.getReadyStages"
	MethodPipelineMarkStageCompleted = "pipeline.markStageCompleted"
	MethodPipelineMarkStageFailed    = "pipeline.markStageFailed"
	MethodPipelineGetBuiltIn         = "pipeline.getBuiltIn"

	// Templates
	MethodTemplateCreate     = "template.create"
	MethodTemplateUpdate     = "template.update"
	MethodTemplateDelete     = "template.delete"
	MethodTemplateList       = "template.list"
	MethodTemplateGet        = "template.get"
	MethodTemplateGetByRole  = "template.getByRole"
	MethodTemplateGetBuiltIn = "template.getBuiltIn"

	// Task queue
	MethodTaskSubmit           = "task.submit"
	MethodTaskCancel           = "task.cancel"
	MethodTaskDelete           = "task.delete"
	MethodTaskList             = "task.list"
	MethodTaskQuery            = "task.query"
	MethodTaskUpdateStatus     = "task.updateStatus"
	MethodTaskDispatchNext     = "task.dispatchNext"
	MethodTaskGetFanOutResults = "task.getFanOutResults"

	// Kanban
	MethodKanbanCreateLane      = "kanban.createSwimLane"
	MethodKanbanEditLane        = "kanban.editSwimLane"
	MethodKanbanDeleteLane      = "kanban.deleteSwimLane"
	MethodKanbanListLanes       = "kanban.listSwimLanes"
	MethodKanbanKillLaneSession = "kanban.killLaneSession"
	MethodKanbanCreateTask      = "kanban.createTask"
	MethodKanbanMoveTask        = "kanban.moveTask"
	MethodKanbanListTasks       = "kanban.listTasks"
	MethodKanbanStartTask       = "kanban.startTask"
	MethodKanbanStopTask        = "kanban.stopTask"
	MethodKanbanRestartTask     = "kanban.restartTask"
	MethodKanbanAttachTask      = "kanban.attachTask"
	MethodKanbanSummarizeTask   = "kanban.summarizeTask"
	MethodKanbanEditTask        = "kanban.editTask"
	MethodKanbanDeleteTask      = "kanban.deleteTask"
	MethodKanbanGetTask         = "kanban.getTask"
	MethodKanbanAddSubtask      = "kanban.addSubtask"
	MethodKanbanMergeTasks      = "kanban.mergeTasks"
	MethodKanbanSplitTaskBox    = "kanban.splitTaskBox"
	MethodKanbanSetAutoMode     = "kanban.setAutoMode"

	// Aggregate
	MethodDashboardGetState       = "dashboard.getState"
	MethodDashboardAddFavorite    = "dashboard.addFavorite"
	MethodDashboardRemoveFavorite = "dashboard.removeFavorite"
	MethodHealthGet               = "health.get"

	// Subscriptions
	MethodEventsSubscribe = "events.subscribe"
)

// Notification method names pushed to subscribers.
const (
	NotifyTaskUpdated           = "task.updated"
	NotifyTaskMoved             = "task.moved"
	NotifyTaskCompleted         = "task.completed"
	NotifyTaskAutoCloseComplete = "task.autoclose.completed"
	NotifyTaskVerification      = "task.verification.started"
	NotifyAgentUpdated          = "agent.updated"
	NotifyAgentMessage          = "agent.message"
	NotifyLaneUpdated           = "lane.updated"
	NotifyTeamUpdated           = "team.updated"
	NotifyPipelineRunUpdated    = "pipeline.run.updated"
	NotifyRuntimeUpdated        = "runtime.updated"
	NotifyTemplateUpdated       = "template.updated"
)

// Wire error codes. The dispatcher emits ErrorCodeUnknownMethod itself;
// handlers map application errors onto the remaining codes.
const (
	ErrorCodeUnknownMethod = "UNKNOWN_METHOD"
	ErrorCodeInvalidParam  = "INVALID_PARAM"
	ErrorCodeInternal      = "INTERNAL"
)
