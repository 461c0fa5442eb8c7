// Package v1 defines the wire types shared by the daemon and its clients.
// All identifiers are opaque strings; timestamps are millisecond Unix epochs.
package v1

import "time"

// Now returns the current time as a millisecond Unix epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}

// TimeOf converts a millisecond epoch back into a time.Time.
func TimeOf(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// RuntimeKind distinguishes the host daemon from SSH-reachable hosts.
type RuntimeKind string

const (
	RuntimeLocalMux RuntimeKind = "local-mux"
	RuntimeSSHMux   RuntimeKind = "ssh-mux"
)

// LocalRuntimeID is reserved for the host the daemon runs on.
const LocalRuntimeID = "local"

// SSHConfig holds connection details for an ssh-mux runtime.
type SSHConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port,omitempty"`
	User         string `json:"user,omitempty"`
	IdentityFile string `json:"identityFile,omitempty"`
	ConfigFile   string `json:"configFile,omitempty"`
}

// Runtime is a reachable host on which multiplexer commands can be executed.
// Runtimes are created from configuration at startup and live for the
// process lifetime.
type Runtime struct {
	ID    string      `json:"id"`
	Kind  RuntimeKind `json:"kind"`
	Label string      `json:"label"`
	SSH   *SSHConfig  `json:"ssh,omitempty"`
}

// SwimLane is a scoped workspace mapping to exactly one multiplexer session
// on one runtime. The session is lazily created on first task launch.
type SwimLane struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	RuntimeID           string `json:"runtimeId"`
	WorkingDir          string `json:"workingDir"`
	SessionName         string `json:"sessionName"`
	SessionActive       bool   `json:"sessionActive"`
	ContextInstructions string `json:"contextInstructions,omitempty"`
	AIProvider          string `json:"aiProvider,omitempty"`
	Model               string `json:"model,omitempty"`
	MemoryFileID        string `json:"memoryFileId,omitempty"`
	AutoStart           *bool  `json:"autoStart,omitempty"`
	AutoPilot           *bool  `json:"autoPilot,omitempty"`
	AutoClose           *bool  `json:"autoClose,omitempty"`
	UseWorktree         *bool  `json:"useWorktree,omitempty"`
	CreatedAt           int64  `json:"createdAt"`
}

// TaskStatus is the orchestration status of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// KanbanColumn is the board position of a task.
type KanbanColumn string

const (
	ColumnBacklog    KanbanColumn = "backlog"
	ColumnTodo       KanbanColumn = "todo"
	ColumnInProgress KanbanColumn = "in_progress"
	ColumnInReview   KanbanColumn = "in_review"
	ColumnDone       KanbanColumn = "done"
)

// ValidColumn reports whether c names a known kanban column.
func ValidColumn(c KanbanColumn) bool {
	switch c {
	case ColumnBacklog, ColumnTodo, ColumnInProgress, ColumnInReview, ColumnDone:
		return true
	}
	return false
}

// VerificationStatus tracks post-completion verification of a task.
type VerificationStatus string

const (
	VerificationNone    VerificationStatus = "none"
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

// Task is the unit of work dispatched to agents. The tmux* fields form the
// binding that ties a task to a live pane.
type Task struct {
	ID                 string             `json:"id"`
	SwimLaneID         string             `json:"swimLaneId,omitempty"`
	Description        string             `json:"description"`
	Details            string             `json:"details,omitempty"`
	TargetRole         string             `json:"targetRole,omitempty"`
	Priority           int                `json:"priority"` // 1..10
	Status             TaskStatus         `json:"status"`
	KanbanColumn       KanbanColumn       `json:"kanbanColumn"`
	AutoStart          *bool              `json:"autoStart,omitempty"`
	AutoPilot          *bool              `json:"autoPilot,omitempty"`
	AutoClose          *bool              `json:"autoClose,omitempty"`
	UseWorktree        *bool              `json:"useWorktree,omitempty"`
	AIProvider         string             `json:"aiProvider,omitempty"`
	AIModel            string             `json:"aiModel,omitempty"`
	DependsOn          []string           `json:"dependsOn,omitempty"`
	ParentTaskID       string             `json:"parentTaskId,omitempty"`
	SubtaskIDs         []string           `json:"subtaskIds,omitempty"`
	AssignedAgentID    string             `json:"assignedAgentId,omitempty"`
	PipelineStageID    string             `json:"pipelineStageId,omitempty"`
	WorktreePath       string             `json:"worktreePath,omitempty"`
	SignalID           string             `json:"signalId,omitempty"`
	Output             string             `json:"output,omitempty"`
	ErrorMessage       string             `json:"errorMessage,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	TmuxSessionName    string             `json:"tmuxSessionName,omitempty"`
	TmuxWindowIndex    *int               `json:"tmuxWindowIndex,omitempty"`
	TmuxPaneIndex      *int               `json:"tmuxPaneIndex,omitempty"`
	TmuxRuntimeID      string             `json:"tmuxRuntimeId,omitempty"`
	DoneAt             *int64             `json:"doneAt,omitempty"`
	CreatedAt          int64              `json:"createdAt"`
	StartedAt          *int64             `json:"startedAt,omitempty"`
	CompletedAt        *int64             `json:"completedAt,omitempty"`
}

// ShortID returns the window-name anchor: the first 15 characters of the id.
func (t *Task) ShortID() string {
	if len(t.ID) <= 15 {
		return t.ID
	}
	return t.ID[:15]
}

// HasBinding reports whether the task is bound to a live pane.
func (t *Task) HasBinding() bool {
	return t.TmuxSessionName != "" && t.TmuxWindowIndex != nil
}

// ClearBinding drops the tmux* fields.
func (t *Task) ClearBinding() {
	t.TmuxSessionName = ""
	t.TmuxWindowIndex = nil
	t.TmuxPaneIndex = nil
	t.TmuxRuntimeID = ""
}

// IsTaskBox reports whether the task is a synthetic parent aggregating
// subtasks; its own status is derived from them.
func (t *Task) IsTaskBox() bool {
	return len(t.SubtaskIDs) > 0
}

// ResolveFlag resolves a tri-state auto flag against the lane default.
func ResolveFlag(task, lane *bool) bool {
	if task != nil {
		return *task
	}
	if lane != nil {
		return *lane
	}
	return false
}

// Bool returns a pointer to b, for filling tri-state flags.
func Bool(b bool) *bool {
	return &b
}

// AgentRole classifies what kind of work an agent takes.
type AgentRole string

const (
	RoleCoder      AgentRole = "coder"
	RoleReviewer   AgentRole = "reviewer"
	RoleTester     AgentRole = "tester"
	RoleDevops     AgentRole = "devops"
	RoleResearcher AgentRole = "researcher"
	RoleCustom     AgentRole = "custom"
)

// AgentState is the scrape-driven agent state machine position.
type AgentState string

const (
	AgentSpawning   AgentState = "spawning"
	AgentIdle       AgentState = "idle"
	AgentWorking    AgentState = "working"
	AgentError      AgentState = "error"
	AgentCompleted  AgentState = "completed"
	AgentTerminated AgentState = "terminated"
)

// Terminal reports whether the state is an end state.
func (s AgentState) Terminal() bool {
	return s == AgentCompleted || s == AgentTerminated
}

// Agent is a supervised AI CLI running in one multiplexer pane.
type Agent struct {
	ID             string     `json:"id"`
	Role           AgentRole  `json:"role"`
	Provider       string     `json:"provider"`
	Model          string     `json:"model,omitempty"`
	RuntimeID      string     `json:"runtimeId"`
	SessionName    string     `json:"sessionName"`
	WindowIndex    int        `json:"windowIndex"`
	PaneIndex      int        `json:"paneIndex"`
	State          AgentState `json:"state"`
	TeamID         string     `json:"teamId,omitempty"`
	CurrentTaskID  string     `json:"currentTaskId,omitempty"`
	Expertise      []string   `json:"expertise,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      int64      `json:"createdAt"`
	LastActivityAt int64      `json:"lastActivityAt"`
}

// Team groups agents, optionally bound to a pipeline. Deleting a team does
// not terminate its agents.
type Team struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	AgentIDs   []string `json:"agentIds"`
	PipelineID string   `json:"pipelineId,omitempty"`
	CreatedAt  int64    `json:"createdAt"`
}

// StageType controls how a pipeline stage is translated into tasks.
type StageType string

const (
	StageSequential  StageType = "sequential"
	StageParallel    StageType = "parallel"
	StageConditional StageType = "conditional"
	StageFanOut      StageType = "fan_out"
)

// Stage is one node of a pipeline DAG.
type Stage struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Type            StageType `json:"type"`
	AgentRole       AgentRole `json:"agentRole"`
	TaskDescription string    `json:"taskDescription"`
	DependsOn       []string  `json:"dependsOn,omitempty"`
	FanOutCount     int       `json:"fanOutCount,omitempty"`
	Condition       string    `json:"condition,omitempty"`
	TimeoutSeconds  int       `json:"timeout,omitempty"`
}

// Pipeline is a named DAG of stages.
type Pipeline struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Stages    []Stage `json:"stages"`
	BuiltIn   bool    `json:"builtIn,omitempty"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
}

// RunStatus is the lifecycle status of a pipeline run.
type RunStatus string

const (
	RunDraft     RunStatus = "draft"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// StageStatus is the recorded status of one stage within a run.
type StageStatus string

const (
	StageRunning        StageStatus = "running"
	StageCompletedState StageStatus = "completed"
	StageFailedState    StageStatus = "failed"
)

// StageResult records the outcome of one stage within a run.
type StageResult struct {
	Status       StageStatus `json:"status"`
	AgentID      string      `json:"agentId,omitempty"`
	Output       string      `json:"output,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	StartedAt    *int64      `json:"startedAt,omitempty"`
	CompletedAt  *int64      `json:"completedAt,omitempty"`
}

// PipelineRun is one execution of a pipeline. A stage is ready when it has
// no recorded result and every dependency is completed.
type PipelineRun struct {
	ID           string                  `json:"id"`
	PipelineID   string                  `json:"pipelineId"`
	Status       RunStatus               `json:"status"`
	StageResults map[string]*StageResult `json:"stageResults"`
	StartedAt    int64                   `json:"startedAt"`
	CompletedAt  *int64                  `json:"completedAt,omitempty"`
}

// Template is a reusable persona/prompt block keyed by agent role.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role,omitempty"`
	Content   string `json:"content"`
	BuiltIn   bool   `json:"builtIn,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Favorite kinds.
const (
	FavoriteCommand = "command"
	FavoritePrompt  = "prompt"
)

// Favorite is a pinned command or prompt shown on the dashboard.
type Favorite struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Kind      string `json:"kind"` // command | prompt
	Payload   string `json:"payload"`
	CreatedAt int64  `json:"createdAt"`
}

// AgentMessage is an optional side-channel note between agents.
type AgentMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"`
	Read      bool   `json:"read"`
}
