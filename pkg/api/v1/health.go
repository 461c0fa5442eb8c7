package v1

// RuntimeHealth is the probe result for one runtime.
type RuntimeHealth struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// DatabaseHealth reports store liveness.
type DatabaseHealth struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
}

// Health is the payload of health.get.
type Health struct {
	OK       bool            `json:"ok"`
	UptimeMS int64           `json:"uptimeMs"`
	Version  string          `json:"version"`
	Runtimes []RuntimeHealth `json:"runtimes"`
	Database DatabaseHealth  `json:"database"`
}

// DashboardState is the aggregate snapshot returned by dashboard.getState.
type DashboardState struct {
	Lanes      []*SwimLane    `json:"lanes"`
	Tasks      []*Task        `json:"tasks"`
	Agents     []*Agent       `json:"agents"`
	Teams      []*Team        `json:"teams"`
	ActiveRuns []*PipelineRun `json:"activeRuns"`
	Runtimes   []*Runtime     `json:"runtimes"`
	Favorites  []*Favorite    `json:"favorites"`
}
