package runtimes

import (
	"strconv"
	"strings"
)

// PaneMetadata carries the @cc_* annotations an AI CLI may publish into its
// pane options. All fields are optional; State, when present, overrides the
// capture heuristic.
type PaneMetadata struct {
	Provider   string   `json:"provider,omitempty"`
	Model      string   `json:"model,omitempty"`
	SessionID  string   `json:"sessionId,omitempty"`
	CWD        string   `json:"cwd,omitempty"`
	ContextPct *float64 `json:"contextPct,omitempty"`
	TokensIn   *int64   `json:"tokensIn,omitempty"`
	TokensOut  *int64   `json:"tokensOut,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
	GitBranch  string   `json:"gitBranch,omitempty"`
	LastTool   string   `json:"lastTool,omitempty"`
	State      string   `json:"state,omitempty"`
}

// Pane option keys published by CLI status-line hooks.
const (
	optProvider   = "@cc_provider"
	optModel      = "@cc_model"
	optSessionID  = "@cc_session_id"
	optCWD        = "@cc_cwd"
	optContextPct = "@cc_context_pct"
	optTokensIn   = "@cc_tokens_in"
	optTokensOut  = "@cc_tokens_out"
	optCost       = "@cc_cost"
	optGitBranch  = "@cc_git_branch"
	optLastTool   = "@cc_last_tool"
	optState      = "@cc_state"
)

// ReadPaneMetadata extracts the known @cc_* annotations from a pane's
// option map. Unknown keys are ignored; numeric values that fail to parse
// are dropped rather than erroring.
func ReadPaneMetadata(paneOptions map[string]string) PaneMetadata {
	md := PaneMetadata{
		Provider:  paneOptions[optProvider],
		Model:     paneOptions[optModel],
		SessionID: paneOptions[optSessionID],
		CWD:       paneOptions[optCWD],
		GitBranch: paneOptions[optGitBranch],
		LastTool:  paneOptions[optLastTool],
	}
	if v := paneOptions[optContextPct]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			md.ContextPct = &f
		}
	}
	if v := paneOptions[optTokensIn]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			md.TokensIn = &n
		}
	}
	if v := paneOptions[optTokensOut]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			md.TokensOut = &n
		}
	}
	if v := paneOptions[optCost]; v != "" {
		if f, err := strconv.ParseFloat(strings.TrimPrefix(v, "$"), 64); err == nil {
			md.Cost = &f
		}
	}
	switch paneOptions[optState] {
	case "busy", "user", "idle":
		md.State = paneOptions[optState]
	}
	return md
}

// StatusFromMetadata maps a published @cc_state onto the pane status scale.
// Returns ok=false when no valid state is published.
func StatusFromMetadata(md PaneMetadata) (PaneStatus, bool) {
	switch md.State {
	case "busy":
		return StatusWorking, true
	case "user":
		return StatusWaiting, true
	case "idle":
		return StatusIdle, true
	default:
		return StatusIdle, false
	}
}
