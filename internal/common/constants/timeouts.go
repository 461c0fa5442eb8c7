// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Budgets for operations that shell out.
const (
	// SSHConnectTimeout bounds the TCP/auth handshake of every SSH wrapper.
	SSHConnectTimeout = 5 * time.Second

	// SSHCommandTimeout is the total budget for one SSH-wrapped command.
	SSHCommandTimeout = 10 * time.Second

	// TreeFetchTimeout bounds a full multiplexer tree listing.
	TreeFetchTimeout = 5 * time.Second

	// PaneCaptureTimeout bounds a single capture-pane invocation.
	PaneCaptureTimeout = 2 * time.Second

	// SpawnTimeout is the maximum time to wait for an AI CLI to come up.
	SpawnTimeout = 120 * time.Second

	// WorktreeTimeout bounds git worktree creation and removal.
	WorktreeTimeout = 30 * time.Second

	// SSHRetryDelay is the pause before the single retry of a transient
	// SSH failure inside the same RPC.
	SSHRetryDelay = 500 * time.Millisecond
)

// Background worker periods.
const (
	// OrchestratorPollPeriod is the pane-scraping interval.
	OrchestratorPollPeriod = 5 * time.Second

	// SentinelScanPeriod is the interval between sentinel scans of a
	// watched task pane.
	SentinelScanPeriod = 4 * time.Second

	// AutoClosePeriod is the AutoCloseMonitor scan interval.
	AutoClosePeriod = 30 * time.Second

	// AutoCloseDelay is how long a done task keeps its window before the
	// monitor summarises and tears it down.
	AutoCloseDelay = 10 * time.Minute

	// ReconcilePeriod is the Reconciler tick interval.
	ReconcilePeriod = 30 * time.Second

	// TreeCacheTTL is how long a cached multiplexer tree stays fresh.
	TreeCacheTTL = 2 * time.Second

	// ShutdownGrace is how long in-flight RPCs get on SIGTERM.
	ShutdownGrace = 10 * time.Second

	// AutoPilotGrace is how long an agent must report waiting before the
	// auto-pilot injector sends a canned continue.
	AutoPilotGrace = 45 * time.Second
)
