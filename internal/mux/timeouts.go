package mux

import (
	"context"
	"time"

	"github.com/tmuxagents/tmuxagents/internal/common/constants"
)

// ctxTimeout bounds a single multiplexer operation.
type ctxTimeout time.Duration

var (
	shortTimeout   = ctxTimeout(constants.SSHCommandTimeout)
	treeTimeout    = ctxTimeout(constants.TreeFetchTimeout)
	captureTimeout = ctxTimeout(constants.PaneCaptureTimeout)
	longTimeout    = ctxTimeout(constants.SpawnTimeout)
)

func (t ctxTimeout) apply(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(t))
}
