package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

const (
	restartBackoffInitial = time.Second
	restartBackoffMax     = 30 * time.Second
	// A worker that survives this long gets its backoff reset.
	restartBackoffHealthy = time.Minute
)

// Worker is a long-running daemon component driven by a context.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor keeps the daemon's background workers alive. A worker that
// panics or returns early is restarted with exponential backoff; a worker
// that returns after context cancellation is considered done.
type Supervisor struct {
	workers []Worker
	log     *logger.Logger
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor(log *logger.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Add registers a worker. Must be called before Run.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.workers = append(s.workers, Worker{Name: name, Run: run})
}

// Run starts every worker and blocks until the context is cancelled and all
// workers have exited.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		worker := w
		g.Go(func() error {
			s.supervise(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	backoff := restartBackoffInitial
	for {
		started := time.Now()
		err := s.runOnce(ctx, w)

		if ctx.Err() != nil {
			if err != nil && err != context.Canceled {
				s.log.Warn("worker exited during shutdown", zap.String("worker", w.Name), zap.Error(err))
			}
			return
		}

		if time.Since(started) >= restartBackoffHealthy {
			backoff = restartBackoffInitial
		}
		s.log.Error("worker exited, restarting",
			zap.String("worker", w.Name),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

// runOnce invokes the worker and converts a panic into an error so the
// supervise loop can restart it.
func (s *Supervisor) runOnce(ctx context.Context, w Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v", w.Name, r)
		}
	}()
	return w.Run(ctx)
}
