package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

func TestSupervisorRestartsPanickedWorker(t *testing.T) {
	s := NewSupervisor(logger.Default())
	var runs int32
	s.Add("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			panic("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestSupervisorRestartsFailedWorker(t *testing.T) {
	s := NewSupervisor(logger.Default())
	var runs int32
	s.Add("whiny", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			return errors.New("transient")
		}
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSupervisorStopsCleanly(t *testing.T) {
	s := NewSupervisor(logger.Default())
	s.Add("steady", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = s.Run(ctx); close(done) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not drain workers")
	}
}
