// Package store owns all persisted state. Every mutating method writes,
// fires exactly one event on the bus, and returns. Reads are synchronous
// snapshots off the reader pool.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/db"
	"github.com/tmuxagents/tmuxagents/internal/events/bus"
)

// Store is the single owner of the database. Writes are serialised through
// the writer pool; sqlite additionally holds them to one connection.
type Store struct {
	pool *db.Pool
	bus  bus.EventBus
	log  *logger.Logger

	syncMu sync.RWMutex
	onSync []func()
}

// New opens the store over an existing pool and ensures the schema.
func New(ctx context.Context, pool *db.Pool, eventBus bus.EventBus, log *logger.Logger) (*Store, error) {
	s := &Store{pool: pool, bus: eventBus, log: log}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close flushes nothing (writes are synchronous) and closes the pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// OnSync registers a callback invoked when the database was mutated by
// something other than this process. Callbacks must be cheap; they are the
// coarse "refresh everything" hook.
func (s *Store) OnSync(cb func()) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.onSync = append(s.onSync, cb)
}

// NotifySync fires all registered sync callbacks.
func (s *Store) NotifySync() {
	s.syncMu.RLock()
	callbacks := make([]func(), len(s.onSync))
	copy(callbacks, s.onSync)
	s.syncMu.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}

// publish fires the single event for a completed write. Bus failures are
// logged, never propagated: the write already happened.
func (s *Store) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "store", data)); err != nil {
		s.log.WithError(err).Warn("event publish failed", zap.String("event", eventType))
	}
}

// jsonText marshals v for storage in a TEXT column. Nil slices become "[]"
// so round-trips stay byte-equal.
func jsonText(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func fromJSONText(text string, v interface{}) {
	if text == "" {
		return
	}
	_ = json.Unmarshal([]byte(text), v)
}
