package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tmuxagents/tmuxagents/internal/common/logger"
)

// subscriberQueueSize bounds the per-subscriber delivery queue. When the
// queue is full the event is dropped for that subscriber and a warning is
// logged; producers never block.
const subscriberQueueSize = 256

// MemoryEventBus implements EventBus with per-subscriber bounded queues.
type MemoryEventBus struct {
	subscriptions map[string][]*memorySubscription
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // nil for exact-match subjects
	handler EventHandler
	queue   chan *Event
	done    chan struct{}
	active  bool
	mu      sync.Mutex
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log,
	}
}

// Publish delivers the event to every matching subscriber's queue.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for pattern, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.IsValid() || !matches(subject, pattern, sub.pattern) {
				continue
			}
			select {
			case sub.queue <- event:
			default:
				b.logger.Warn("dropping event for slow subscriber",
					zap.String("subject", subject),
					zap.String("pattern", sub.subject),
					zap.String("event_type", event.Type))
			}
		}
	}

	b.logger.Debug("published event",
		zap.String("subject", subject),
		zap.String("event_type", event.Type))
	return nil
}

// Subscribe creates a subscription to a subject pattern. Each subscription
// gets its own delivery goroutine so handlers see events in publish order.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		queue:   make(chan *Event, subscriberQueueSize),
		done:    make(chan struct{}),
		active:  true,
	}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)

	go sub.pump()

	b.logger.Debug("subscribed", zap.String("subject", subject))
	return sub, nil
}

func (s *memorySubscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			if err := s.handler(context.Background(), event); err != nil {
				s.bus.logger.Error("event handler error",
					zap.String("subject", s.subject),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe removes the subscription and stops its delivery goroutine.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	close(s.done)
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid reports whether the subscription still delivers.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			if sub.active {
				sub.active = false
				close(sub.done)
			}
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
	b.logger.Info("memory event bus closed")
}

// IsConnected reports whether the bus is open.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// matches checks a subject against a pattern, using the compiled regex for
// wildcard patterns.
func matches(subject, pattern string, regex *regexp.Regexp) bool {
	if regex == nil {
		return subject == pattern
	}
	return regex.MatchString(subject)
}

// compilePattern converts a NATS-style pattern to a regexp;
// returns nil for patterns without wildcards.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	regex, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return regex
}
