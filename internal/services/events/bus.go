package events

import (
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this starts losing messages - delivery is
// best-effort by contract.
const subscriberBuffer = 64

type subscriber struct {
	pattern string
	ch      chan models.Notification
	closed  bool
}

// Bus implements NotificationBus as in-process topic pub/sub.
//
// Publish appends to each matching subscriber's buffered channel under a read
// lock and drops when the buffer is full, so a stalled subscriber never
// blocks a worker and order per subscriber per topic follows publish order.
type Bus struct {
	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewBus creates a new notification bus
func NewBus(logger arbor.ILogger) interfaces.NotificationBus {
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger,
	}
}

// Publish delivers the notification to every subscriber whose pattern
// matches the topic. Zero matching subscribers is a no-op; the publisher is
// never informed of drops.
func (b *Bus) Publish(topic string, n models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !matches(sub.pattern, topic) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			// Subscriber buffer full - drop rather than block the publisher.
			b.logger.Debug().
				Str("topic", topic).
				Str("pattern", sub.pattern).
				Msg("Dropped notification for slow subscriber")
		}
	}
}

// Subscribe registers for topics matching pattern. The cancel function is
// idempotent and closes the returned channel after draining stops.
func (b *Bus) Subscribe(pattern string) (<-chan models.Notification, func()) {
	sub := &subscriber{
		pattern: pattern,
		ch:      make(chan models.Notification, subscriberBuffer),
	}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Debug().
		Str("pattern", pattern).
		Int("subscriber_count", count).
		Msg("Bus subscriber registered")

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(b.subscribers, sub)
		close(sub.ch)
	}

	return sub.ch, cancel
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subscribers = make(map[*subscriber]struct{})
	b.logger.Info().Msg("Notification bus closed")

	return nil
}

// matches reports whether a pattern matches a topic. Patterns are exact
// topics or carry a single trailing "*" wildcard, e.g. "job:*".
func matches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
