package interfaces

import "github.com/renderstack/renderd/internal/models"

// NotificationBus is a best-effort publish/subscribe channel keyed by topic.
// Publishing never blocks on subscriber availability: a publish with zero
// subscribers is a no-op and a slow subscriber drops messages rather than
// stalling the publisher. Order is preserved per subscriber per topic.
type NotificationBus interface {
	// Publish delivers a notification to every matching subscriber.
	Publish(topic string, n models.Notification)

	// Subscribe registers for topics matching pattern (exact topic, or a
	// trailing "*" wildcard such as "job:*"). The returned cancel function
	// releases the subscription and closes the channel.
	Subscribe(pattern string) (<-chan models.Notification, func())

	Close() error
}
