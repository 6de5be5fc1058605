package interfaces

import "context"

// EventPublisher emits domain events to a topic, keyed for partition affinity.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
