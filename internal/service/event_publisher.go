package service

// EventPublisher is the interface for publishing application events.
// Services use this interface to emit events without depending on a concrete
// event bus implementation.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// Subscriber lifecycle events.
const (
	EventPreferencesUpdated  = "subscriber.preferences.updated"
	EventChannelDisconnected = "subscriber.channel.disconnected"
	EventTelegramConnected   = "subscriber.telegram.connected"
)

type noopPublisher struct{}

func (noopPublisher) Publish(string, map[string]string) {}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}
