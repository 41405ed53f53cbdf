package eventbus

import (
	"log/slog"
	"maps"
	"slices"
	"time"
)

// Event is one lifecycle notification carried by the bus.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// LogValue renders the payload as a sorted attribute group.
func (e Event) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.Payload)+1)
	attrs = append(attrs, slog.String("type", e.Type))
	for _, k := range slices.Sorted(maps.Keys(e.Payload)) {
		attrs = append(attrs, slog.String(k, e.Payload[k]))
	}
	return slog.GroupValue(attrs...)
}

// Listener handles an event on a bus worker goroutine.
type Listener func(Event)
