package bus

import "time"

type EventType string

const (
	EventReceived    EventType = "event_received"
	EventFiltered    EventType = "event_filtered"
	EventDegraded    EventType = "event_degraded"
	EventReplySent   EventType = "reply_sent"
	EventReplyFailed EventType = "reply_failed"
	EventPanicked    EventType = "event_panicked"
)

// Event is one lifecycle notification about a dispatched chat event.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	DeliveryID string            `json:"delivery_id,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}
