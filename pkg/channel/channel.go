package channel

import (
	"context"
	"strings"
)

const (
	EventTypeMessage = "message"
	MessageTypeText  = "text"

	messagePreviewLimit = 240
)

// Event is one user action reported by a messaging platform, reduced to the
// fields the relay acts on.
type Event struct {
	Channel     string
	DeliveryID  string
	Type        string
	MessageType string
	Text        string
	ReplyToken  string
	SourceID    string
}

// Actionable reports whether the event is a text message.
func (e Event) Actionable() bool {
	return e.Type == EventTypeMessage && e.MessageType == MessageTypeText
}

// Replier sends one text reply correlated by a platform reply token.
// Configured is false when the outbound client was never constructed.
type Replier interface {
	Configured() bool
	Reply(ctx context.Context, replyToken string, text string) error
}

type deliveryIDKey struct{}

// WithDeliveryID tags ctx with the ID of the webhook delivery being processed.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryIDKey{}, id)
}

// DeliveryID returns the delivery ID stored by WithDeliveryID, or "".
func DeliveryID(ctx context.Context) string {
	id, _ := ctx.Value(deliveryIDKey{}).(string)
	return id
}

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}
