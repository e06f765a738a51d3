package line

import (
	"encoding/json"

	"linerelay/pkg/channel"
)

const channelName = "line"

// Delivery is the body of one LINE webhook request.
type Delivery struct {
	Destination string
	Events      []Event
}

// Event is one LINE webhook event. Only the fields the relay reads are kept.
type Event struct {
	Type           string   `json:"type"`
	Mode           string   `json:"mode,omitempty"`
	Timestamp      int64    `json:"timestamp,omitempty"`
	WebhookEventID string   `json:"webhookEventId,omitempty"`
	ReplyToken     string   `json:"replyToken,omitempty"`
	Source         *Source  `json:"source,omitempty"`
	Message        *Message `json:"message,omitempty"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type Message struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type rawDelivery struct {
	Destination string          `json:"destination"`
	Events      json.RawMessage `json:"events"`
}

// DecodeDelivery parses body leniently. A missing or non-array events field
// yields no events; individual events that fail to decode are skipped and
// counted in dropped.
func DecodeDelivery(body []byte) (delivery Delivery, dropped int, err error) {
	var raw rawDelivery
	if err := json.Unmarshal(body, &raw); err != nil {
		return Delivery{}, 0, err
	}

	delivery.Destination = raw.Destination

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Events, &items); err != nil {
		return delivery, 0, nil
	}

	delivery.Events = make([]Event, 0, len(items))
	for _, item := range items {
		var event Event
		if err := json.Unmarshal(item, &event); err != nil {
			dropped++
			continue
		}
		delivery.Events = append(delivery.Events, event)
	}

	return delivery, dropped, nil
}

// ToChannelEvent maps a LINE event onto the platform-neutral Event.
func (e Event) ToChannelEvent(deliveryID string) channel.Event {
	event := channel.Event{
		Channel:    channelName,
		DeliveryID: deliveryID,
		Type:       e.Type,
		ReplyToken: e.ReplyToken,
	}
	if e.Message != nil {
		event.MessageType = e.Message.Type
		event.Text = e.Message.Text
	}
	if e.Source != nil {
		event.SourceID = e.Source.UserID
	}

	return event
}
