package whatsapp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound is a customer message delivered by the Gupshup webhook.
type Inbound struct {
	MessageID string
	Phone     string
	Name      string
	Type      string
	Text      string
	At        time.Time
}

type webhookEvent struct {
	App       string `json:"app"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
	Payload   struct {
		ID      string          `json:"id"`
		Source  string          `json:"source"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Sender  struct {
			Phone string `json:"phone"`
			Name  string `json:"name"`
		} `json:"sender"`
	} `json:"payload"`
}

type messageBody struct {
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Title   string `json:"title"`
}

// ParseWebhook decodes a Gupshup v2 callback. ok is false for events that
// are not customer messages (delivery reports, opt-ins and the like).
func ParseWebhook(body []byte) (in Inbound, ok bool, err error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return Inbound{}, false, fmt.Errorf("decode webhook: %w", err)
	}
	if ev.Type != "message" {
		return Inbound{}, false, nil
	}

	phone := ev.Payload.Sender.Phone
	if phone == "" {
		phone = ev.Payload.Source
	}
	if phone == "" {
		return Inbound{}, false, fmt.Errorf("message %q has no sender", ev.Payload.ID)
	}

	in = Inbound{
		MessageID: ev.Payload.ID,
		Phone:     phone,
		Name:      ev.Payload.Sender.Name,
		Type:      ev.Payload.Type,
	}
	if ev.Timestamp > 0 {
		in.At = time.UnixMilli(ev.Timestamp).UTC()
	}

	var mb messageBody
	if len(ev.Payload.Payload) > 0 {
		// Unknown payload shapes still count as inbound messages.
		_ = json.Unmarshal(ev.Payload.Payload, &mb)
	}
	switch {
	case mb.Text != "":
		in.Text = mb.Text
	case mb.Caption != "":
		in.Text = mb.Caption
	case mb.Title != "":
		in.Text = mb.Title
	default:
		in.Text = "[" + ev.Payload.Type + "]"
	}
	return in, true, nil
}
