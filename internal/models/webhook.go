// Package models defines the inbound webhook payload shape for souqbot.
package models

// WebhookPayload is the nested delivery envelope posted by the messaging
// provider: entry[0].changes[0].value.messages[0].
type WebhookPayload struct {
	Object string         `json:"object,omitempty"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry is one account-level entry in a delivery.
type WebhookEntry struct {
	ID      string          `json:"id,omitempty"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is one change notification inside an entry.
type WebhookChange struct {
	Field string       `json:"field,omitempty"`
	Value WebhookValue `json:"value"`
}

// WebhookValue carries the actual messages (or status updates, which souqbot
// acknowledges without processing).
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
}

// WebhookMessage is one inbound message delivery.
type WebhookMessage struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp string       `json:"timestamp,omitempty"`
	Type      string       `json:"type"`
	Text      *WebhookText `json:"text,omitempty"`
}

// WebhookText is the text body of a text-type message.
type WebhookText struct {
	Body string `json:"body"`
}

// FirstMessage digs out the first message of a delivery, or nil when the
// payload is not a message event.
func (p *WebhookPayload) FirstMessage() *WebhookMessage {
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return nil
	}
	msgs := p.Entry[0].Changes[0].Value.Messages
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[0]
}
