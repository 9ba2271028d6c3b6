package bus

import (
	"time"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// InboundMessage is the canonical normalized event every channel adapter
// emits, regardless of transport (socket, webhook, mailbox poll).
type InboundMessage struct {
	Channel    store.Channel     `json:"channel"`
	NativeID   string            `json:"native_id"`   // channel-native counterparty id (identity key)
	SenderName string            `json:"sender_name,omitempty"`
	Kind       store.MessageKind `json:"kind"`
	Content    string            `json:"content"`
	MediaPath  string            `json:"media_path,omitempty"`
	ExternalID string            `json:"external_id,omitempty"` // provider message id
	Timestamp  time.Time         `json:"timestamp"`
}

// Event is a server-side event fanned out to connected agent clients.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so the gateway
// and channels decouple from the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
