package protocol

// ProtocolVersion is bumped whenever the WebSocket event contract changes.
const ProtocolVersion = 2

// WebSocket event names pushed from server to agent clients.
const (
	EventClientNew      = "client:new"
	EventClientAssigned = "client:assigned"
	EventClientUpdated  = "client:updated"
	EventMessageNew     = "message:new"
	EventMessageStatus  = "message:status"

	// WhatsApp session lifecycle events.
	EventWhatsAppQR           = "wa:qr"
	EventWhatsAppConnected    = "wa:connected"
	EventWhatsAppDisconnected = "wa:disconnected"
	EventWhatsAppStatus       = "wa:status"
	EventWhatsAppLogout       = "wa:logout"

	EventHealth   = "health"
	EventShutdown = "shutdown"
)

// EventFrame is the wire envelope for a server-pushed event.
type EventFrame struct {
	Type    string      `json:"type"` // always "event"
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame for the given event name and payload.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: "event", Event: name, Payload: payload}
}
