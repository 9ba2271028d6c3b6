// Package automation runs operator-defined workflows against domain events:
// each active workflow whose trigger matches executes its ordered action
// list, at most once per event.
package automation

import "github.com/omnidesk-io/omnidesk/internal/store"

// Event is one domain occurrence the engine can react to. Client is always
// set; the remaining fields depend on Type.
type Event struct {
	Type    store.TriggerType
	Client  *store.Client
	Message *store.Message // message_received only; always inbound

	// status_change only.
	FromStatus store.ClientStatus
	ToStatus   store.ClientStatus

	// stage_change only.
	StageID string
}

// ClientCreated builds a client_created event.
func ClientCreated(client *store.Client) Event {
	return Event{Type: store.TriggerClientCreated, Client: client}
}

// MessageReceived builds a message_received event. Only inbound messages
// produce this event; outbound sends never re-enter the engine, which is
// what keeps reply actions from triggering themselves.
func MessageReceived(client *store.Client, msg *store.Message) Event {
	return Event{Type: store.TriggerMessageReceived, Client: client, Message: msg}
}

// StatusChanged builds a status_change event.
func StatusChanged(client *store.Client, from, to store.ClientStatus) Event {
	return Event{Type: store.TriggerStatusChange, Client: client, FromStatus: from, ToStatus: to}
}

// StageChanged builds a stage_change event.
func StageChanged(client *store.Client, stageID string) Event {
	return Event{Type: store.TriggerStageChange, Client: client, StageID: stageID}
}
