package store

import (
	"encoding/json"
	"time"
)

// Channel identifies the transport a client or message arrived through.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelMessenger Channel = "messenger"
	ChannelEmail     Channel = "email"
)

// ClientStatus is the lifecycle status of a client conversation.
type ClientStatus string

const (
	StatusNew        ClientStatus = "new"
	StatusInProgress ClientStatus = "in_progress"
	StatusTreated    ClientStatus = "treated"
	StatusRelaunched ClientStatus = "relaunched"
	StatusClosed     ClientStatus = "closed"
)

// Direction marks a message as received from or sent to a client.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks outbound message delivery.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
)

// MessageKind classifies message content.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
)

// Client is the canonical cross-channel customer record.
// (Channel, NativeID) is unique; clients are created once by the identity
// resolver and only updated afterwards, never deleted by the pipeline.
type Client struct {
	ID            string       `json:"id"`
	Channel       Channel      `json:"channel"`
	NativeID      string       `json:"native_id"`
	Name          string       `json:"name"`
	AgentID       string       `json:"agent_id,omitempty"` // empty = unassigned
	Status        ClientStatus `json:"status"`
	Tags          []string     `json:"tags,omitempty"`
	LastMessageAt time.Time    `json:"last_message_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Message is one inbound or outbound message. Immutable after insert except
// for delivery status transitions.
type Message struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"client_id,omitempty"` // empty for unmatched email senders
	Direction  Direction      `json:"direction"`
	Kind       MessageKind    `json:"kind"`
	Content    string         `json:"content"`
	MediaPath  string         `json:"media_path,omitempty"`
	Channel    Channel        `json:"channel"`
	ExternalID string         `json:"external_id,omitempty"` // provider message id (dedup key for email)
	Status     DeliveryStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Agent is a human operator. Owned by user management; the pipeline only
// reads id, active and role.
type Agent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
	Role   string `json:"role"`
}

// TriggerType enumerates the domain events a workflow can react to.
type TriggerType string

const (
	TriggerClientCreated   TriggerType = "client_created"
	TriggerStatusChange    TriggerType = "status_change"
	TriggerMessageReceived TriggerType = "message_received"
	TriggerStageChange     TriggerType = "stage_change"
)

// ActionType enumerates what a workflow can do when it fires.
type ActionType string

const (
	ActionSendMessage       ActionType = "send_message"
	ActionAddTag            ActionType = "add_tag"
	ActionUpdateStatus      ActionType = "update_status"
	ActionAssignAgent       ActionType = "assign_agent"
	ActionCreateOpportunity ActionType = "create_opportunity"
	ActionAIReply           ActionType = "ai_reply"
)

// Trigger is one workflow trigger. Config is a type-specific JSON object
// (see automation package for the per-type config structs).
type Trigger struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       TriggerType     `json:"type"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Action is one ordered workflow action.
type Action struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	Type       ActionType      `json:"type"`
	Index      int             `json:"index"`
	Config     json.RawMessage `json:"config,omitempty"`
}

// Workflow is a named trigger→actions automation definition.
// Read-only to the pipeline; operators edit it elsewhere.
type Workflow struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Active   bool      `json:"active"`
	Triggers []Trigger `json:"triggers"`
	Actions  []Action  `json:"actions"` // sorted ascending by Index
}

// Opportunity is a pipeline record created by the create_opportunity action.
type Opportunity struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	StageID   string    `json:"stage_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
