// Package store defines the repository contract the ingestion pipeline
// depends on, plus the domain types it persists. Two backends implement it:
// store/pg (managed mode, Postgres) and store/sqlite (standalone mode and
// tests).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// ClientStore persists canonical clients.
type ClientStore interface {
	// GetOrCreate returns the client for (channel, nativeID), creating it
	// with status "new" if unseen. Creation is exactly-once under
	// concurrency (unique index + conflict-tolerant insert). For existing
	// clients last_message_at/updated_at are refreshed to at; status is
	// left untouched. The second return reports whether a row was created.
	GetOrCreate(ctx context.Context, channel Channel, nativeID, name string, at time.Time) (*Client, bool, error)

	GetByID(ctx context.Context, id string) (*Client, error)

	// FindByEmail returns the client whose email-channel native id matches
	// addr, or ErrNotFound. Used by the mailbox poller, which never creates.
	FindByEmail(ctx context.Context, addr string) (*Client, error)

	UpdateName(ctx context.Context, id, name string) error
	UpdateStatus(ctx context.Context, id string, status ClientStatus) error

	// RecordStatusChange appends a status-history row. User-initiated
	// changes call this; the update_status automation action does not.
	RecordStatusChange(ctx context.Context, id string, from, to ClientStatus) error

	// AssignAgent writes the agent onto the client and stamps assigned_at,
	// which feeds the round-robin recency ordering.
	AssignAgent(ctx context.Context, clientID, agentID string, at time.Time) error

	// AddTag upserts a tag association. Re-adding is a no-op, not an error.
	AddTag(ctx context.Context, clientID, tag string) error
	Tags(ctx context.Context, clientID string) ([]string, error)
}

// MessageStore is an append-only message log with delivery-status updates.
type MessageStore interface {
	Insert(ctx context.Context, m *Message) error

	// ExistsByExternalID reports whether a message with the given provider
	// id was already stored for the channel (email dedup).
	ExistsByExternalID(ctx context.Context, channel Channel, externalID string) (bool, error)

	// RecentByClient returns the most recent limit messages for a client in
	// chronological order (oldest first).
	RecentByClient(ctx context.Context, clientID string, limit int) ([]Message, error)

	// UpdateDeliveryStatus transitions a message's delivery status by its
	// provider external id. Returns the message id, or ErrNotFound.
	UpdateDeliveryStatus(ctx context.Context, channel Channel, externalID string, status DeliveryStatus) (string, error)
}

// AgentStore reads agents and their assignment recency.
type AgentStore interface {
	ListActive(ctx context.Context) ([]Agent, error)

	// LastAssignments returns, per agent id, the timestamp of that agent's
	// most recently assigned client. Agents with no assignment are absent.
	LastAssignments(ctx context.Context) (map[string]time.Time, error)
}

// WorkflowStore reads automation definitions. Actions come back sorted
// ascending by index.
type WorkflowStore interface {
	ListActive(ctx context.Context) ([]Workflow, error)
}

// OpportunityStore inserts pipeline records.
type OpportunityStore interface {
	Insert(ctx context.Context, o *Opportunity) error
}

// Stores bundles every repository the pipeline needs.
type Stores struct {
	Clients       ClientStore
	Messages      MessageStore
	Agents        AgentStore
	Workflows     WorkflowStore
	Opportunities OpportunityStore

	closer func() error
}

// NewStores bundles the given repositories; closer may be nil.
func NewStores(c ClientStore, m MessageStore, a AgentStore, w WorkflowStore, o OpportunityStore, closer func() error) *Stores {
	return &Stores{Clients: c, Messages: m, Agents: a, Workflows: w, Opportunities: o, closer: closer}
}

// Close releases the underlying database handle, if any.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
