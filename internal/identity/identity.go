// Package identity maps channel-native sender addresses onto canonical
// client records.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

// Resolver resolves inbound messages to clients. Chat channels create
// clients on first contact; email only matches clients that already exist.
type Resolver struct {
	clients store.ClientStore
}

// NewResolver creates a resolver over the client store.
func NewResolver(clients store.ClientStore) *Resolver {
	return &Resolver{clients: clients}
}

// Resolve returns the client for an inbound message and whether it was just
// created. For email senders with no matching client the returned client is
// nil and no error is raised: the message is still stored, unattached.
func (r *Resolver) Resolve(ctx context.Context, msg bus.InboundMessage) (*store.Client, bool, error) {
	if msg.Channel == store.ChannelEmail {
		client, err := r.clients.FindByEmail(ctx, strings.ToLower(msg.NativeID))
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("find client by email: %w", err)
		}
		return client, false, nil
	}

	name := msg.SenderName
	if name == "" {
		name = msg.NativeID
	}

	client, created, err := r.clients.GetOrCreate(ctx, msg.Channel, msg.NativeID, name, msg.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("get or create client: %w", err)
	}

	if !created {
		r.enrichName(ctx, client, msg.SenderName)
	}
	return client, created, nil
}

// enrichName upgrades a placeholder client name once the channel learns the
// real one. Best-effort: a failed update is logged, never fatal.
func (r *Resolver) enrichName(ctx context.Context, client *store.Client, senderName string) {
	if senderName == "" || senderName == client.Name {
		return
	}
	if client.Name != "" && client.Name != client.NativeID {
		return
	}
	if err := r.clients.UpdateName(ctx, client.ID, senderName); err != nil {
		slog.Warn("client name enrichment failed", "client_id", client.ID, "error", err)
		return
	}
	client.Name = senderName
}
