// Package ingest drains the inbound message bus and drives the pipeline:
// identity resolution, assignment, persistence, automation and agent
// fan-out.
package ingest

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/omnidesk-io/omnidesk/internal/assign"
	"github.com/omnidesk-io/omnidesk/internal/automation"
	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/identity"
	"github.com/omnidesk-io/omnidesk/internal/presence"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/pkg/protocol"
)

const (
	defaultWorkers = 4
	lockStripes    = 64
)

// Pipeline consumes inbound messages with a small worker pool. Events for
// different clients run in parallel; a striped lock serializes everything
// touching one client so automation never races itself on status or tags.
type Pipeline struct {
	bus      *bus.MessageBus
	resolver *identity.Resolver
	assigner *assign.Engine
	engine   *automation.Engine
	stores   *store.Stores
	presence *presence.Registry
	workers  int

	locks [lockStripes]sync.Mutex
}

// New creates a pipeline. workers <= 0 selects the default pool size.
func New(
	msgBus *bus.MessageBus,
	resolver *identity.Resolver,
	assigner *assign.Engine,
	engine *automation.Engine,
	stores *store.Stores,
	registry *presence.Registry,
	workers int,
) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		bus:      msgBus,
		resolver: resolver,
		assigner: assigner,
		engine:   engine,
		stores:   stores,
		presence: registry,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled, processing inbound messages.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for {
				msg, ok := p.bus.ConsumeInbound(ctx)
				if !ok {
					return nil
				}
				p.process(ctx, msg)
			}
		})
	}
	return g.Wait()
}

// lockFor returns the stripe lock for a client id.
func (p *Pipeline) lockFor(clientID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &p.locks[h.Sum32()%lockStripes]
}

// process handles one inbound message end to end. Every failure is logged
// and contained; the worker moves on to the next message.
func (p *Pipeline) process(ctx context.Context, msg bus.InboundMessage) {
	tracer := otel.Tracer("omnidesk/ingest")
	ctx, span := tracer.Start(ctx, "ingest.message")
	span.SetAttributes(
		attribute.String("channel", string(msg.Channel)),
		attribute.String("kind", string(msg.Kind)),
	)
	defer span.End()

	client, created, err := p.resolver.Resolve(ctx, msg)
	if err != nil {
		slog.Error("identity resolution failed",
			"channel", msg.Channel, "native_id", msg.NativeID, "error", err)
		return
	}

	if client == nil {
		// Unmatched email sender: keep the message, attached to nobody.
		p.insertInbound(ctx, msg, "")
		return
	}

	lock := p.lockFor(client.ID)
	lock.Lock()
	defer lock.Unlock()

	if created {
		slog.Info("new client",
			"client_id", client.ID, "channel", client.Channel, "native_id", client.NativeID)
		p.presence.Broadcast(protocol.EventClientNew, client)

		agentID, err := p.assigner.Assign(ctx, client)
		if err != nil {
			slog.Error("assignment failed", "client_id", client.ID, "error", err)
		} else if agentID != "" {
			p.presence.SendTo(agentID, protocol.EventClientAssigned, client)
		}

		if err := p.engine.Handle(ctx, automation.ClientCreated(client)); err != nil {
			slog.Error("client_created automation failed", "client_id", client.ID, "error", err)
		}
	}

	inserted := p.insertInbound(ctx, msg, client.ID)
	if inserted == nil {
		return
	}

	if err := p.engine.Handle(ctx, automation.MessageReceived(client, inserted)); err != nil {
		slog.Error("message_received automation failed", "client_id", client.ID, "error", err)
	}

	p.presence.Broadcast(protocol.EventMessageNew, inserted)
}

// insertInbound persists the inbound message row. Returns nil on failure.
func (p *Pipeline) insertInbound(ctx context.Context, msg bus.InboundMessage, clientID string) *store.Message {
	m := &store.Message{
		ClientID:   clientID,
		Direction:  store.DirectionInbound,
		Kind:       msg.Kind,
		Content:    msg.Content,
		MediaPath:  msg.MediaPath,
		Channel:    msg.Channel,
		ExternalID: msg.ExternalID,
		Status:     store.DeliverySent,
		CreatedAt:  msg.Timestamp,
	}
	if err := p.stores.Messages.Insert(ctx, m); err != nil {
		slog.Error("failed to persist inbound message",
			"channel", msg.Channel, "native_id", msg.NativeID, "error", err)
		return nil
	}
	return m
}

// HandleReceipt applies a delivery receipt to the matching outbound message
// and notifies agents. Unknown receipts are ignored; providers replay them.
func (p *Pipeline) HandleReceipt(ctx context.Context, channel store.Channel, externalID string, status store.DeliveryStatus) {
	id, err := p.stores.Messages.UpdateDeliveryStatus(ctx, channel, externalID, status)
	if err != nil {
		slog.Debug("receipt for unknown message", "channel", channel, "external_id", externalID)
		return
	}
	p.presence.Broadcast(protocol.EventMessageStatus, map[string]string{
		"id":     id,
		"status": string(status),
	})
}
