// Package channels provides the channel abstraction layer connecting
// external messaging transports (WhatsApp socket, Meta webhooks, polled
// mailboxes) to the ingest pipeline via the message bus.
package channels

import (
	"context"
	"strings"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

// OutboundMessage is a send request handed to a channel adapter.
type OutboundMessage struct {
	NativeID string // channel-native destination address
	Content  string
	Subject  string // email only
	Media    string // local media path, optional
	Kind     store.MessageKind
}

// Channel is the interface every channel adapter implements.
type Channel interface {
	// Name returns the channel identifier this adapter sends for.
	Name() store.Channel

	// Start begins listening/polling. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Send delivers an outbound message. A failed send is an error to the
	// caller but never fatal to the adapter.
	Send(ctx context.Context, msg OutboundMessage) error

	// IsRunning reports whether the adapter is actively processing.
	IsRunning() bool
}

// BaseChannel provides shared functionality for channel adapters.
// Implementations embed this struct.
type BaseChannel struct {
	name    store.Channel
	bus     *bus.MessageBus
	running bool
}

// NewBaseChannel creates a BaseChannel publishing to msgBus.
func NewBaseChannel(name store.Channel, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the channel identifier.
func (c *BaseChannel) Name() store.Channel { return c.name }

// IsRunning reports whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// Publish forwards a normalized inbound message to the pipeline.
func (c *BaseChannel) Publish(msg bus.InboundMessage) {
	if msg.Channel == "" {
		msg.Channel = c.name
	}
	c.bus.PublishInbound(msg)
}

// DigitsOnly strips an address down to its digits. One-to-one chat
// addresses are phone-derived; this is the canonical identity form.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
