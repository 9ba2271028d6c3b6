package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// sendTimeout bounds every outbound provider call; a timeout is a failed
// send, not a crash.
const sendTimeout = 15 * time.Second

// Manager owns all registered channel adapters, handles their lifecycle
// and routes outbound sends to the right adapter.
type Manager struct {
	mu       sync.RWMutex
	channels map[store.Channel]Channel
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[store.Channel]Channel)}
}

// Register adds an adapter under one or more channel names. The Meta
// adapter registers for both instagram and messenger.
func (m *Manager) Register(ch Channel, names ...store.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(names) == 0 {
		names = []store.Channel{ch.Name()}
	}
	for _, name := range names {
		m.channels[name] = ch
	}
}

// StartAll starts every registered adapter. A failing adapter is logged
// and skipped; the others still start.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	started := make(map[Channel]bool)
	for name, ch := range m.channels {
		if started[ch] {
			continue
		}
		started[ch] = true
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll gracefully stops every adapter.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stopped := make(map[Channel]bool)
	for name, ch := range m.channels {
		if stopped[ch] {
			continue
		}
		stopped[ch] = true
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// Get returns the adapter registered for name.
func (m *Manager) Get(name store.Channel) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Send dispatches an outbound message on the client's channel and reports
// success. Failures are logged, never raised: the automation engine treats
// a false return as "do not record an outbound message".
func (m *Manager) Send(ctx context.Context, channel store.Channel, msg OutboundMessage) bool {
	ch, ok := m.Get(channel)
	if !ok {
		slog.Warn("send to unregistered channel", "channel", channel)
		return false
	}

	ctx, span := otel.Tracer("omnidesk/channels").Start(ctx, "channel.send")
	defer span.End()
	span.SetAttributes(attribute.String("channel", string(channel)))

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := ch.Send(sendCtx, msg); err != nil {
		slog.Warn("channel send failed", "channel", channel, "to", msg.NativeID, "error", err)
		return false
	}
	return true
}
