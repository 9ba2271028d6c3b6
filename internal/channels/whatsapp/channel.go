// Package whatsapp maintains the chat session against a WhatsApp bridge
// over WebSocket. The bridge owns the wire protocol; this adapter owns the
// session lifecycle: QR pairing, credential persistence, reconnection and
// message normalization.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/pkg/protocol"
)

// SessionState describes where the session is in its lifecycle.
type SessionState string

const (
	StateUninitialized SessionState = "uninitialized"
	StatePairing       SessionState = "pairing"
	StateConnected     SessionState = "connected"
	StateReconnecting  SessionState = "reconnecting"
	StateDisconnected  SessionState = "disconnected"
)

const maxReconnectDelay = 60 * time.Second

// ReceiptFunc is invoked for delivery receipts on outbound messages.
type ReceiptFunc func(externalID string, status store.DeliveryStatus)

// Channel connects to a WhatsApp bridge via WebSocket. The bridge speaks
// JSON frames; credentials returned after a QR scan are persisted so
// restarts resume the session without re-pairing.
type Channel struct {
	*channels.BaseChannel
	config      config.WhatsAppConfig
	mediaDir    string
	maxDownload int64
	thumbnails  bool
	httpClient  *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	state     SessionState
	qrCode    string
	account   string
	loggedOut bool

	onReceipt ReceiptFunc

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, media config.MediaConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	if cfg.CredentialsPath == "" {
		return nil, fmt.Errorf("whatsapp credentials_path is required")
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(store.ChannelWhatsApp, msgBus),
		config:      cfg,
		mediaDir:    media.Dir,
		maxDownload: media.MaxDownloadBytes,
		thumbnails:  media.Thumbnails,
		httpClient:  &http.Client{},
		state:       StateUninitialized,
	}, nil
}

// OnReceipt registers the delivery-receipt callback. Must be called before
// Start.
func (c *Channel) OnReceipt(fn ReceiptFunc) { c.onReceipt = fn }

// State returns the current session state.
func (c *Channel) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status describes the session for the gateway status endpoint.
type Status struct {
	State   SessionState `json:"state"`
	Account string       `json:"account,omitempty"`
	QRCode  string       `json:"qr_code,omitempty"`
}

// SessionStatus returns a snapshot of the session.
func (c *Channel) SessionStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{State: c.state, Account: c.account}
	if c.state == StatePairing {
		s.QRCode = c.qrCode
	}
	return s
}

// Start connects to the bridge and begins the session loop.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Initial connect failure is not fatal; the session loop retries.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.sessionLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the channel. Credentials stay on disk so the
// next start resumes the session.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.SetRunning(false)
	return nil
}

// Logout ends the session permanently: tells the bridge to unlink, deletes
// the stored credentials and leaves the session disconnected. Safe to call
// when already logged out.
func (c *Channel) Logout(_ context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.writeFrame(map[string]interface{}{"type": "logout"})
		_ = c.conn.Close()
		c.conn = nil
	}
	c.loggedOut = true
	c.state = StateDisconnected
	c.account = ""
	c.qrCode = ""
	c.mu.Unlock()

	if err := deleteCredentials(c.config.CredentialsPath); err != nil {
		return fmt.Errorf("delete whatsapp credentials: %w", err)
	}

	c.Bus().Broadcast(bus.Event{Name: protocol.EventWhatsAppLogout})
	slog.Info("whatsapp session logged out")
	return nil
}

// Send delivers an outbound message through the bridge.
func (c *Channel) Send(_ context.Context, msg channels.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.state != StateConnected {
		return fmt.Errorf("whatsapp session not connected")
	}

	frame := map[string]interface{}{
		"type":    "send",
		"to":      sendAddress(msg.NativeID),
		"content": msg.Content,
	}
	if msg.Media != "" {
		frame["media_path"] = msg.Media
		frame["kind"] = string(msg.Kind)
	}
	return c.writeFrame(frame)
}

// sendAddress restores a bridge-routable JID from the stored identity.
// Group and broadcast identities already carry their suffix; one-to-one
// identities are bare digits.
func sendAddress(nativeID string) string {
	if strings.Contains(nativeID, "@") {
		return nativeID
	}
	return nativeID + "@s.whatsapp.net"
}

// writeFrame marshals and writes one JSON frame. Caller holds c.mu.
func (c *Channel) writeFrame(frame map[string]interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write bridge frame: %w", err)
	}
	return nil
}

// connect dials the bridge and opens the session: resume with stored
// credentials when present, otherwise request a fresh QR pairing.
func (c *Channel) connect() error {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn

	if cred := loadCredentials(c.config.CredentialsPath); cred != nil {
		c.state = StateReconnecting
		if err := c.writeFrame(map[string]interface{}{"type": "resume", "credentials": cred.Blob}); err != nil {
			_ = conn.Close()
			c.conn = nil
			return err
		}
	} else {
		c.state = StatePairing
		if err := c.writeFrame(map[string]interface{}{"type": "pair"}); err != nil {
			_ = conn.Close()
			c.conn = nil
			return err
		}
	}

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// sessionLoop reads frames from the bridge and reconnects on transport
// loss with exponential backoff. Retries are unbounded in count but the
// delay is capped; the loop ends only on shutdown or explicit logout.
func (c *Channel) sessionLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		loggedOut := c.loggedOut
		c.mu.Unlock()

		if loggedOut {
			return
		}

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, maxReconnectDelay)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			c.dropConnection()
			continue
		}

		var frame map[string]json.RawMessage
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

// dropConnection closes the socket and marks the session reconnecting.
func (c *Channel) dropConnection() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if !c.loggedOut {
		c.state = StateReconnecting
	}
	c.mu.Unlock()
	c.Bus().Broadcast(bus.Event{Name: protocol.EventWhatsAppDisconnected})
}

// handleFrame dispatches one bridge frame by type.
func (c *Channel) handleFrame(frame map[string]json.RawMessage) {
	var frameType string
	if raw, ok := frame["type"]; ok {
		_ = json.Unmarshal(raw, &frameType)
	}

	switch frameType {
	case "qr":
		var code string
		_ = json.Unmarshal(frame["code"], &code)
		c.mu.Lock()
		c.state = StatePairing
		c.qrCode = code
		c.mu.Unlock()
		slog.Info("whatsapp pairing code received, scan to link")
		c.Bus().Broadcast(bus.Event{Name: protocol.EventWhatsAppQR, Payload: map[string]string{"code": code}})

	case "connected":
		var account string
		if raw, ok := frame["account"]; ok {
			_ = json.Unmarshal(raw, &account)
		}
		c.mu.Lock()
		c.state = StateConnected
		c.qrCode = ""
		c.account = account
		c.mu.Unlock()
		slog.Info("whatsapp session connected", "account", account)
		c.Bus().Broadcast(bus.Event{Name: protocol.EventWhatsAppConnected, Payload: map[string]string{"account": account}})

	case "credentials":
		// The bridge re-issues credentials when keys rotate; always persist
		// the latest blob.
		cred := &Credentials{Blob: frame["credentials"]}
		if err := saveCredentials(c.config.CredentialsPath, cred); err != nil {
			slog.Error("failed to persist whatsapp credentials", "error", err)
		}

	case "message":
		var msg bridgeMessage
		data, _ := json.Marshal(frame)
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid whatsapp message frame", "error", err)
			return
		}
		c.handleIncomingMessage(msg)

	case "receipt":
		c.handleReceipt(frame)

	case "closed":
		var reason string
		if raw, ok := frame["reason"]; ok {
			_ = json.Unmarshal(raw, &reason)
		}
		if reason == "logged_out" {
			// Unlinked from the phone: credentials are dead, do not retry.
			slog.Warn("whatsapp session logged out remotely")
			c.mu.Lock()
			c.loggedOut = true
			c.state = StateDisconnected
			c.account = ""
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			if err := deleteCredentials(c.config.CredentialsPath); err != nil {
				slog.Error("failed to delete whatsapp credentials", "error", err)
			}
			c.Bus().Broadcast(bus.Event{Name: protocol.EventWhatsAppLogout})
			return
		}
		slog.Warn("whatsapp bridge closed session", "reason", reason)
		c.dropConnection()

	default:
		slog.Debug("ignoring whatsapp bridge frame", "type", frameType)
	}
}

// handleIncomingMessage normalizes a bridge message and publishes it to the
// ingest pipeline.
func (c *Channel) handleIncomingMessage(msg bridgeMessage) {
	if msg.FromMe {
		return
	}

	chat := msg.Chat
	if chat == "" {
		chat = msg.Sender
	}
	nativeID, ok := nativeAddress(chat)
	if !ok || nativeID == "" {
		slog.Debug("dropping whatsapp message from excluded chat", "chat", chat)
		return
	}

	kind := messageKind(msg.Kind)
	content := msg.Text

	var mediaPath string
	if msg.MediaURL != "" {
		path, err := c.downloadMedia(c.ctx, msg.MediaURL, msg.MimeType, kind)
		if err != nil {
			slog.Warn("whatsapp media download failed", "error", err, "chat", chat)
		} else {
			mediaPath = path
		}
	}

	senderName := msg.PushName
	if isGenericName(senderName, chat) {
		senderName = ""
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.Unix(msg.Timestamp, 0)
	}

	slog.Debug("whatsapp message received", "chat", chat, "kind", kind)

	c.Publish(bus.InboundMessage{
		NativeID:   nativeID,
		SenderName: senderName,
		Kind:       kind,
		Content:    content,
		MediaPath:  mediaPath,
		ExternalID: msg.ID,
		Timestamp:  ts,
	})
}

// handleReceipt forwards delivery receipts for outbound messages.
func (c *Channel) handleReceipt(frame map[string]json.RawMessage) {
	if c.onReceipt == nil {
		return
	}
	var id, statusStr string
	if raw, ok := frame["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}
	if raw, ok := frame["status"]; ok {
		_ = json.Unmarshal(raw, &statusStr)
	}
	if id == "" {
		return
	}

	var status store.DeliveryStatus
	switch statusStr {
	case "delivered":
		status = store.DeliveryDelivered
	case "read":
		status = store.DeliveryRead
	default:
		return
	}
	c.onReceipt(id, status)
}
