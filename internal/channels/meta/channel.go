// Package meta ingests Instagram and Messenger messages pushed by the Meta
// webhook and sends replies through the Graph API. One adapter serves both
// channels; the webhook object field decides which one a message belongs to.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const defaultGraphURL = "https://graph.facebook.com/v19.0"

// Channel is the Meta platform adapter. It has no long-running transport of
// its own: inbound traffic arrives on the webhook handler mounted by the
// gateway, outbound goes to the Graph API.
type Channel struct {
	*channels.BaseChannel
	config     config.MetaConfig
	graphURL   string
	httpClient *http.Client
}

// New creates a Meta channel from config.
func New(cfg config.MetaConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.VerifyToken == "" {
		return nil, fmt.Errorf("meta verify_token is required")
	}
	if cfg.PageToken == "" {
		return nil, fmt.Errorf("meta page_token is required")
	}
	graphURL := cfg.GraphURL
	if graphURL == "" {
		graphURL = defaultGraphURL
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(store.ChannelMessenger, msgBus),
		config:      cfg,
		graphURL:    graphURL,
		httpClient:  &http.Client{},
	}, nil
}

// Start marks the adapter running. The webhook route is mounted by the
// gateway; nothing to spin up here.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting meta channel", "graph_url", c.graphURL)
	c.SetRunning(true)
	return nil
}

// Stop marks the adapter stopped.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send delivers a text reply through the Graph API send endpoint.
func (c *Channel) Send(ctx context.Context, msg channels.OutboundMessage) error {
	body := map[string]interface{}{
		"recipient":      map[string]string{"id": msg.NativeID},
		"messaging_type": "RESPONSE",
		"message":        map[string]string{"text": msg.Content},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal graph request: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", c.graphURL, c.config.PageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph send: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
