package meta

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// webhookPayload mirrors the Meta webhook delivery envelope.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"` // milliseconds
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// WebhookHandler returns the HTTP handler for the Meta webhook endpoint.
// GET answers the subscription handshake; POST ingests deliveries. POST
// always answers 200 so Meta does not disable the subscription over a
// transient processing problem.
func (c *Channel) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			c.handleVerify(w, r)
		case http.MethodPost:
			c.handleDelivery(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handleVerify answers the Meta subscription handshake by echoing the
// challenge when the verify token matches.
func (c *Channel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != c.config.VerifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(q.Get("hub.challenge")))
}

func (c *Channel) handleDelivery(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("meta webhook body read failed", "error", err)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("meta webhook parse failed", "error", err)
		return
	}

	channel, ok := channelForObject(payload.Object)
	if !ok {
		slog.Debug("ignoring meta webhook object", "object", payload.Object)
		return
	}

	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			c.handleMessaging(channel, ev)
		}
	}
}

// channelForObject maps the webhook object field to a stored channel.
func channelForObject(object string) (store.Channel, bool) {
	switch object {
	case "instagram":
		return store.ChannelInstagram, true
	case "page":
		return store.ChannelMessenger, true
	default:
		return "", false
	}
}

// handleMessaging normalizes one messaging event and publishes it. Every
// non-echo message in an acked delivery must reach the bus: the handler
// answers 200 regardless, so a dropped event here would never be redelivered.
func (c *Channel) handleMessaging(channel store.Channel, ev messagingEvent) {
	if ev.Message == nil || ev.Message.IsEcho || ev.Sender.ID == "" {
		return
	}

	kind := store.KindText
	content := ev.Message.Text
	var mediaPath string
	if len(ev.Message.Attachments) > 0 {
		att := ev.Message.Attachments[0]
		kind = attachmentKind(att.Type)
		mediaPath = att.Payload.URL
	}

	ts := time.Now()
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}

	slog.Debug("meta message received", "channel", channel, "sender_id", ev.Sender.ID, "kind", kind)

	c.Publish(bus.InboundMessage{
		Channel:    channel,
		NativeID:   ev.Sender.ID,
		Kind:       kind,
		Content:    content,
		MediaPath:  mediaPath,
		ExternalID: ev.Message.MID,
		Timestamp:  ts,
	})
}

func attachmentKind(t string) store.MessageKind {
	switch t {
	case "image":
		return store.KindImage
	case "video":
		return store.KindVideo
	case "audio":
		return store.KindAudio
	default:
		return store.KindDocument
	}
}
