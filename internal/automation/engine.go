package automation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/providers"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

const defaultHistoryLimit = 10

// Sender dispatches an outbound message and reports success. Implemented by
// the channel manager.
type Sender interface {
	Send(ctx context.Context, channel store.Channel, msg channels.OutboundMessage) bool
}

// Engine evaluates workflows against domain events.
type Engine struct {
	stores   *store.Stores
	sender   Sender
	provider providers.Provider
	cfg      config.AutomationConfig
	enabled  atomic.Bool
}

// NewEngine creates an automation engine. provider may be nil when no AI
// backend is configured; ai_reply actions then fail soft.
func NewEngine(stores *store.Stores, sender Sender, provider providers.Provider, cfg config.AutomationConfig) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	e := &Engine{stores: stores, sender: sender, provider: provider, cfg: cfg}
	e.enabled.Store(cfg.Enabled)
	return e
}

// SetEnabled toggles workflow evaluation at runtime. Config reloads use this
// so the flag applies without a restart.
func (e *Engine) SetEnabled(v bool) {
	e.enabled.Store(v)
}

// Handle processes one event fully: every active workflow is evaluated, and
// each one fires at most once. Errors inside workflows are contained; Handle
// itself only fails when the workflow list cannot be loaded.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if !e.enabled.Load() || ev.Client == nil {
		return nil
	}

	ctx, span := otel.Tracer("omnidesk/automation").Start(ctx, "automation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(ev.Type)),
		attribute.String("client.id", ev.Client.ID),
	)

	workflows, err := e.stores.Workflows.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, wf := range workflows {
		if e.workflowMatches(wf, ev) {
			e.runActions(ctx, wf, ev)
		}
	}
	return nil
}

// workflowMatches reports whether any trigger of wf matches ev. The first
// match wins; remaining triggers are not evaluated so a workflow with two
// matching triggers still fires once.
func (e *Engine) workflowMatches(wf store.Workflow, ev Event) bool {
	for _, trig := range wf.Triggers {
		if trig.Type != ev.Type {
			continue
		}
		cfg, err := ParseTriggerConfig(trig.Type, trig.Config)
		if err != nil {
			slog.Warn("invalid trigger config, skipping",
				"workflow", wf.Name, "trigger_id", trig.ID, "error", err)
			continue
		}
		if cfg.Matches(ev) {
			return true
		}
	}
	return false
}

// runActions executes the workflow's action list in index order. A failed
// or misconfigured action never stops the ones after it.
func (e *Engine) runActions(ctx context.Context, wf store.Workflow, ev Event) {
	slog.Info("workflow fired",
		"workflow", wf.Name, "event", ev.Type, "client_id", ev.Client.ID)

	for _, action := range wf.Actions {
		if err := e.runAction(ctx, action, ev); err != nil {
			if errors.Is(err, errMissingConfig) {
				slog.Warn("action config missing, skipping",
					"workflow", wf.Name, "action", action.Type, "index", action.Index)
				continue
			}
			slog.Error("action failed, continuing",
				"workflow", wf.Name, "action", action.Type, "index", action.Index, "error", err)
		}
	}
}

func (e *Engine) runAction(ctx context.Context, action store.Action, ev Event) error {
	cfg, err := ParseActionConfig(action.Type, action.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client := ev.Client
	switch c := cfg.(type) {
	case AddTagConfig:
		return e.stores.Clients.AddTag(ctx, client.ID, c.Tag)

	case SendMessageConfig:
		e.sendAndRecord(ctx, client, c.Content, c.Subject)
		return nil

	case AIReplyConfig:
		return e.aiReply(ctx, client, c)

	case UpdateStatusConfig:
		// Direct write, no history row; only user-initiated changes audit.
		return e.stores.Clients.UpdateStatus(ctx, client.ID, c.Status)

	case AssignAgentConfig:
		return e.stores.Clients.AssignAgent(ctx, client.ID, c.AgentID, time.Now())

	case CreateOpportunityConfig:
		return e.stores.Opportunities.Insert(ctx, &store.Opportunity{
			ClientID: client.ID,
			StageID:  c.StageID,
			Title:    c.Title,
		})

	default:
		return nil
	}
}

// sendAndRecord dispatches an outbound text and records it only when the
// channel reported success. A failed send leaves no message row.
func (e *Engine) sendAndRecord(ctx context.Context, client *store.Client, content, subject string) {
	ok := e.sender.Send(ctx, client.Channel, channels.OutboundMessage{
		NativeID: client.NativeID,
		Content:  content,
		Subject:  subject,
		Kind:     store.KindText,
	})
	if !ok {
		return
	}

	msg := &store.Message{
		ClientID:  client.ID,
		Direction: store.DirectionOutbound,
		Kind:      store.KindText,
		Content:   content,
		Channel:   client.Channel,
		Status:    store.DeliverySent,
	}
	if err := e.stores.Messages.Insert(ctx, msg); err != nil {
		slog.Error("failed to record outbound message", "client_id", client.ID, "error", err)
	}
}

// aiReply drafts a reply from recent conversation history and sends it.
func (e *Engine) aiReply(ctx context.Context, client *store.Client, cfg AIReplyConfig) error {
	if e.provider == nil {
		return errors.New("no ai provider configured")
	}

	history, err := e.stores.Messages.RecentByClient(ctx, client.ID, e.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	msgs := make([]providers.ChatMessage, 0, len(history)+1)
	if cfg.SystemPrompt != "" {
		msgs = append(msgs, providers.ChatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	for _, m := range history {
		role := "user"
		if m.Direction == store.DirectionOutbound {
			role = "assistant"
		}
		msgs = append(msgs, providers.ChatMessage{Role: role, Content: m.Content})
	}

	resp, err := e.provider.Chat(ctx, providers.ChatRequest{Model: e.cfg.AI.Model, Messages: msgs})
	if err != nil {
		return err
	}
	if resp.Content == "" {
		return errors.New("ai provider returned empty draft")
	}

	e.sendAndRecord(ctx, client, resp.Content, "")
	return nil
}
