package ingest

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/assign"
	"github.com/omnidesk-io/omnidesk/internal/automation"
	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/identity"
	"github.com/omnidesk-io/omnidesk/internal/presence"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/internal/store/sqlite"
)

type stubSender struct {
	mu   sync.Mutex
	sent []channels.OutboundMessage
}

func (s *stubSender) Send(_ context.Context, _ store.Channel, msg channels.OutboundMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return true
}

type nullConn struct{}

func (nullConn) SendEvent(string, interface{}) {}

type fixture struct {
	db       *sql.DB
	stores   *store.Stores
	bus      *bus.MessageBus
	registry *presence.Registry
	sender   *stubSender
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stores := store.NewStores(
		sqlite.NewClientStore(db),
		sqlite.NewMessageStore(db),
		sqlite.NewAgentStore(db),
		sqlite.NewWorkflowStore(db),
		sqlite.NewOpportunityStore(db),
		nil,
	)

	msgBus := bus.New()
	registry := presence.NewRegistry()
	sender := &stubSender{}

	resolver := identity.NewResolver(stores.Clients)
	assigner := assign.NewEngine(stores.Clients, stores.Agents, registry, config.AssignmentConfig{})
	engine := automation.NewEngine(stores, sender, nil, config.AutomationConfig{Enabled: true, HistoryLimit: 5})

	return &fixture{
		db:       db,
		stores:   stores,
		bus:      msgBus,
		registry: registry,
		sender:   sender,
		pipeline: New(msgBus, resolver, assigner, engine, stores, registry, 1),
	}
}

func (f *fixture) addAgent(t *testing.T, id string) {
	t.Helper()
	if _, err := f.db.Exec(`INSERT INTO agents (id, name, active, role) VALUES (?, ?, 1, 'agent')`, id, id); err != nil {
		t.Fatalf("insert agent: %v", err)
	}
}

func (f *fixture) addWelcomeWorkflow(t *testing.T) {
	t.Helper()
	wfID := uuid.Must(uuid.NewV7()).String()
	if _, err := f.db.Exec(`INSERT INTO workflows (id, name, active) VALUES (?, 'welcome', 1)`, wfID); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO triggers (id, workflow_id, type, config) VALUES (?, ?, 'client_created', '')`,
		uuid.Must(uuid.NewV7()).String(), wfID); err != nil {
		t.Fatalf("insert trigger: %v", err)
	}
	if _, err := f.db.Exec(`INSERT INTO actions (id, workflow_id, type, idx, config) VALUES (?, ?, 'send_message', 0, '{"content":"Bienvenue"}')`,
		uuid.Must(uuid.NewV7()).String(), wfID); err != nil {
		t.Fatalf("insert action: %v", err)
	}
}

func TestInboundBonjourScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addAgent(t, "agent-1")
	f.registry.Add("agent-1", nullConn{})
	f.addWelcomeWorkflow(t)

	f.pipeline.process(ctx, bus.InboundMessage{
		Channel:    store.ChannelWhatsApp,
		NativeID:   "33612345678",
		SenderName: "Jean",
		Kind:       store.KindText,
		Content:    "Bonjour",
		ExternalID: "wa-msg-1",
		Timestamp:  time.Now(),
	})

	client, _, err := f.stores.Clients.GetOrCreate(ctx, store.ChannelWhatsApp, "33612345678", "Jean", time.Now())
	if err != nil {
		t.Fatalf("load client: %v", err)
	}
	if client.Status != store.StatusNew {
		t.Errorf("status = %q, want new", client.Status)
	}
	if client.Name != "Jean" {
		t.Errorf("name = %q, want Jean", client.Name)
	}
	if client.AgentID != "agent-1" {
		t.Errorf("agent = %q, want agent-1", client.AgentID)
	}

	msgs, err := f.stores.Messages.RecentByClient(ctx, client.ID, 10)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	var inbound, outbound int
	for _, m := range msgs {
		switch m.Direction {
		case store.DirectionInbound:
			inbound++
			if m.Content != "Bonjour" {
				t.Errorf("inbound content = %q, want Bonjour", m.Content)
			}
		case store.DirectionOutbound:
			outbound++
			if m.Content != "Bienvenue" {
				t.Errorf("outbound content = %q, want Bienvenue", m.Content)
			}
		}
	}
	if inbound != 1 || outbound != 1 {
		t.Errorf("message rows inbound=%d outbound=%d, want 1 and 1", inbound, outbound)
	}
}

func TestExactlyOneClientUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.process(ctx, bus.InboundMessage{
				Channel:   store.ChannelWhatsApp,
				NativeID:  "33612345678",
				Kind:      store.KindText,
				Content:   "Bonjour",
				Timestamp: time.Now(),
			})
		}()
	}
	wg.Wait()

	var clients int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM clients WHERE channel = 'whatsapp' AND native_id = '33612345678'`).Scan(&clients); err != nil {
		t.Fatalf("count clients: %v", err)
	}
	if clients != 1 {
		t.Errorf("client rows = %d, want exactly 1", clients)
	}

	var messages int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE direction = 'inbound'`).Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messages != 10 {
		t.Errorf("inbound message rows = %d, want 10", messages)
	}
}

func TestWebhookRedeliveryCreatesDuplicateRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The same webhook delivery processed twice: one client, two message
	// rows. Webhook traffic is intentionally not deduplicated.
	msg := bus.InboundMessage{
		Channel:    store.ChannelInstagram,
		NativeID:   "ig-user-1",
		Kind:       store.KindText,
		Content:    "Bonjour",
		ExternalID: "mid.same",
		Timestamp:  time.Now(),
	}
	f.pipeline.process(ctx, msg)
	f.pipeline.process(ctx, msg)

	var clients int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM clients`).Scan(&clients); err != nil {
		t.Fatalf("count clients: %v", err)
	}
	if clients != 1 {
		t.Errorf("client rows = %d, want 1", clients)
	}

	var messages int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE external_id = 'mid.same'`).Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messages != 2 {
		t.Errorf("message rows = %d, want 2 (redelivery is not deduplicated)", messages)
	}
}

func TestUnmatchedEmailStoredWithoutClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.pipeline.process(ctx, bus.InboundMessage{
		Channel:    store.ChannelEmail,
		NativeID:   "stranger@example.com",
		Kind:       store.KindText,
		Content:    "Hello",
		ExternalID: "msgid-1",
		Timestamp:  time.Now(),
	})

	var clients int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM clients`).Scan(&clients); err != nil {
		t.Fatalf("count clients: %v", err)
	}
	if clients != 0 {
		t.Errorf("client rows = %d, want 0 (email never creates clients)", clients)
	}

	var messages int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE client_id IS NULL OR client_id = ''`).Scan(&messages); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messages != 1 {
		t.Errorf("unattached message rows = %d, want 1", messages)
	}
}

func TestHandleReceiptUpdatesDeliveryStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out := &store.Message{
		Direction:  store.DirectionOutbound,
		Kind:       store.KindText,
		Content:    "Bienvenue",
		Channel:    store.ChannelWhatsApp,
		ExternalID: "wa-out-1",
		Status:     store.DeliverySent,
	}
	if err := f.stores.Messages.Insert(ctx, out); err != nil {
		t.Fatalf("insert outbound: %v", err)
	}

	f.pipeline.HandleReceipt(ctx, store.ChannelWhatsApp, "wa-out-1", store.DeliveryRead)

	var status string
	if err := f.db.QueryRow(`SELECT status FROM messages WHERE id = ?`, out.ID).Scan(&status); err != nil {
		t.Fatalf("load status: %v", err)
	}
	if status != "read" {
		t.Errorf("status = %q, want read", status)
	}

	// Receipts for unknown messages are ignored.
	f.pipeline.HandleReceipt(ctx, store.ChannelWhatsApp, "no-such-id", store.DeliveryRead)
}
