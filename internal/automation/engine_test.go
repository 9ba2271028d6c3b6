package automation

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/providers"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/internal/store/sqlite"
)

type stubSender struct {
	mu    sync.Mutex
	sent  []channels.OutboundMessage
	fails bool
}

func (s *stubSender) Send(_ context.Context, _ store.Channel, msg channels.OutboundMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails {
		return false
	}
	s.sent = append(s.sent, msg)
	return true
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubProvider struct {
	reply string
	got   []providers.ChatMessage
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.got = req.Messages
	return &providers.ChatResponse{Content: p.reply, FinishReason: "stop"}, nil
}

type fixture struct {
	stores *store.Stores
	db     *sql.DB
	sender *stubSender
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
	return &fixture{stores: stores, db: db, sender: &stubSender{}}
}

func (f *fixture) engine(t *testing.T, provider providers.Provider) *Engine {
	t.Helper()
	return NewEngine(f.stores, f.sender, provider, config.AutomationConfig{Enabled: true, HistoryLimit: 5})
}

func (f *fixture) client(t *testing.T) *store.Client {
	t.Helper()
	client, _, err := f.stores.Clients.GetOrCreate(context.Background(),
		store.ChannelWhatsApp, "33612345678", "Jean", time.Now())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func (f *fixture) addWorkflow(t *testing.T, name string) string {
	t.Helper()
	id := uuid.Must(uuid.NewV7()).String()
	if _, err := f.db.Exec(`INSERT INTO workflows (id, name, active) VALUES (?, ?, 1)`, id, name); err != nil {
		t.Fatalf("insert workflow: %v", err)
	}
	return id
}

func (f *fixture) addTrigger(t *testing.T, workflowID string, typ store.TriggerType, cfg string) {
	t.Helper()
	if _, err := f.db.Exec(`INSERT INTO triggers (id, workflow_id, type, config) VALUES (?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), workflowID, string(typ), cfg); err != nil {
		t.Fatalf("insert trigger: %v", err)
	}
}

func (f *fixture) addAction(t *testing.T, workflowID string, typ store.ActionType, idx int, cfg string) {
	t.Helper()
	if _, err := f.db.Exec(`INSERT INTO actions (id, workflow_id, type, idx, config) VALUES (?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), workflowID, string(typ), idx, cfg); err != nil {
		t.Fatalf("insert action: %v", err)
	}
}

func (f *fixture) messageCount(t *testing.T, clientID string) int {
	t.Helper()
	msgs, err := f.stores.Messages.RecentByClient(context.Background(), clientID, 100)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	return len(msgs)
}

func TestWorkflowFiresOncePerEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two triggers that both match a single event.
	wf := f.addWorkflow(t, "welcome")
	f.addTrigger(t, wf, store.TriggerClientCreated, "")
	f.addTrigger(t, wf, store.TriggerClientCreated, "{}")
	f.addAction(t, wf, store.ActionSendMessage, 0, `{"content":"Bienvenue"}`)

	client := f.client(t)
	if err := f.engine(t, nil).Handle(ctx, ClientCreated(client)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.sender.count() != 1 {
		t.Errorf("send count = %d, want 1 (workflow must fire once)", f.sender.count())
	}
	if n := f.messageCount(t, client.ID); n != 1 {
		t.Errorf("outbound message rows = %d, want 1", n)
	}
}

func TestActionIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First action has no config and must be skipped; the second still runs.
	wf := f.addWorkflow(t, "broken-then-valid")
	f.addTrigger(t, wf, store.TriggerClientCreated, "")
	f.addAction(t, wf, store.ActionAddTag, 0, "")
	f.addAction(t, wf, store.ActionSendMessage, 1, `{"content":"Bienvenue"}`)

	client := f.client(t)
	if err := f.engine(t, nil).Handle(ctx, ClientCreated(client)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.sender.count() != 1 {
		t.Errorf("send count = %d, want 1 despite earlier misconfigured action", f.sender.count())
	}
	tags, err := f.stores.Clients.Tags(ctx, client.ID)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

func TestFailedSendRecordsNothing(t *testing.T) {
	f := newFixture(t)
	f.sender.fails = true
	ctx := context.Background()

	wf := f.addWorkflow(t, "welcome")
	f.addTrigger(t, wf, store.TriggerClientCreated, "")
	f.addAction(t, wf, store.ActionSendMessage, 0, `{"content":"Bienvenue"}`)

	client := f.client(t)
	if err := f.engine(t, nil).Handle(ctx, ClientCreated(client)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if n := f.messageCount(t, client.ID); n != 0 {
		t.Errorf("outbound message rows = %d, want 0 after failed send", n)
	}
}

func TestAddTagIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.addWorkflow(t, "tagger")
	f.addTrigger(t, wf, store.TriggerMessageReceived, "")
	f.addAction(t, wf, store.ActionAddTag, 0, `{"tag":"vip"}`)

	client := f.client(t)
	engine := f.engine(t, nil)
	msg := &store.Message{ClientID: client.ID, Direction: store.DirectionInbound, Content: "hi", Channel: client.Channel}
	for i := 0; i < 3; i++ {
		if err := engine.Handle(ctx, MessageReceived(client, msg)); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}

	tags, err := f.stores.Clients.Tags(ctx, client.ID)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 1 || tags[0] != "vip" {
		t.Errorf("tags = %v, want [vip]", tags)
	}
}

func TestUpdateStatusSkipsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.addWorkflow(t, "closer")
	f.addTrigger(t, wf, store.TriggerMessageReceived, "")
	f.addAction(t, wf, store.ActionUpdateStatus, 0, `{"status":"treated"}`)

	client := f.client(t)
	msg := &store.Message{ClientID: client.ID, Direction: store.DirectionInbound, Content: "merci", Channel: client.Channel}
	if err := f.engine(t, nil).Handle(ctx, MessageReceived(client, msg)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, err := f.stores.Clients.GetByID(ctx, client.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != store.StatusTreated {
		t.Errorf("status = %q, want treated", got.Status)
	}

	var historyRows int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM client_status_history WHERE client_id = ?`, client.ID).Scan(&historyRows); err != nil {
		t.Fatalf("count history: %v", err)
	}
	if historyRows != 0 {
		t.Errorf("status history rows = %d, want 0 for automation writes", historyRows)
	}
}

func TestAIReplyUsesHistoryAndSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.addWorkflow(t, "ai-responder")
	f.addTrigger(t, wf, store.TriggerMessageReceived, "")
	f.addAction(t, wf, store.ActionAIReply, 0, `{"system_prompt":"Tu es un agent."}`)

	client := f.client(t)
	inbound := &store.Message{
		ClientID: client.ID, Direction: store.DirectionInbound,
		Kind: store.KindText, Content: "Bonjour", Channel: client.Channel,
	}
	if err := f.stores.Messages.Insert(ctx, inbound); err != nil {
		t.Fatalf("insert inbound: %v", err)
	}

	provider := &stubProvider{reply: "Bonjour Jean, comment puis-je aider ?"}
	if err := f.engine(t, provider).Handle(ctx, MessageReceived(client, inbound)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if f.sender.count() != 1 {
		t.Fatalf("send count = %d, want 1", f.sender.count())
	}
	if f.sender.sent[0].Content != provider.reply {
		t.Errorf("sent %q, want the drafted reply", f.sender.sent[0].Content)
	}
	if len(provider.got) < 2 {
		t.Fatalf("provider received %d messages, want system prompt + history", len(provider.got))
	}
	if provider.got[0].Role != "system" {
		t.Errorf("first provider message role = %q, want system", provider.got[0].Role)
	}
	if provider.got[1].Role != "user" || provider.got[1].Content != "Bonjour" {
		t.Errorf("history message = %+v, want inbound Bonjour as user", provider.got[1])
	}
}

func TestTriggerPredicates(t *testing.T) {
	client := &store.Client{ID: "c1", Channel: store.ChannelWhatsApp}

	tests := []struct {
		name    string
		typ     store.TriggerType
		cfg     string
		ev      Event
		matches bool
	}{
		{"client created always matches", store.TriggerClientCreated, "", ClientCreated(client), true},
		{"status change no filter", store.TriggerStatusChange, "",
			StatusChanged(client, store.StatusNew, store.StatusTreated), true},
		{"status change match", store.TriggerStatusChange, `{"status":"treated"}`,
			StatusChanged(client, store.StatusNew, store.StatusTreated), true},
		{"status change mismatch", store.TriggerStatusChange, `{"status":"closed"}`,
			StatusChanged(client, store.StatusNew, store.StatusTreated), false},
		{"keyword match is case-insensitive", store.TriggerMessageReceived, `{"keyword":"bonjour"}`,
			MessageReceived(client, &store.Message{Content: "BONJOUR tout le monde"}), true},
		{"keyword mismatch", store.TriggerMessageReceived, `{"keyword":"devis"}`,
			MessageReceived(client, &store.Message{Content: "Bonjour"}), false},
		{"stage match", store.TriggerStageChange, `{"stage_id":"stage-2"}`,
			StageChanged(client, "stage-2"), true},
		{"stage mismatch", store.TriggerStageChange, `{"stage_id":"stage-2"}`,
			StageChanged(client, "stage-9"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseTriggerConfig(tt.typ, []byte(tt.cfg))
			if err != nil {
				t.Fatalf("ParseTriggerConfig: %v", err)
			}
			if got := cfg.Matches(tt.ev); got != tt.matches {
				t.Errorf("Matches = %v, want %v", got, tt.matches)
			}
		})
	}
}

func TestParseTriggerConfigRejectsUnknownFields(t *testing.T) {
	if _, err := ParseTriggerConfig(store.TriggerStatusChange, []byte(`{"statuz":"treated"}`)); err == nil {
		t.Fatal("expected error for unknown config field")
	}
	if _, err := ParseTriggerConfig("no_such_trigger", nil); err == nil {
		t.Fatal("expected error for unknown trigger type")
	}
}

func TestDisabledEngineDoesNothing(t *testing.T) {
	f := newFixture(t)

	wf := f.addWorkflow(t, "welcome")
	f.addTrigger(t, wf, store.TriggerClientCreated, "")
	f.addAction(t, wf, store.ActionSendMessage, 0, `{"content":"Bienvenue"}`)

	engine := NewEngine(f.stores, f.sender, nil, config.AutomationConfig{Enabled: false})
	if err := engine.Handle(context.Background(), ClientCreated(f.client(t))); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if f.sender.count() != 0 {
		t.Errorf("send count = %d, want 0 when disabled", f.sender.count())
	}
}

func TestCreateOpportunity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wf := f.addWorkflow(t, "pipeline")
	f.addTrigger(t, wf, store.TriggerStatusChange, `{"status":"in_progress"}`)
	f.addAction(t, wf, store.ActionCreateOpportunity, 0, `{"stage_id":"stage-1","title":"Nouveau lead"}`)

	client := f.client(t)
	if err := f.engine(t, nil).Handle(ctx, StatusChanged(client, store.StatusNew, store.StatusInProgress)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM opportunities WHERE client_id = ? AND stage_id = 'stage-1'`, client.ID).Scan(&n); err != nil {
		t.Fatalf("count opportunities: %v", err)
	}
	if n != 1 {
		t.Errorf("opportunity rows = %d, want 1", n)
	}
}
