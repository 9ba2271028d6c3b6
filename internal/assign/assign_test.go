package assign

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/internal/store/sqlite"
)

type stubPresence struct {
	online []string
}

func (p *stubPresence) OnlineAgentIDs() []string { return p.online }

type testStores struct {
	*store.Stores
	db *sql.DB
}

func setup(t *testing.T) *testStores {
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
	return &testStores{Stores: stores, db: db}
}

func addAgent(t *testing.T, stores *testStores, id, role string, active bool) {
	t.Helper()
	activeInt := 0
	if active {
		activeInt = 1
	}
	if _, err := stores.db.Exec(`INSERT INTO agents (id, name, active, role) VALUES (?, ?, ?, ?)`,
		id, id, activeInt, role); err != nil {
		t.Fatalf("insert agent: %v", err)
	}
}

func newClient(t *testing.T, stores *testStores, nativeID string) *store.Client {
	t.Helper()
	client, _, err := stores.Clients.GetOrCreate(context.Background(),
		store.ChannelWhatsApp, nativeID, nativeID, time.Now())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestAssignLeastRecentlyAssigned(t *testing.T) {
	stores := setup(t)
	ctx := context.Background()

	addAgent(t, stores, "agent-a", "agent", true)
	addAgent(t, stores, "agent-b", "agent", true)

	engine := NewEngine(stores.Clients, stores.Agents, &stubPresence{online: []string{"agent-a", "agent-b"}}, config.AssignmentConfig{})

	// agent-a got a client a while ago; agent-b has been waiting.
	earlier := newClient(t, stores, "111")
	if err := stores.Clients.AssignAgent(ctx, earlier.ID, "agent-a", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}

	client := newClient(t, stores, "222")
	agentID, err := engine.Assign(ctx, client)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "agent-b" {
		t.Errorf("assigned %q, want agent-b (least recently assigned)", agentID)
	}
	if client.AgentID != "agent-b" {
		t.Errorf("client.AgentID = %q, want agent-b", client.AgentID)
	}
}

func TestAssignRoundRobinRotates(t *testing.T) {
	stores := setup(t)
	ctx := context.Background()

	addAgent(t, stores, "agent-a", "agent", true)
	addAgent(t, stores, "agent-b", "agent", true)
	addAgent(t, stores, "agent-c", "agent", true)

	engine := NewEngine(stores.Clients, stores.Agents,
		&stubPresence{online: []string{"agent-a", "agent-b", "agent-c"}}, config.AssignmentConfig{})

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		client := newClient(t, stores, string(rune('0'+i))+"000")
		agentID, err := engine.Assign(ctx, client)
		if err != nil {
			t.Fatalf("Assign #%d: %v", i, err)
		}
		seen[agentID]++
		// Recency granularity: keep assignments strictly ordered.
		time.Sleep(2 * time.Millisecond)
	}

	for _, id := range []string{"agent-a", "agent-b", "agent-c"} {
		if seen[id] != 2 {
			t.Errorf("agent %s received %d clients, want 2 (distribution %v)", id, seen[id], seen)
		}
	}
}

func TestAssignTieBreakByAgentID(t *testing.T) {
	stores := setup(t)

	addAgent(t, stores, "zulu", "agent", true)
	addAgent(t, stores, "alpha", "agent", true)

	engine := NewEngine(stores.Clients, stores.Agents,
		&stubPresence{online: []string{"zulu", "alpha"}}, config.AssignmentConfig{})

	// Neither agent has any assignment; the id decides.
	client := newClient(t, stores, "333")
	agentID, err := engine.Assign(context.Background(), client)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "alpha" {
		t.Errorf("assigned %q, want alpha (id tie-break)", agentID)
	}
}

func TestAssignSkipsOfflineAndInactive(t *testing.T) {
	stores := setup(t)

	addAgent(t, stores, "online-inactive", "agent", false)
	addAgent(t, stores, "offline-active", "agent", true)
	addAgent(t, stores, "online-active", "agent", true)

	engine := NewEngine(stores.Clients, stores.Agents,
		&stubPresence{online: []string{"online-inactive", "online-active"}}, config.AssignmentConfig{})

	client := newClient(t, stores, "444")
	agentID, err := engine.Assign(context.Background(), client)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "online-active" {
		t.Errorf("assigned %q, want online-active", agentID)
	}
}

func TestAssignNobodyAvailable(t *testing.T) {
	stores := setup(t)

	addAgent(t, stores, "agent-a", "agent", true)

	engine := NewEngine(stores.Clients, stores.Agents, &stubPresence{}, config.AssignmentConfig{})

	client := newClient(t, stores, "555")
	agentID, err := engine.Assign(context.Background(), client)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "" {
		t.Errorf("assigned %q, want unassigned", agentID)
	}
	if client.AgentID != "" {
		t.Errorf("client.AgentID = %q, want empty", client.AgentID)
	}
}

func TestAssignAgentsOnlyFilter(t *testing.T) {
	stores := setup(t)

	addAgent(t, stores, "admin-1", "admin", true)
	addAgent(t, stores, "agent-1", "agent", true)

	online := &stubPresence{online: []string{"admin-1", "agent-1"}}

	// Filter off: the admin qualifies and wins the id tie-break.
	loose := NewEngine(stores.Clients, stores.Agents, online, config.AssignmentConfig{})
	client := newClient(t, stores, "666")
	agentID, err := loose.Assign(context.Background(), client)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "admin-1" {
		t.Errorf("assigned %q, want admin-1 with filter off", agentID)
	}

	// Filter on: only the agent role qualifies.
	strict := NewEngine(stores.Clients, stores.Agents, online, config.AssignmentConfig{AgentsOnly: true})
	client2 := newClient(t, stores, "777")
	agentID, err = strict.Assign(context.Background(), client2)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if agentID != "agent-1" {
		t.Errorf("assigned %q, want agent-1 with filter on", agentID)
	}
}
