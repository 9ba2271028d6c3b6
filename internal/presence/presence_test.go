package presence

import (
	"reflect"
	"sync"
	"testing"
)

type fakeConn struct {
	mu     sync.Mutex
	events []string
}

func (c *fakeConn) SendEvent(name string, _ interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, name)
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMultipleConnectionsPerAgent(t *testing.T) {
	r := NewRegistry()
	tab1, tab2 := &fakeConn{}, &fakeConn{}

	r.Add("agent-1", tab1)
	r.Add("agent-1", tab2)

	if !r.IsOnline("agent-1") {
		t.Fatal("agent-1 should be online")
	}
	if got := r.OnlineAgentIDs(); !reflect.DeepEqual(got, []string{"agent-1"}) {
		t.Fatalf("OnlineAgentIDs = %v, want [agent-1]", got)
	}

	r.SendTo("agent-1", "message:new", nil)
	if tab1.count() != 1 || tab2.count() != 1 {
		t.Errorf("both connections should receive the event, got %d and %d", tab1.count(), tab2.count())
	}

	// Closing one tab keeps the agent online.
	r.Remove("agent-1", tab1)
	if !r.IsOnline("agent-1") {
		t.Fatal("agent-1 should stay online with one connection left")
	}

	r.Remove("agent-1", tab2)
	if r.IsOnline("agent-1") {
		t.Fatal("agent-1 should be offline after last connection closes")
	}
	if got := r.OnlineAgentIDs(); len(got) != 0 {
		t.Errorf("OnlineAgentIDs = %v, want empty", got)
	}
}

func TestBroadcastReachesAllAgents(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeConn{}, &fakeConn{}
	r.Add("agent-a", a)
	r.Add("agent-b", b)

	r.Broadcast("client:new", map[string]string{"id": "c1"})

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("broadcast counts = %d, %d; want 1, 1", a.count(), b.count())
	}
}

func TestOnlineAgentIDsSorted(t *testing.T) {
	r := NewRegistry()
	r.Add("zulu", &fakeConn{})
	r.Add("alpha", &fakeConn{})
	r.Add("mike", &fakeConn{})

	want := []string{"alpha", "mike", "zulu"}
	if got := r.OnlineAgentIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("OnlineAgentIDs = %v, want %v", got, want)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove("ghost", &fakeConn{})
	if r.IsOnline("ghost") {
		t.Fatal("ghost should not be online")
	}
}
