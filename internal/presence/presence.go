// Package presence tracks which agents hold live gateway connections.
// State lives in process memory only; a restart empties the registry and
// agents re-register as their sockets reconnect.
package presence

import (
	"sort"
	"sync"
)

// Conn is the minimal connection surface the registry pushes events to.
// The gateway's WebSocket wrapper implements it.
type Conn interface {
	// SendEvent queues an event frame for the connection. Implementations
	// must not block the caller.
	SendEvent(name string, payload interface{})
}

// Registry maps agent ids to their open connections. One agent may hold
// several (two browser tabs are two connections, one online agent).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[Conn]struct{} // agent id → connection set
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[Conn]struct{})}
}

// Add registers a connection for an agent.
func (r *Registry) Add(agentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[agentID]
	if !ok {
		set = make(map[Conn]struct{})
		r.conns[agentID] = set
	}
	set[conn] = struct{}{}
}

// Remove unregisters a connection. The agent goes offline when its last
// connection is removed.
func (r *Registry) Remove(agentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[agentID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(r.conns, agentID)
	}
}

// IsOnline reports whether the agent has at least one live connection.
func (r *Registry) IsOnline(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[agentID]) > 0
}

// OnlineAgentIDs returns the ids of all online agents, sorted ascending so
// callers iterate deterministically.
func (r *Registry) OnlineAgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SendTo pushes an event to every connection of one agent.
func (r *Registry) SendTo(agentID, event string, payload interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for conn := range r.conns[agentID] {
		conn.SendEvent(event, payload)
	}
}

// Broadcast pushes an event to every connection of every agent.
func (r *Registry) Broadcast(event string, payload interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, set := range r.conns {
		for conn := range set {
			conn.SendEvent(event, payload)
		}
	}
}
