// Package assign distributes new clients across online agents round-robin,
// favoring whoever went longest without receiving one.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/store"
)

// Presence is the slice of the presence registry the engine reads.
type Presence interface {
	OnlineAgentIDs() []string
}

// Engine picks an agent for each newly created client.
//
// Candidate selection and the assignment write are not serialized against
// concurrent assignments: two clients created in the same instant can land
// on the same agent. Accepted; fairness self-corrects on the next round.
type Engine struct {
	clients  store.ClientStore
	agents   store.AgentStore
	presence Presence
	cfg      config.AssignmentConfig
}

// NewEngine creates an assignment engine.
func NewEngine(clients store.ClientStore, agents store.AgentStore, presence Presence, cfg config.AssignmentConfig) *Engine {
	return &Engine{clients: clients, agents: agents, presence: presence, cfg: cfg}
}

// Assign picks the least recently assigned online agent and writes the
// assignment onto the client. Returns the agent id, or "" when nobody is
// available (the client stays unassigned, not an error).
func (e *Engine) Assign(ctx context.Context, client *store.Client) (string, error) {
	agentID, err := e.pick(ctx)
	if err != nil {
		return "", err
	}
	if agentID == "" {
		slog.Info("no agent available, client left unassigned", "client_id", client.ID)
		return "", nil
	}

	now := time.Now()
	if err := e.clients.AssignAgent(ctx, client.ID, agentID, now); err != nil {
		return "", fmt.Errorf("assign agent: %w", err)
	}
	if client.Status != store.StatusNew {
		if err := e.clients.UpdateStatus(ctx, client.ID, store.StatusNew); err != nil {
			return "", fmt.Errorf("reset client status: %w", err)
		}
		client.Status = store.StatusNew
	}
	client.AgentID = agentID

	slog.Info("client assigned", "client_id", client.ID, "agent_id", agentID)
	return agentID, nil
}

// pick returns the best candidate id, or "" when none qualify.
func (e *Engine) pick(ctx context.Context) (string, error) {
	online := e.presence.OnlineAgentIDs()
	if len(online) == 0 {
		return "", nil
	}
	onlineSet := make(map[string]bool, len(online))
	for _, id := range online {
		onlineSet[id] = true
	}

	active, err := e.agents.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list active agents: %w", err)
	}

	var candidates []string
	for _, a := range active {
		if !onlineSet[a.ID] {
			continue
		}
		if e.cfg.AgentsOnly && a.Role != "agent" {
			continue
		}
		candidates = append(candidates, a.ID)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	last, err := e.agents.LastAssignments(ctx)
	if err != nil {
		return "", fmt.Errorf("load assignment recency: %w", err)
	}

	// Never-assigned agents sort before everyone (zero time); ids break
	// timestamp ties so the order is stable.
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := last[candidates[i]], last[candidates[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], nil
}
