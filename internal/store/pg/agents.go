package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// AgentStore implements store.AgentStore backed by Postgres.
type AgentStore struct {
	db *sql.DB
}

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

func (s *AgentStore) ListActive(ctx context.Context) ([]store.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active, role FROM agents WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []store.Agent
	for rows.Next() {
		var a store.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Active, &a.Role); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// LastAssignments derives assignment recency from the clients table so the
// round-robin engine needs no bookkeeping of its own.
func (s *AgentStore) LastAssignments(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, MAX(assigned_at) FROM clients
		 WHERE agent_id IS NOT NULL AND assigned_at IS NOT NULL
		 GROUP BY agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}
