package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// WorkflowStore implements store.WorkflowStore backed by SQLite.
type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

// ListActive loads active workflows with their triggers and actions.
// Actions come back sorted ascending by idx, which is the execution order.
func (s *WorkflowStore) ListActive(ctx context.Context) ([]store.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, active FROM workflows WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []store.Workflow
	byID := make(map[string]int)
	for rows.Next() {
		var w store.Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.Active); err != nil {
			return nil, err
		}
		byID[w.ID] = len(workflows)
		workflows = append(workflows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(workflows) == 0 {
		return nil, nil
	}

	trows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.workflow_id, t.type, COALESCE(t.config, '{}')
		 FROM triggers t JOIN workflows w ON w.id = t.workflow_id
		 WHERE w.active = 1`)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var t store.Trigger
		// The driver hands TEXT columns back as string, which Scan cannot
		// place into a json.RawMessage directly.
		var cfg string
		if err := trows.Scan(&t.ID, &t.WorkflowID, &t.Type, &cfg); err != nil {
			return nil, err
		}
		t.Config = []byte(cfg)
		if i, ok := byID[t.WorkflowID]; ok {
			workflows[i].Triggers = append(workflows[i].Triggers, t)
		}
	}
	if err := trows.Err(); err != nil {
		return nil, err
	}

	arows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.workflow_id, a.type, a.idx, COALESCE(a.config, '{}')
		 FROM actions a JOIN workflows w ON w.id = a.workflow_id
		 WHERE w.active = 1
		 ORDER BY a.workflow_id, a.idx`)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer arows.Close()
	for arows.Next() {
		var a store.Action
		var cfg string
		if err := arows.Scan(&a.ID, &a.WorkflowID, &a.Type, &a.Index, &cfg); err != nil {
			return nil, err
		}
		a.Config = []byte(cfg)
		if i, ok := byID[a.WorkflowID]; ok {
			workflows[i].Actions = append(workflows[i].Actions, a)
		}
	}
	return workflows, arows.Err()
}
