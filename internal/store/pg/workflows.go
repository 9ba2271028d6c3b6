package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// WorkflowStore implements store.WorkflowStore backed by Postgres.
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
		`SELECT id, name, active FROM workflows WHERE active ORDER BY id`)
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

	if err := s.loadTriggers(ctx, workflows, byID); err != nil {
		return nil, err
	}
	if err := s.loadActions(ctx, workflows, byID); err != nil {
		return nil, err
	}
	return workflows, nil
}

func (s *WorkflowStore) loadTriggers(ctx context.Context, workflows []store.Workflow, byID map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.workflow_id, t.type, COALESCE(t.config, '{}')
		 FROM triggers t JOIN workflows w ON w.id = t.workflow_id
		 WHERE w.active`)
	if err != nil {
		return fmt.Errorf("load triggers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t store.Trigger
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.Type, &t.Config); err != nil {
			return err
		}
		if i, ok := byID[t.WorkflowID]; ok {
			workflows[i].Triggers = append(workflows[i].Triggers, t)
		}
	}
	return rows.Err()
}

func (s *WorkflowStore) loadActions(ctx context.Context, workflows []store.Workflow, byID map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.workflow_id, a.type, a.idx, COALESCE(a.config, '{}')
		 FROM actions a JOIN workflows w ON w.id = a.workflow_id
		 WHERE w.active
		 ORDER BY a.workflow_id, a.idx`)
	if err != nil {
		return fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a store.Action
		if err := rows.Scan(&a.ID, &a.WorkflowID, &a.Type, &a.Index, &a.Config); err != nil {
			return err
		}
		if i, ok := byID[a.WorkflowID]; ok {
			workflows[i].Actions = append(workflows[i].Actions, a)
		}
	}
	return rows.Err()
}
