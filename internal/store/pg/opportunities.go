package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// OpportunityStore implements store.OpportunityStore backed by Postgres.
type OpportunityStore struct {
	db *sql.DB
}

func NewOpportunityStore(db *sql.DB) *OpportunityStore {
	return &OpportunityStore{db: db}
}

func (s *OpportunityStore) Insert(ctx context.Context, o *store.Opportunity) error {
	if o.ID == "" {
		o.ID = uuid.Must(uuid.NewV7()).String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO opportunities (id, client_id, stage_id, title, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.ClientID, o.StageID, o.Title, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}
	return nil
}
