// Package pg implements the store contract on Postgres (managed mode).
// Schema is owned by the migrations/ directory via golang-migrate.
package pg

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// OpenDB opens a pooled Postgres handle via the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by Postgres.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	return store.NewStores(
		NewClientStore(db),
		NewMessageStore(db),
		NewAgentStore(db),
		NewWorkflowStore(db),
		NewOpportunityStore(db),
		db.Close,
	), nil
}
