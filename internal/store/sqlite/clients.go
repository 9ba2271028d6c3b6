package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// ClientStore implements store.ClientStore backed by SQLite.
type ClientStore struct {
	db *sql.DB
}

func NewClientStore(db *sql.DB) *ClientStore {
	return &ClientStore{db: db}
}

const clientColumns = `id, channel, native_id, name, COALESCE(agent_id, ''), status, last_message_at, created_at, updated_at`

func (s *ClientStore) GetOrCreate(ctx context.Context, channel store.Channel, nativeID, name string, at time.Time) (*store.Client, bool, error) {
	if name == "" {
		name = nativeID
	}
	now := time.Now()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, channel, native_id, name, status, last_message_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, native_id) DO NOTHING`,
		uuid.Must(uuid.NewV7()).String(), channel, nativeID, name, store.StatusNew,
		formatTime(at), formatTime(now), formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("insert client: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	if !created {
		_, err = s.db.ExecContext(ctx,
			`UPDATE clients SET last_message_at = ?, updated_at = ? WHERE channel = ? AND native_id = ?`,
			formatTime(at), formatTime(now), channel, nativeID)
		if err != nil {
			return nil, false, fmt.Errorf("touch client: %w", err)
		}
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE channel = ? AND native_id = ?`,
		channel, nativeID)
	c, err := scanClient(row)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

func (s *ClientStore) GetByID(ctx context.Context, id string) (*store.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (s *ClientStore) FindByEmail(ctx context.Context, addr string) (*store.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE channel = ? AND native_id = ?`,
		store.ChannelEmail, addr)
	return scanClient(row)
}

func (s *ClientStore) UpdateName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clients SET name = ?, updated_at = ? WHERE id = ?`,
		name, formatTime(time.Now()), id)
	return err
}

func (s *ClientStore) UpdateStatus(ctx context.Context, id string, status store.ClientStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clients SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id)
	return err
}

func (s *ClientStore) RecordStatusChange(ctx context.Context, id string, from, to store.ClientStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_status_history (id, client_id, from_status, to_status, changed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), id, from, to, formatTime(time.Now()))
	return err
}

func (s *ClientStore) AssignAgent(ctx context.Context, clientID, agentID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE clients SET agent_id = ?, assigned_at = ?, updated_at = ? WHERE id = ?`,
		agentID, formatTime(at), formatTime(at), clientID)
	return err
}

func (s *ClientStore) AddTag(ctx context.Context, clientID, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_tags (client_id, tag) VALUES (?, ?)
		 ON CONFLICT (client_id, tag) DO NOTHING`,
		clientID, tag)
	return err
}

func (s *ClientStore) Tags(ctx context.Context, clientID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM client_tags WHERE client_id = ? ORDER BY tag`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func scanClient(row *sql.Row) (*store.Client, error) {
	var c store.Client
	var lastMsg, created, updated string
	err := row.Scan(&c.ID, &c.Channel, &c.NativeID, &c.Name, &c.AgentID,
		&c.Status, &lastMsg, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	c.LastMessageAt, _ = time.Parse(timeFormat, lastMsg)
	c.CreatedAt, _ = time.Parse(timeFormat, created)
	c.UpdatedAt, _ = time.Parse(timeFormat, updated)
	return &c, nil
}
