package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk-io/omnidesk/internal/store"
)

// MessageStore implements store.MessageStore backed by Postgres.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Insert(ctx context.Context, m *store.Message) error {
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV7()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.Status == "" {
		m.Status = store.DeliverySent
	}

	var clientID interface{}
	if m.ClientID != "" {
		clientID = m.ClientID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, client_id, direction, kind, content, media_path, channel, external_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, clientID, m.Direction, m.Kind, m.Content, m.MediaPath, m.Channel, m.ExternalID, m.Status, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) ExistsByExternalID(ctx context.Context, channel store.Channel, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE channel = $1 AND external_id = $2 LIMIT 1`,
		channel, externalID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MessageStore) RecentByClient(ctx context.Context, clientID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(client_id, ''), direction, kind, content, media_path, channel, external_id, status, created_at
		 FROM messages WHERE client_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ClientID, &m.Direction, &m.Kind, &m.Content,
			&m.MediaPath, &m.Channel, &m.ExternalID, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers want chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *MessageStore) UpdateDeliveryStatus(ctx context.Context, channel store.Channel, externalID string, status store.DeliveryStatus) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`UPDATE messages SET status = $1 WHERE channel = $2 AND external_id = $3 RETURNING id`,
		status, channel, externalID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
