package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ravigill3969/depo-billing/backend/models"
)

type WebhookLogStore struct {
	db *sql.DB
}

func NewWebhookLogStore(db *sql.DB) *WebhookLogStore {
	return &WebhookLogStore{db: db}
}

func (s *WebhookLogStore) Record(ctx context.Context, entry models.WebhookLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var errText *string
	if entry.Error != "" {
		errText = &entry.Error
	}

	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_logs (id, event_id, event_type, status, error, payload)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, uuid.New(), entry.EventID, entry.EventType, entry.Status, errText, string(payload))
	if err != nil {
		return fmt.Errorf("record webhook %s: %w", entry.EventID, err)
	}
	return nil
}
