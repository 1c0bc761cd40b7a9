package store

import (
	"context"

	"jewelcraft/internal/models"

	"github.com/lib/pq"
)

// FetchUnpublished returns up to limit outbox events that have not been
// published yet, oldest first.
func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	events := []models.OutboxEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, aggregate_id, event_type, payload, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`, limit)
	return events, err
}

// MarkPublished stamps the given events as published
func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_at = NOW() WHERE id = ANY($1) AND published_at IS NULL",
		pq.Array(ids))
	return err
}
