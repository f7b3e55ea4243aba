package database

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventRecord is one row of the events table: a persisted, channel-scoped
// observability notification (spec.md §6), used to replay history to a
// reconnecting websocket client.
type EventRecord struct {
	ID      int
	Payload map[string]interface{}
}

// GetEventsSince returns up to limit events for channel with id > sinceID,
// ordered oldest first, backing pkg/events's catchup path.
func (s *Store) GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM events
		WHERE channel = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`, channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("get events since %d on %q: %w", sinceID, channel, err)
	}
	defer rows.Close()

	var result []EventRecord
	for rows.Next() {
		var rec EventRecord
		var raw []byte
		if err := rows.Scan(&rec.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event %d payload: %w", rec.ID, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
