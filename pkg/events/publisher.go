package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/stats"
)

// EventPublisher is the stats.EventDispatcher implementation backing this
// package: every channel-scoped CONNECTOR_STATUS/SENT/ERROR/... event is
// persisted to the events table and broadcast via NOTIFY so manager.go can
// fan it out to subscribed websocket clients and replay it on catchup.
// Queue-depth observations are NOTIFY-only; they change too often to be
// worth a row each.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher. db should be the *sql.DB
// from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

var _ stats.EventDispatcher = (*EventPublisher)(nil)

// Dispatch persists and broadcasts evt on its channel's topic. Errors are
// logged, not returned: stats.EventDispatcher has no error return because a
// failed notification must never roll back the statistics write that
// produced it (spec.md §6).
func (p *EventPublisher) Dispatch(ctx context.Context, evt stats.Event) {
	payload := ConnectorEventPayload{
		Type:       evt.Type,
		ChannelID:  evt.ChannelID,
		MetaDataID: evt.MetaDataID,
		MessageID:  evt.MessageID,
		Status:     evt.Payload,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Error("events: failed to marshal connector event", "error", err)
		return
	}
	if err := p.persistAndNotify(ctx, ChannelTopic(evt.ChannelID), payloadJSON); err != nil {
		slog.Error("events: failed to publish connector event",
			"channel_id", evt.ChannelID, "meta_data_id", evt.MetaDataID, "type", evt.Type, "error", err)
	}
}

// DispatchQueueDepth broadcasts a transient QUEUE_DEPTH event without
// persisting it.
func (p *EventPublisher) DispatchQueueDepth(ctx context.Context, channelID string, metaDataID int, depth int64) {
	payload := QueueDepthPayload{
		Type:       EventTypeQueueDepth,
		ChannelID:  channelID,
		MetaDataID: metaDataID,
		Depth:      depth,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		slog.Error("events: failed to marshal queue depth event", "error", err)
		return
	}
	if err := p.notifyOnly(ctx, ChannelTopic(channelID), payloadJSON); err != nil {
		slog.Error("events: failed to publish queue depth event",
			"channel_id", channelID, "meta_data_id", metaDataID, "error", err)
	}
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and
// broadcasts via NOTIFY in a single transaction (pg_notify is transactional
// — held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, topic Topic, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (channel, payload, created_at) VALUES ($1, $2, $3) RETURNING id`,
		string(topic), payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", string(topic), notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting
// to the events table.
func (p *EventPublisher) notifyOnly(ctx context.Context, topic Topic, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", string(topic), notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for
// NOTIFY delivery and applies truncation if the result exceeds PostgreSQL's
// NOTIFY size limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields a client needs to
// fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type       string `json:"type"`
		ChannelID  string `json:"channel_id"`
		MetaDataID int    `json:"meta_data_id"`
		DBEventID  *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":         routing.Type,
		"channel_id":   routing.ChannelID,
		"meta_data_id": routing.MetaDataID,
		"truncated":    true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
