package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// Store implements store.Datastore against a Postgres connection pool with
// hand-written SQL — no ORM sits between it and the schema in
// migrations/000001_init_schema.up.sql.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open, already-migrated *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ store.Datastore = (*Store)(nil)

// AllocateChannelResources registers a channel row (idempotent) and its
// message-id sequence counter.
func (s *Store) AllocateChannelResources(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("allocate channel %s: begin: %w", channelID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel_id, state, deployed_at)
		VALUES ($1, 'DEPLOYED', now())
		ON CONFLICT (channel_id) DO UPDATE SET state = 'DEPLOYED', deployed_at = now()`,
		channelID)
	if err != nil {
		return fmt.Errorf("allocate channel %s: %w", channelID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channel_message_seq (channel_id, next_id)
		VALUES ($1, 1)
		ON CONFLICT (channel_id) DO NOTHING`,
		channelID)
	if err != nil {
		return fmt.Errorf("allocate channel %s sequence: %w", channelID, err)
	}

	return tx.Commit()
}

// ReleaseChannelResources marks the channel undeployed. History (messages,
// statistics) is retained, not purged.
func (s *Store) ReleaseChannelResources(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET state = 'UNDEPLOYED' WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("release channel %s: %w", channelID, err)
	}
	return nil
}

// NextMessageID atomically increments and returns the channel's message-id
// sequence. The channel must already have been allocated.
func (s *Store) NextMessageID(ctx context.Context, channelID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE channel_message_seq SET next_id = next_id + 1
		WHERE channel_id = $1
		RETURNING next_id - 1`, channelID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrChannelNotAllocated
	}
	if err != nil {
		return 0, fmt.Errorf("next message id for channel %s: %w", channelID, err)
	}
	return next, nil
}

// InsertMessage persists the Message row (metaDataId 0's ConnectorMessage
// is inserted separately via InsertConnectorMessage).
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	attrs, err := json.Marshal(msg.Attributes)
	if err != nil {
		return fmt.Errorf("insert message %d: encode attributes: %w", msg.MessageID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (channel_id, message_id, server_id, attributes, received_date)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ChannelID, msg.MessageID, msg.ServerID, attrs, msg.ReceivedDate)
	if err != nil {
		return fmt.Errorf("insert message %d: %w", msg.MessageID, err)
	}
	return nil
}

// InsertConnectorMessage persists one ConnectorMessage's current state.
func (s *Store) InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_messages
			(channel_id, message_id, meta_data_id, connector_name, status,
			 send_attempts, send_date, response_date, error_code,
			 processing_error, response_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		cm.ChannelID, cm.MessageID, cm.MetaDataID, cm.ConnectorName, string(cm.Status()),
		cm.SendAttempts(), cm.SendDate(), cm.ResponseDate(), cm.ErrorCode(),
		nullableString(cm.ProcessingError()), nullableString(cm.ResponseError()))
	if err != nil {
		return fmt.Errorf("insert connector message %d/%d: %w", cm.MessageID, cm.MetaDataID, err)
	}
	return nil
}

// InsertMessageContent appends a (contentType, content) entry. Per the
// append-only invariant, a second write of the same contentType returns
// store.ErrContentAlreadyWritten instead of overwriting.
func (s *Store) InsertMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, mc *model.MessageContent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO message_content
			(channel_id, message_id, meta_data_id, content_type, content, data_type, encrypted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (channel_id, message_id, meta_data_id, content_type) DO NOTHING`,
		channelID, messageID, metaDataID, string(mc.ContentType), mc.Content,
		nullableString(mc.DataType), mc.Encrypted)
	if err != nil {
		return fmt.Errorf("insert content %s for %d/%d: %w", mc.ContentType, messageID, metaDataID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert content %s for %d/%d: %w", mc.ContentType, messageID, metaDataID, err)
	}
	if n == 0 {
		return store.ErrContentAlreadyWritten
	}
	return nil
}

// GetMessageContent reads back one content entry, or store.ErrNotFound.
func (s *Store) GetMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, contentType model.ContentType) (*model.MessageContent, error) {
	var (
		content   string
		dataType  sql.NullString
		encrypted bool
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content, data_type, encrypted FROM message_content
		WHERE channel_id = $1 AND message_id = $2 AND meta_data_id = $3 AND content_type = $4`,
		channelID, messageID, metaDataID, string(contentType)).Scan(&content, &dataType, &encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s for %d/%d: %w", contentType, messageID, metaDataID, err)
	}
	return &model.MessageContent{
		ContentType: contentType,
		Content:     content,
		DataType:    dataType.String,
		Encrypted:   encrypted,
	}, nil
}

// UpdateStatus persists a ConnectorMessage's current status and
// send/response bookkeeping.
func (s *Store) UpdateStatus(ctx context.Context, messageID int64, channelID string, metaDataID int, status model.Status, errorCode int, sendAttempts int, sendDate, responseDate *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE connector_messages
		SET status = $4, error_code = $5, send_attempts = $6, send_date = $7, response_date = $8
		WHERE channel_id = $1 AND message_id = $2 AND meta_data_id = $3`,
		channelID, messageID, metaDataID, string(status), errorCode, sendAttempts, sendDate, responseDate)
	if err != nil {
		return fmt.Errorf("update status for %d/%d: %w", messageID, metaDataID, err)
	}
	return nil
}

// UpdateStatistics adds delta's counts to the running per-(channel,
// connector) totals (spec.md §8: counters only ever increase).
func (s *Store) UpdateStatistics(ctx context.Context, channelID string, metaDataID int, delta store.StatisticsDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_statistics
			(channel_id, meta_data_id, received, filtered, transformed, pending, sent, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (channel_id, meta_data_id) DO UPDATE SET
			received    = channel_statistics.received    + EXCLUDED.received,
			filtered    = channel_statistics.filtered    + EXCLUDED.filtered,
			transformed = channel_statistics.transformed + EXCLUDED.transformed,
			pending     = channel_statistics.pending     + EXCLUDED.pending,
			sent        = channel_statistics.sent        + EXCLUDED.sent,
			error       = channel_statistics.error       + EXCLUDED.error`,
		channelID, metaDataID, delta.Received, delta.Filtered, delta.Transformed,
		delta.Pending, delta.Sent, delta.Error)
	if err != nil {
		return fmt.Errorf("update statistics for channel %s/%d: %w", channelID, metaDataID, err)
	}
	return nil
}

// GetQueueSize counts connector messages currently sitting in QUEUED status
// for (channelID, metaDataID) — the durable queue depth.
func (s *Store) GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM connector_messages
		WHERE channel_id = $1 AND meta_data_id = $2 AND status = $3`,
		channelID, metaDataID, string(model.StatusQueued)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue size for %s/%d: %w", channelID, metaDataID, err)
	}
	return n, nil
}

// GetQueueItems returns up to limit QUEUED connector messages in ascending
// messageId order, reconstructed as model.ConnectorMessage values for the
// in-memory queue buffer to pick up.
func (s *Store) GetQueueItems(ctx context.Context, channelID string, metaDataID int, offset, limit int) ([]*model.ConnectorMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, connector_name, status, send_attempts, send_date,
		       response_date, error_code, processing_error, response_error
		FROM connector_messages
		WHERE channel_id = $1 AND meta_data_id = $2 AND status = $3
		ORDER BY message_id
		OFFSET $4 LIMIT $5`,
		channelID, metaDataID, string(model.StatusQueued), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("queue items for %s/%d: %w", channelID, metaDataID, err)
	}
	defer rows.Close()

	var out []*model.ConnectorMessage
	for rows.Next() {
		cm, err := scanConnectorMessage(rows, channelID, metaDataID)
		if err != nil {
			return nil, fmt.Errorf("queue items for %s/%d: %w", channelID, metaDataID, err)
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

func scanConnectorMessage(rows *sql.Rows, channelID string, metaDataID int) (*model.ConnectorMessage, error) {
	var (
		messageID       int64
		connectorName   string
		status          string
		sendAttempts    int
		sendDate        sql.NullTime
		responseDate    sql.NullTime
		errorCode       int
		processingError sql.NullString
		responseError   sql.NullString
	)
	if err := rows.Scan(&messageID, &connectorName, &status, &sendAttempts, &sendDate,
		&responseDate, &errorCode, &processingError, &responseError); err != nil {
		return nil, err
	}

	cm := model.NewConnectorMessage(messageID, channelID, "", metaDataID, connectorName)
	for i := 0; i < sendAttempts; i++ {
		cm.IncrementSendAttempts()
	}
	if sendDate.Valid {
		cm.SetSendDate(sendDate.Time)
	}
	if responseDate.Valid {
		cm.SetResponseDate(responseDate.Time)
	}
	if errorCode != 0 || processingError.String != "" {
		cm.SetError(errorCode, processingError.String)
	}
	if responseError.String != "" {
		cm.SetResponseError(responseError.String)
	}
	// A fresh ConnectorMessage starts at RECEIVED, so the persisted status
	// is reached by replaying SetStatus along a legal path of the state
	// machine.
	st := model.Status(status)
	switch st {
	case model.StatusQueued, model.StatusPending:
		_ = cm.SetStatus(model.StatusTransformed)
	case model.StatusSent:
		_ = cm.SetStatus(model.StatusTransformed)
		_ = cm.SetStatus(model.StatusPending)
	}
	_ = cm.SetStatus(st)
	return cm, nil
}

// RotateQueue clears every bucket's rotation flag for (channelID,
// metaDataID), letting grouped queue readers resume from the queue head.
func (s *Store) RotateQueue(ctx context.Context, channelID string, metaDataID int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_queue_rotation (channel_id, meta_data_id, thread_map)
		VALUES ($1, $2, '{}')
		ON CONFLICT (channel_id, meta_data_id) DO UPDATE SET thread_map = '{}'`,
		channelID, metaDataID)
	if err != nil {
		return fmt.Errorf("rotate queue for %s/%d: %w", channelID, metaDataID, err)
	}
	return nil
}

// GetRotateThreadMap returns the per-bucket rotation flags for (channelID,
// metaDataID), or an empty map if RotateQueue was never called.
func (s *Store) GetRotateThreadMap(ctx context.Context, channelID string, metaDataID int) (map[string]bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_map FROM connector_queue_rotation
		WHERE channel_id = $1 AND meta_data_id = $2`,
		channelID, metaDataID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rotate thread map for %s/%d: %w", channelID, metaDataID, err)
	}
	out := map[string]bool{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode rotate thread map for %s/%d: %w", channelID, metaDataID, err)
	}
	return out, nil
}

// SetLastItem records the most recent connector message dispatched for
// (channelID, metaDataID), used for ordered-delivery bookkeeping.
func (s *Store) SetLastItem(ctx context.Context, cm *model.ConnectorMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_last_item (channel_id, meta_data_id, message_id, recorded_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (channel_id, meta_data_id) DO UPDATE
			SET message_id = EXCLUDED.message_id, recorded_at = now()`,
		cm.ChannelID, cm.MetaDataID, cm.MessageID)
	if err != nil {
		return fmt.Errorf("set last item for %s/%d: %w", cm.ChannelID, cm.MetaDataID, err)
	}
	return nil
}

// GetStalePending returns connector messages stuck in PENDING whose
// sendDate predates olderThan — the queue's orphan-recovery scan uses this
// to detect a worker that crashed mid-transport.
func (s *Store) GetStalePending(ctx context.Context, channelID string, metaDataID int, olderThan time.Time) ([]*model.ConnectorMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, connector_name, status, send_attempts, send_date,
		       response_date, error_code, processing_error, response_error
		FROM connector_messages
		WHERE channel_id = $1 AND meta_data_id = $2 AND status = $3 AND send_date < $4
		ORDER BY message_id`,
		channelID, metaDataID, string(model.StatusPending), olderThan)
	if err != nil {
		return nil, fmt.Errorf("stale pending for %s/%d: %w", channelID, metaDataID, err)
	}
	defer rows.Close()

	var out []*model.ConnectorMessage
	for rows.Next() {
		cm, err := scanConnectorMessage(rows, channelID, metaDataID)
		if err != nil {
			return nil, fmt.Errorf("stale pending for %s/%d: %w", channelID, metaDataID, err)
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
