// Package store defines the Datastore port (spec.md §6): the abstract
// persistence interface the core depends on. Concrete implementations live
// outside this package (see pkg/database for the Postgres-backed one) so
// the engine itself never imports a specific driver.
package store

import (
	"context"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
)

// StatisticsDelta carries the per-event counter increments passed to
// UpdateStatistics (spec.md §6).
type StatisticsDelta struct {
	Received    int64
	Filtered    int64
	Transformed int64
	Pending     int64
	Sent        int64
	Error       int64
}

// Datastore is the persistence port the Donkey engine depends on. Every
// operation is transactional per call; failures surface as a typed error
// (see pkg/store errors below) rather than being swallowed.
type Datastore interface {
	// Channel resource lifecycle (spec.md §4.7 Deploy/Undeploy).
	AllocateChannelResources(ctx context.Context, channelID string) error
	ReleaseChannelResources(ctx context.Context, channelID string) error

	// NextMessageID returns the next monotonic messageId for a channel.
	NextMessageID(ctx context.Context, channelID string) (int64, error)

	InsertMessage(ctx context.Context, msg *model.Message) error
	InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error
	InsertMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, mc *model.MessageContent) error
	GetMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, contentType model.ContentType) (*model.MessageContent, error)

	UpdateStatus(ctx context.Context, messageID int64, channelID string, metaDataID int, status model.Status, errorCode int, sendAttempts int, sendDate, responseDate *time.Time) error

	UpdateStatistics(ctx context.Context, channelID string, metaDataID int, delta StatisticsDelta) error

	// Queue support (spec.md §4.3).
	GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error)
	GetQueueItems(ctx context.Context, channelID string, metaDataID int, offset, limit int) ([]*model.ConnectorMessage, error)
	RotateQueue(ctx context.Context, channelID string, metaDataID int) error
	GetRotateThreadMap(ctx context.Context, channelID string, metaDataID int) (map[string]bool, error)
	SetLastItem(ctx context.Context, cm *model.ConnectorMessage) error

	// GetStalePending returns connector messages stuck in PENDING (sent but
	// never reached a terminal status) whose sendDate is older than
	// olderThan — the send worker likely crashed mid-transport. Used by the
	// queue's orphan recovery scan.
	GetStalePending(ctx context.Context, channelID string, metaDataID int, olderThan time.Time) ([]*model.ConnectorMessage, error)
}
