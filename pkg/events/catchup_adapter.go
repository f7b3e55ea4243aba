package events

import (
	"context"

	"github.com/codeready-toolchain/donkey/pkg/database"
)

// eventQuerier abstracts the event query method needed by
// StoreCatchupAdapter. Implemented by *database.Store.
type eventQuerier interface {
	GetEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]database.EventRecord, error)
}

var _ CatchupQuerier = (*StoreCatchupAdapter)(nil)

// StoreCatchupAdapter wraps an eventQuerier (pkg/database.Store) to
// implement CatchupQuerier for manager.go's reconnect-and-replay path.
type StoreCatchupAdapter struct {
	querier eventQuerier
}

// NewStoreCatchupAdapter creates a CatchupQuerier backed by st.
func NewStoreCatchupAdapter(st eventQuerier) *StoreCatchupAdapter {
	return &StoreCatchupAdapter{querier: st}
}

// GetCatchupEvents queries events since sinceID up to limit for the
// catchup mechanism.
func (a *StoreCatchupAdapter) GetCatchupEvents(ctx context.Context, topic Topic, sinceID, limit int) ([]CatchupEvent, error) {
	records, err := a.querier.GetEventsSince(ctx, string(topic), sinceID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]CatchupEvent, len(records))
	for i, rec := range records {
		result[i] = CatchupEvent{ID: rec.ID, Payload: rec.Payload}
	}
	return result, nil
}
