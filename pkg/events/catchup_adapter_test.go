package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/codeready-toolchain/donkey/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEventQuerier implements eventQuerier for testing the adapter.
type mockEventQuerier struct {
	records []database.EventRecord
	err     error
}

func (m *mockEventQuerier) GetEventsSince(_ context.Context, _ string, _ int, limit int) ([]database.EventRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func TestStoreCatchupAdapter_GetCatchupEvents(t *testing.T) {
	querier := &mockEventQuerier{
		records: []database.EventRecord{
			{ID: 10, Payload: map[string]interface{}{"type": "SENT", "seq": float64(1)}},
			{ID: 20, Payload: map[string]interface{}{"type": "QUEUE_DEPTH", "seq": float64(2)}},
		},
	}

	adapter := NewStoreCatchupAdapter(querier)
	events, err := adapter.GetCatchupEvents(context.Background(), "channel:lab-results", 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, 10, events[0].ID)
	assert.Equal(t, 20, events[1].ID)

	assert.Equal(t, "SENT", events[0].Payload["type"])
	assert.Equal(t, float64(1), events[0].Payload["seq"])
	assert.Equal(t, "QUEUE_DEPTH", events[1].Payload["type"])
	assert.Equal(t, float64(2), events[1].Payload["seq"])
}

func TestStoreCatchupAdapter_GetCatchupEvents_WithLimit(t *testing.T) {
	querier := &mockEventQuerier{
		records: []database.EventRecord{
			{ID: 1, Payload: map[string]interface{}{"seq": float64(1)}},
			{ID: 2, Payload: map[string]interface{}{"seq": float64(2)}},
			{ID: 3, Payload: map[string]interface{}{"seq": float64(3)}},
		},
	}

	adapter := NewStoreCatchupAdapter(querier)
	events, err := adapter.GetCatchupEvents(context.Background(), "channel:lab-results", 0, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, 1, events[0].ID)
	assert.Equal(t, 2, events[1].ID)
}

func TestStoreCatchupAdapter_GetCatchupEvents_Error(t *testing.T) {
	querier := &mockEventQuerier{
		err: fmt.Errorf("database connection lost"),
	}

	adapter := NewStoreCatchupAdapter(querier)
	events, err := adapter.GetCatchupEvents(context.Background(), "channel:lab-results", 0, 10)
	assert.Error(t, err)
	assert.Nil(t, events)
	assert.Contains(t, err.Error(), "database connection lost")
}

func TestStoreCatchupAdapter_GetCatchupEvents_Empty(t *testing.T) {
	querier := &mockEventQuerier{records: []database.EventRecord{}}

	adapter := NewStoreCatchupAdapter(querier)
	events, err := adapter.GetCatchupEvents(context.Background(), "channel:lab-results", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
