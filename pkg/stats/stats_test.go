package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

type fakeStore struct {
	mu     sync.Mutex
	deltas []store.StatisticsDelta
}

func (s *fakeStore) AllocateChannelResources(ctx context.Context, channelID string) error { return nil }
func (s *fakeStore) ReleaseChannelResources(ctx context.Context, channelID string) error  { return nil }
func (s *fakeStore) NextMessageID(ctx context.Context, channelID string) (int64, error)   { return 1, nil }
func (s *fakeStore) InsertMessage(ctx context.Context, msg *model.Message) error          { return nil }
func (s *fakeStore) InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error {
	return nil
}
func (s *fakeStore) InsertMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, mc *model.MessageContent) error {
	return nil
}
func (s *fakeStore) GetMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, contentType model.ContentType) (*model.MessageContent, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) UpdateStatus(ctx context.Context, messageID int64, channelID string, metaDataID int, status model.Status, errorCode int, sendAttempts int, sendDate, responseDate *time.Time) error {
	return nil
}
func (s *fakeStore) UpdateStatistics(ctx context.Context, channelID string, metaDataID int, delta store.StatisticsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, delta)
	return nil
}
func (s *fakeStore) GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error) {
	return 0, nil
}
func (s *fakeStore) GetQueueItems(ctx context.Context, channelID string, metaDataID int, offset, limit int) ([]*model.ConnectorMessage, error) {
	return nil, nil
}
func (s *fakeStore) RotateQueue(ctx context.Context, channelID string, metaDataID int) error {
	return nil
}
func (s *fakeStore) GetRotateThreadMap(ctx context.Context, channelID string, metaDataID int) (map[string]bool, error) {
	return nil, nil
}
func (s *fakeStore) SetLastItem(ctx context.Context, cm *model.ConnectorMessage) error { return nil }
func (s *fakeStore) GetStalePending(ctx context.Context, channelID string, metaDataID int, olderThan time.Time) ([]*model.ConnectorMessage, error) {
	return nil, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
	depths []int64
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, evt Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, evt)
}

func (d *recordingDispatcher) DispatchQueueDepth(ctx context.Context, channelID string, metaDataID int, depth int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depths = append(d.depths, depth)
}

func TestCounters_ApplyAccumulates(t *testing.T) {
	c := NewCounters()
	c.Apply("chan-1", 0, store.StatisticsDelta{Received: 1})
	c.Apply("chan-1", 0, store.StatisticsDelta{Received: 1, Transformed: 1})
	snap := c.Snapshot("chan-1", 0)
	assert.EqualValues(t, 2, snap.Received)
	assert.EqualValues(t, 1, snap.Transformed)
}

func TestCounters_Snapshot_ScopedPerConnector(t *testing.T) {
	c := NewCounters()
	c.Apply("chan-1", 0, store.StatisticsDelta{Received: 1})
	c.Apply("chan-1", 1, store.StatisticsDelta{Sent: 1})
	assert.EqualValues(t, 1, c.Snapshot("chan-1", 0).Received)
	assert.EqualValues(t, 0, c.Snapshot("chan-1", 1).Received)
	assert.EqualValues(t, 1, c.Snapshot("chan-1", 1).Sent)
}

func TestRecorder_Record_PersistsThenCountsThenDispatches(t *testing.T) {
	st := &fakeStore{}
	counters := NewCounters()
	dispatch := &recordingDispatcher{}
	rec := NewRecorder(st, counters, dispatch)

	err := rec.Record(context.Background(), "chan-1", 1, store.StatisticsDelta{Sent: 1}, Event{
		Type: EventSent, ChannelID: "chan-1", MetaDataID: 1, MessageID: 5,
	})
	require.NoError(t, err)

	assert.Len(t, st.deltas, 1)
	assert.EqualValues(t, 1, counters.Snapshot("chan-1", 1).Sent)
	require.Len(t, dispatch.events, 1)
	assert.Equal(t, EventSent, dispatch.events[0].Type)
}

func TestRecorder_NilDispatcherDefaultsToNop(t *testing.T) {
	st := &fakeStore{}
	rec := NewRecorder(st, NewCounters(), nil)
	assert.NotPanics(t, func() {
		rec.RecordQueueDepth(context.Background(), "chan-1", 1, 42)
	})
}
