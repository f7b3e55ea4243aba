package channel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/donkey/pkg/destination"
	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/source"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	allocated bool
	released  bool
	statuses  map[string]model.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]model.Status{}}
}

func k(messageID int64, metaDataID int) string { return fmt.Sprintf("%d:%d", messageID, metaDataID) }

func (s *fakeStore) AllocateChannelResources(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated = true
	return nil
}

func (s *fakeStore) ReleaseChannelResources(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func (s *fakeStore) NextMessageID(ctx context.Context, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg *model.Message) error { return nil }

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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[k(messageID, metaDataID)] = status
	return nil
}

func (s *fakeStore) UpdateStatistics(ctx context.Context, channelID string, metaDataID int, delta store.StatisticsDelta) error {
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

func (s *fakeStore) statusOf(messageID int64, metaDataID int) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[k(messageID, metaDataID)]
}

func testChannel(st store.Datastore, sent *bool) *Channel {
	dest := &destination.Destination{
		MetaDataID:    1,
		ConnectorName: "dest-1",
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (destination.SendResult, error) {
			if sent != nil {
				*sent = true
			}
			return destination.SendResult{}, nil
		},
	}
	return New(Config{
		ID:     "chan-1",
		Chains: []*destination.Chain{{Destinations: []*destination.Destination{dest}}},
		SourceConfig: source.Config{
			ConnectorName:       "src",
			WaitForDestinations: true,
		},
	}, st)
}

func TestChannel_DeployStartAcceptStopUndeploy(t *testing.T) {
	st := newFakeStore()
	sent := false
	ch := testChannel(st, &sent)

	require.NoError(t, ch.Deploy(context.Background()))
	assert.Equal(t, StateDeployed, ch.State())
	assert.True(t, st.allocated)

	require.NoError(t, ch.Start(context.Background()))
	assert.Equal(t, StateStarted, ch.State())

	resp, err := ch.Accept(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Empty(t, resp)
	assert.True(t, sent)
	assert.Equal(t, model.StatusSent, st.statusOf(1, 1))

	require.NoError(t, ch.Stop(context.Background()))
	assert.Equal(t, StateStopped, ch.State())

	require.NoError(t, ch.Undeploy(context.Background()))
	assert.Equal(t, StateUndeployed, ch.State())
	assert.True(t, st.released)
}

func TestChannel_AcceptRejectedWhenNotStarted(t *testing.T) {
	st := newFakeStore()
	ch := testChannel(st, nil)
	_, err := ch.Accept(context.Background(), []byte("hello"))
	require.Error(t, err)
}

func TestChannel_PauseRejectsFurtherAccepts(t *testing.T) {
	st := newFakeStore()
	ch := testChannel(st, nil)
	require.NoError(t, ch.Deploy(context.Background()))
	require.NoError(t, ch.Start(context.Background()))
	require.NoError(t, ch.Pause(context.Background()))
	assert.Equal(t, StatePaused, ch.State())

	_, err := ch.Accept(context.Background(), []byte("hello"))
	require.Error(t, err)
}

func TestChannel_InvalidTransitionRejected(t *testing.T) {
	st := newFakeStore()
	ch := testChannel(st, nil)
	err := ch.Start(context.Background())
	require.Error(t, err)
	var invalidErr *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalidErr)
}

func TestChannel_UndeployRequiresStoppedState(t *testing.T) {
	st := newFakeStore()
	ch := testChannel(st, nil)
	require.NoError(t, ch.Deploy(context.Background()))
	require.NoError(t, ch.Start(context.Background()))

	err := ch.Undeploy(context.Background())
	require.Error(t, err, "a running channel must be stopped before it can be undeployed")
}
