package destination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

type memStore struct {
	mu       sync.Mutex
	statuses map[string]model.Status
	queued   map[string]*model.ConnectorMessage
}

func newMemStore() *memStore {
	return &memStore{statuses: map[string]model.Status{}, queued: map[string]*model.ConnectorMessage{}}
}

func k(messageID int64, metaDataID int) string {
	return fmt.Sprintf("%d:%d", messageID, metaDataID)
}

func (s *memStore) AllocateChannelResources(ctx context.Context, channelID string) error { return nil }
func (s *memStore) ReleaseChannelResources(ctx context.Context, channelID string) error  { return nil }
func (s *memStore) NextMessageID(ctx context.Context, channelID string) (int64, error)   { return 1, nil }
func (s *memStore) InsertMessage(ctx context.Context, msg *model.Message) error          { return nil }

func (s *memStore) InsertConnectorMessage(ctx context.Context, cm *model.ConnectorMessage) error {
	return nil
}

func (s *memStore) InsertMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, mc *model.MessageContent) error {
	return nil
}

func (s *memStore) GetMessageContent(ctx context.Context, messageID int64, channelID string, metaDataID int, contentType model.ContentType) (*model.MessageContent, error) {
	return nil, store.ErrNotFound
}

func (s *memStore) UpdateStatus(ctx context.Context, messageID int64, channelID string, metaDataID int, status model.Status, errorCode int, sendAttempts int, sendDate, responseDate *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[k(messageID, metaDataID)] = status
	return nil
}

func (s *memStore) UpdateStatistics(ctx context.Context, channelID string, metaDataID int, delta store.StatisticsDelta) error {
	return nil
}

func (s *memStore) GetQueueSize(ctx context.Context, channelID string, metaDataID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued), nil
}

func (s *memStore) GetQueueItems(ctx context.Context, channelID string, metaDataID int, offset, limit int) ([]*model.ConnectorMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ConnectorMessage, 0, len(s.queued))
	for _, cm := range s.queued {
		out = append(out, cm)
	}
	return out, nil
}

func (s *memStore) RotateQueue(ctx context.Context, channelID string, metaDataID int) error { return nil }

func (s *memStore) GetRotateThreadMap(ctx context.Context, channelID string, metaDataID int) (map[string]bool, error) {
	return nil, nil
}

func (s *memStore) SetLastItem(ctx context.Context, cm *model.ConnectorMessage) error { return nil }

func (s *memStore) GetStalePending(ctx context.Context, channelID string, metaDataID int, olderThan time.Time) ([]*model.ConnectorMessage, error) {
	return nil, nil
}

func (s *memStore) statusOf(messageID int64, metaDataID int) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[k(messageID, metaDataID)]
}

func TestRunner_Dispatch_SendsInline(t *testing.T) {
	st := newMemStore()
	sent := false
	dest := &Destination{
		MetaDataID:    1,
		ConnectorName: "dest-1",
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error) {
			sent = true
			return SendResult{}, nil
		},
	}
	r := NewRunner("chan-1", []*Chain{{Destinations: []*Destination{dest}}}, st)

	msg := model.NewMessage("chan-1", "srv-1", 1, "source")
	r.Dispatch(context.Background(), msg)

	assert.True(t, sent)
	assert.Equal(t, model.StatusSent, st.statusOf(1, 1))
}

func TestRunner_Dispatch_FilterExcludesDestination(t *testing.T) {
	st := newMemStore()
	dest := &Destination{
		MetaDataID:    1,
		ConnectorName: "dest-1",
		Filter: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error) {
			return false, nil
		},
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error) {
			t.Fatal("transport should not run for a filtered destination")
			return SendResult{}, nil
		},
	}
	r := NewRunner("chan-1", []*Chain{{Destinations: []*Destination{dest}}}, st)
	msg := model.NewMessage("chan-1", "srv-1", 1, "source")
	r.Dispatch(context.Background(), msg)
	assert.Equal(t, model.StatusFiltered, st.statusOf(1, 1))
}

func TestRunner_Dispatch_ErrorStopsChain(t *testing.T) {
	st := newMemStore()
	secondCalled := false
	destA := &Destination{
		MetaDataID: 1, ConnectorName: "a",
		Transformer: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
			return errors.New("boom")
		},
	}
	destB := &Destination{
		MetaDataID: 2, ConnectorName: "b",
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error) {
			secondCalled = true
			return SendResult{}, nil
		},
	}
	r := NewRunner("chan-1", []*Chain{{Destinations: []*Destination{destA, destB}}}, st)
	msg := model.NewMessage("chan-1", "srv-1", 1, "source")
	r.Dispatch(context.Background(), msg)

	assert.Equal(t, model.StatusError, st.statusOf(1, 1))
	assert.False(t, secondCalled, "a destination after a chain-stopping error must not run")
}

func TestRunner_Dispatch_OtherChainsProceedInParallel(t *testing.T) {
	st := newMemStore()
	destErr := &Destination{
		MetaDataID: 1, ConnectorName: "a",
		Transformer: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
			return errors.New("boom")
		},
	}
	destOK := &Destination{
		MetaDataID: 2, ConnectorName: "b",
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error) {
			return SendResult{}, nil
		},
	}
	r := NewRunner("chan-1", []*Chain{
		{Destinations: []*Destination{destErr}},
		{Destinations: []*Destination{destOK}},
	}, st)
	msg := model.NewMessage("chan-1", "srv-1", 1, "source")
	r.Dispatch(context.Background(), msg)

	assert.Equal(t, model.StatusError, st.statusOf(1, 1))
	assert.Equal(t, model.StatusSent, st.statusOf(1, 2))
}

func TestRunner_QueueEnabled_EnqueuesInsteadOfSending(t *testing.T) {
	st := newMemStore()
	dest := &Destination{
		MetaDataID:     1,
		ConnectorName:  "dest-1",
		QueueEnabled:   true,
		ThreadCount:    1,
		BufferCapacity: 10,
		Transport: func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error) {
			return SendResult{}, nil
		},
	}
	r := NewRunner("chan-1", []*Chain{{Destinations: []*Destination{dest}}}, st)
	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	msg := model.NewMessage("chan-1", "srv-1", 1, "source")
	r.Dispatch(ctx, msg)

	require.Eventually(t, func() bool {
		return st.statusOf(1, 1) == model.StatusSent
	}, 2*time.Second, 10*time.Millisecond, "queued destination should eventually be drained and sent")
}
