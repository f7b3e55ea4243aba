package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateIfNeeded(t *testing.T) {
	t.Run("passes through normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(ConnectorEventPayload{
			Type:      EventTypeSent,
			ChannelID: "lab-results",
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, EventTypeSent)
		assert.Contains(t, result, "lab-results")
	})

	t.Run("truncates oversized payload", func(t *testing.T) {
		longStatus := strings.Repeat("a", 8000)
		payload, _ := json.Marshal(ConnectorEventPayload{
			Type:       EventTypeConnectorStatus,
			ChannelID:  "lab-results",
			MessageID:  1,
			Status:     longStatus,
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.Contains(t, result, "truncated")
		assert.Less(t, len(result), 8000)
	})

	t.Run("does not truncate small payload", func(t *testing.T) {
		payload, _ := json.Marshal(QueueDepthPayload{
			Type:      EventTypeQueueDepth,
			ChannelID: "lab-results",
			Depth:     3,
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)
		assert.NotContains(t, result, "truncated")
	})

	t.Run("truncated payload preserves routing fields", func(t *testing.T) {
		longStatus := strings.Repeat("x", 8000)
		payload, _ := json.Marshal(ConnectorEventPayload{
			Type:       EventTypeConnectorStatus,
			ChannelID:  "radiology",
			MetaDataID: 2,
			Status:     longStatus,
		})

		result, err := truncateIfNeeded(string(payload))
		require.NoError(t, err)

		assert.Contains(t, result, EventTypeConnectorStatus)
		assert.Contains(t, result, "radiology")
		assert.Contains(t, result, `"truncated":true`)
		assert.NotContains(t, result, "xxxx")
	})

	t.Run("empty JSON object", func(t *testing.T) {
		result, err := truncateIfNeeded("{}")
		require.NoError(t, err)
		assert.Equal(t, "{}", result)
	})
}

func TestInjectDBEventIDAndTruncate(t *testing.T) {
	t.Run("injects db_event_id into normal payload", func(t *testing.T) {
		payload, _ := json.Marshal(ConnectorEventPayload{
			Type:      EventTypeSent,
			ChannelID: "lab-results",
			MessageID: 7,
		})

		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)
		assert.Contains(t, result, `"db_event_id":42`)
		assert.Contains(t, result, "lab-results")
	})

	t.Run("truncated payload preserves db_event_id", func(t *testing.T) {
		longStatus := strings.Repeat("x", 8000)
		payload, _ := json.Marshal(ConnectorEventPayload{
			Type:      EventTypeConnectorStatus,
			ChannelID: "radiology",
			Status:    longStatus,
		})

		result, err := injectDBEventIDAndTruncate(payload, 42)
		require.NoError(t, err)
		assert.Contains(t, result, `"truncated":true`)
		assert.Contains(t, result, `"db_event_id":42`)
		assert.Contains(t, result, "radiology")
	})
}

func TestNewEventPublisher(t *testing.T) {
	publisher := NewEventPublisher(nil)
	assert.NotNil(t, publisher)
	assert.Nil(t, publisher.db)
}

func TestConnectorEventPayload_JSON(t *testing.T) {
	payload := ConnectorEventPayload{
		Type:       EventTypeSent,
		ChannelID:  "lab-results",
		MetaDataID: 1,
		MessageID:  100,
		Timestamp:  "2026-07-30T12:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded ConnectorEventPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, EventTypeSent, decoded.Type)
	assert.Equal(t, "lab-results", decoded.ChannelID)
	assert.Equal(t, 1, decoded.MetaDataID)
	assert.Equal(t, int64(100), decoded.MessageID)
	assert.Empty(t, decoded.Status)
}

func TestQueueDepthPayload_JSON(t *testing.T) {
	payload := QueueDepthPayload{
		Type:       EventTypeQueueDepth,
		ChannelID:  "lab-results",
		MetaDataID: 1,
		Depth:      42,
		Timestamp:  "2026-07-30T12:00:00Z",
	}

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded QueueDepthPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, EventTypeQueueDepth, decoded.Type)
	assert.Equal(t, int64(42), decoded.Depth)
}
