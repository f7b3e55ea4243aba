package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelTopic(t *testing.T) {
	tests := []struct {
		name      string
		channelID string
		want      Topic
	}{
		{
			name:      "formats channel topic correctly",
			channelID: "lab-results",
			want:      "channel:lab-results",
		},
		{
			name:      "handles UUID-style identifiers",
			channelID: "550e8400-e29b-41d4-a716-446655440000",
			want:      "channel:550e8400-e29b-41d4-a716-446655440000",
		},
		{
			name:      "handles empty string",
			channelID: "",
			want:      "channel:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChannelTopic(tt.channelID)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEventTypeConstants(t *testing.T) {
	types := []string{
		EventTypeMessageReceived,
		EventTypeQueued,
		EventTypeSent,
		EventTypeError,
		EventTypeConnectorStatus,
		EventTypeQueueDepth,
	}

	seen := make(map[string]bool)
	for _, typ := range types {
		assert.NotEmpty(t, typ, "event type should not be empty")
		assert.False(t, seen[typ], "duplicate event type: %s", typ)
		seen[typ] = true
	}
}

func TestGlobalChannelsChannel(t *testing.T) {
	assert.Equal(t, Topic("channels"), GlobalChannelsChannel)
}
