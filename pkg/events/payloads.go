package events

// ConnectorEventPayload is the payload for every persisted per-connector
// event (MESSAGE_RECEIVED, QUEUED, SENT, ERROR, CONNECTOR_STATUS),
// mirroring stats.Event (spec.md §6).
type ConnectorEventPayload struct {
	Type       string `json:"type"`              // stats.Event.Type, e.g. "SENT"
	ChannelID  string `json:"channel_id"`         // owning channel
	MetaDataID int    `json:"meta_data_id"`       // 0 for the source connector
	MessageID  int64  `json:"message_id"`         // the message this event concerns
	Status     string `json:"status,omitempty"`   // model.Status string, for CONNECTOR_STATUS
	Timestamp  string `json:"timestamp"`          // RFC3339Nano
}

// QueueDepthPayload is the transient payload for QUEUE_DEPTH events,
// published whenever a destination's queue size changes (spec.md §4.3).
type QueueDepthPayload struct {
	Type       string `json:"type"` // always EventTypeQueueDepth
	ChannelID  string `json:"channel_id"`
	MetaDataID int    `json:"meta_data_id"`
	Depth      int64  `json:"depth"`
	Timestamp  string `json:"timestamp"`
}
