package model

import (
	"fmt"
	"sync"
	"time"
)

// SourceMetaDataID is the reserved metaDataId for the source connector
// within a channel. Destinations are numbered 1..N.
const SourceMetaDataID = 0

// Message is one end-to-end unit of work moving through a channel
// (spec.md §3). It owns exactly one ConnectorMessage per active connector,
// keyed by metaDataId, with metaDataId 0 reserved for the source.
type Message struct {
	MessageID    int64
	ChannelID    string
	ServerID     string
	ReceivedDate time.Time

	// Attributes carries ingress context set once at creation (e.g. remote
	// address, original transport headers) and is read-only thereafter.
	Attributes map[string]string

	mu         sync.RWMutex
	processed  bool
	connectors map[int]*ConnectorMessage
}

// NewMessage creates a Message with its source ConnectorMessage already
// attached (metaDataId 0), matching the invariant that every Message
// contains exactly one source entry from creation onward.
func NewMessage(channelID, serverID string, messageID int64, sourceConnectorName string) *Message {
	m := &Message{
		MessageID:    messageID,
		ChannelID:    channelID,
		ServerID:     serverID,
		ReceivedDate: time.Now(),
		Attributes:   make(map[string]string),
		connectors:   make(map[int]*ConnectorMessage),
	}
	m.connectors[SourceMetaDataID] = NewConnectorMessage(messageID, channelID, serverID, SourceMetaDataID, sourceConnectorName)
	return m
}

// Source returns the source ConnectorMessage (metaDataId 0).
func (m *Message) Source() *ConnectorMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectors[SourceMetaDataID]
}

// AddDestination attaches a new destination ConnectorMessage. metaDataId
// must be unique and non-zero within the Message.
func (m *Message) AddDestination(metaDataID int, connectorName string) (*ConnectorMessage, error) {
	if metaDataID == SourceMetaDataID {
		return nil, fmt.Errorf("metaDataId 0 is reserved for the source connector")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.connectors[metaDataID]; exists {
		return nil, fmt.Errorf("metaDataId %d already exists on message %d", metaDataID, m.MessageID)
	}
	cm := NewConnectorMessage(m.MessageID, m.ChannelID, m.ServerID, metaDataID, connectorName)
	cm.AttachShared(m.connectors[SourceMetaDataID].Shared())
	m.connectors[metaDataID] = cm
	return cm, nil
}

// ConnectorMessage returns the ConnectorMessage for the given metaDataId, or
// nil if none exists (e.g. a destination the source filter excluded).
func (m *Message) ConnectorMessage(metaDataID int) *ConnectorMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectors[metaDataID]
}

// Connectors returns a snapshot slice of all attached ConnectorMessages.
func (m *Message) Connectors() []*ConnectorMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ConnectorMessage, 0, len(m.connectors))
	for _, cm := range m.connectors {
		out = append(out, cm)
	}
	return out
}

// AllTerminal reports whether every attached destination ConnectorMessage has
// reached a terminal status; the source connector is not checked. QUEUED
// counts as terminal for this purpose per spec.md §4.6 ("QUEUED... counts as
// terminal for postprocessing").
func (m *Message) AllTerminal() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, cm := range m.connectors {
		if id == SourceMetaDataID {
			continue
		}
		if !cm.Status().ResponseTerminal() {
			return false
		}
	}
	return true
}

// MarkProcessed closes the Message once the postprocessor has run.
func (m *Message) MarkProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = true
}

// Processed reports whether the postprocessor has run for this Message.
func (m *Message) Processed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processed
}
