package model

import (
	"fmt"
	"sync"
	"time"
)

// SharedMaps holds the two ephemeral key/value maps that live at Message
// scope: sourceMap (written once by the source, read-only thereafter) and
// channelMap (shared and mutable across every connector of one Message).
// One SharedMaps instance is created per Message and handed to every
// ConnectorMessage attached to it.
type SharedMaps struct {
	mu         sync.RWMutex
	sourceMap  map[string]any
	sourceSet  bool
	channelMap map[string]any
}

// NewSharedMaps creates an empty SharedMaps for a new Message.
func NewSharedMaps() *SharedMaps {
	return &SharedMaps{
		sourceMap:  make(map[string]any),
		channelMap: make(map[string]any),
	}
}

// SetSourceMap installs the source map once. Subsequent calls are rejected:
// per spec.md §3, sourceMap is "set by source, read-only thereafter".
func (s *SharedMaps) SetSourceMap(values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceSet {
		return fmt.Errorf("sourceMap already set; it is write-once")
	}
	for k, v := range values {
		s.sourceMap[k] = v
	}
	s.sourceSet = true
	return nil
}

// SourceMap returns a read-only snapshot of the source map.
func (s *SharedMaps) SourceMap() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.sourceMap)
}

// ChannelMapGet reads a value from the shared channel map.
func (s *SharedMaps) ChannelMapGet(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.channelMap[key]
	return v, ok
}

// ChannelMapSet writes a value visible to every connector of the Message.
func (s *SharedMaps) ChannelMapSet(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelMap[key] = value
}

// ChannelMapSnapshot returns a copy of the full channel map.
func (s *SharedMaps) ChannelMapSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.channelMap)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ConnectorMessage is one Message as it passes through one connector
// (spec.md §3).
type ConnectorMessage struct {
	MessageID     int64
	ChannelID     string
	ServerID      string
	MetaDataID    int
	ConnectorName string

	sendAttempts  int
	sendDate      *time.Time
	responseDate  *time.Time
	errorCode     int
	processingErr string
	responseErr   string

	// connectorMap is private to this ConnectorMessage.
	connectorMap map[string]any

	// shared points at the owning Message's SharedMaps (sourceMap/channelMap).
	shared *SharedMaps

	mu      sync.RWMutex
	status  Status
	content map[ContentType]*MessageContent
}

// NewConnectorMessage creates a ConnectorMessage in the initial RECEIVED
// status with an empty content set.
func NewConnectorMessage(messageID int64, channelID, serverID string, metaDataID int, connectorName string) *ConnectorMessage {
	return &ConnectorMessage{
		MessageID:     messageID,
		ChannelID:     channelID,
		ServerID:      serverID,
		MetaDataID:    metaDataID,
		ConnectorName: connectorName,
		status:        StatusReceived,
		content:       make(map[ContentType]*MessageContent),
		connectorMap:  make(map[string]any),
		shared:        NewSharedMaps(),
	}
}

// AttachShared binds this ConnectorMessage to the Message-scoped shared maps.
// Called once when a destination ConnectorMessage is created off the
// source's SharedMaps.
func (c *ConnectorMessage) AttachShared(shared *SharedMaps) {
	c.shared = shared
}

// Shared returns the Message-scoped sourceMap/channelMap holder.
func (c *ConnectorMessage) Shared() *SharedMaps {
	return c.shared
}

// ConnectorMapGet reads a value from this connector's private map.
func (c *ConnectorMessage) ConnectorMapGet(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.connectorMap[key]
	return v, ok
}

// ConnectorMapSet writes a value to this connector's private map.
func (c *ConnectorMessage) ConnectorMapSet(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectorMap[key] = value
}

// Status returns the current connector status.
func (c *ConnectorMessage) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ErrTerminalStatusOverwrite is returned by SetStatus for every transition
// the state machine does not allow, including moving a terminal
// ConnectorMessage to a non-terminal status (I3).
type ErrTerminalStatusOverwrite struct {
	MessageID  int64
	MetaDataID int
	Current    Status
	Attempted  Status
}

func (e *ErrTerminalStatusOverwrite) Error() string {
	return fmt.Sprintf("connector message %d/%d is terminal at %s, cannot move to %s",
		e.MessageID, e.MetaDataID, e.Current, e.Attempted)
}

// SetStatus transitions the connector to next, enforcing the state machine
// in spec.md §4.2 and invariant I3 (terminal statuses are never overwritten
// by non-terminal ones). Re-asserting the same terminal status is allowed
// as a no-op (idempotent retries after a crash, see P1).
func (c *ConnectorMessage) SetStatus(next Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == next {
		return nil
	}
	if !c.status.CanTransitionTo(next) {
		return &ErrTerminalStatusOverwrite{
			MessageID:  c.MessageID,
			MetaDataID: c.MetaDataID,
			Current:    c.status,
			Attempted:  next,
		}
	}
	c.status = next
	return nil
}

// AddContent appends a MessageContent entry. Per the append-only invariant,
// writing a contentType that already exists for this ConnectorMessage is an
// error.
func (c *ConnectorMessage) AddContent(mc *MessageContent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.content[mc.ContentType]; exists {
		return fmt.Errorf("content type %s already written for connector message %d/%d",
			mc.ContentType, c.MessageID, c.MetaDataID)
	}
	c.content[mc.ContentType] = mc
	return nil
}

// Content returns the MessageContent for a given type, or nil if absent.
func (c *ConnectorMessage) Content(t ContentType) *MessageContent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content[t]
}

// AllContent returns a snapshot of every content entry attached so far.
func (c *ConnectorMessage) AllContent() map[ContentType]*MessageContent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ContentType]*MessageContent, len(c.content))
	for k, v := range c.content {
		out[k] = v
	}
	return out
}

// IncrementSendAttempts increments sendAttempts. Per spec.md §4.2,
// sendAttempts increments only on a transport send attempt, never on
// filter/transformer/enqueue failures — callers must only call this
// immediately before attempting a transport send.
func (c *ConnectorMessage) IncrementSendAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendAttempts++
	return c.sendAttempts
}

// SendAttempts returns the current send attempt count.
func (c *ConnectorMessage) SendAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendAttempts
}

// SetSendDate records the time of the most recent send attempt.
func (c *ConnectorMessage) SetSendDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendDate = &t
}

// SendDate returns the most recently recorded send time, if any.
func (c *ConnectorMessage) SendDate() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendDate
}

// SetResponseDate records the time a response was received.
func (c *ConnectorMessage) SetResponseDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseDate = &t
}

// ResponseDate returns the recorded response time, if any.
func (c *ConnectorMessage) ResponseDate() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responseDate
}

// SetError records a non-zero errorCode and human-readable processingErr,
// disambiguating why a destination is in ERROR vs QUEUED (spec.md §4.2).
func (c *ConnectorMessage) SetError(code int, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCode = code
	c.processingErr = message
}

// ErrorCode returns the last recorded error code (0 means no problem).
func (c *ConnectorMessage) ErrorCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errorCode
}

// ProcessingError returns the last recorded processing error text.
func (c *ConnectorMessage) ProcessingError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processingErr
}

// SetResponseError records a response-stage error (e.g. a NAK reason).
func (c *ConnectorMessage) SetResponseError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseErr = message
}

// ResponseError returns the last recorded response error text.
func (c *ConnectorMessage) ResponseError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.responseErr
}
