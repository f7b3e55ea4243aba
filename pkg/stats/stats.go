// Package stats implements per-channel/per-connector statistics counters
// and the event dispatch the core engine emits for observers (spec.md §6,
// §4.6, C8). The concrete transport (Postgres LISTEN/NOTIFY + websocket
// fanout) lives in pkg/events; this package only defines the shape of what
// crosses that boundary and keeps the in-process running totals the REST
// API reads back.
package stats

import (
	"context"
	"sync"

	"github.com/codeready-toolchain/donkey/pkg/store"
)

// Event types the core emits, independent of transport (spec.md §6).
const (
	EventMessageReceived = "MESSAGE_RECEIVED"
	EventQueued          = "QUEUED"
	EventSent            = "SENT"
	EventError           = "ERROR"
	EventConnectorStatus = "CONNECTOR_STATUS"
)

// Event is one observability notification the engine hands to an
// EventDispatcher. Payload is event-specific (e.g. a status string for
// CONNECTOR_STATUS, empty for simple lifecycle markers).
type Event struct {
	Type       string
	ChannelID  string
	MetaDataID int
	MessageID  int64
	Payload    string
}

// EventDispatcher is the observability transport port (spec.md §6): the
// core emits events and counter deltas to it but never owns how they reach
// an observer (websocket client, metrics sink, audit log).
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt Event)
	DispatchQueueDepth(ctx context.Context, channelID string, metaDataID int, depth int64)
}

// NopDispatcher discards every event; used where no observer is configured
// (e.g. unit tests, a channel with statistics disabled).
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(ctx context.Context, evt Event)                                    {}
func (NopDispatcher) DispatchQueueDepth(ctx context.Context, channelID string, metaDataID int, depth int64) {}

// counterKey scopes running totals to one (channelId, metaDataId) pair.
type counterKey struct {
	channelID  string
	metaDataID int
}

// Counters holds running per-channel/per-connector totals, mirroring the
// deltas persisted via store.Datastore.UpdateStatistics so the REST API can
// read current counts without a datastore round trip.
type Counters struct {
	mu    sync.RWMutex
	byKey map[counterKey]*store.StatisticsDelta
}

// NewCounters creates an empty in-memory counter set.
func NewCounters() *Counters {
	return &Counters{byKey: make(map[counterKey]*store.StatisticsDelta)}
}

// Apply adds delta's fields to the running totals for (channelID, metaDataID).
func (c *Counters) Apply(channelID string, metaDataID int, delta store.StatisticsDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := counterKey{channelID, metaDataID}
	cur, ok := c.byKey[key]
	if !ok {
		cur = &store.StatisticsDelta{}
		c.byKey[key] = cur
	}
	cur.Received += delta.Received
	cur.Filtered += delta.Filtered
	cur.Transformed += delta.Transformed
	cur.Pending += delta.Pending
	cur.Sent += delta.Sent
	cur.Error += delta.Error
}

// Snapshot returns a copy of the running totals for (channelID, metaDataID).
func (c *Counters) Snapshot(channelID string, metaDataID int) store.StatisticsDelta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cur, ok := c.byKey[counterKey{channelID, metaDataID}]; ok {
		return *cur
	}
	return store.StatisticsDelta{}
}

// Recorder is what destination and source call into (queue depth reaches
// it through the queue's OnEvent hook, which destination.Runner forwards to
// RecordQueueDepth): it persists the
// delta to the datastore, updates the in-memory running totals, and emits
// the corresponding event to the dispatcher, in that order so an observer
// never sees an event before the datastore durably reflects it.
type Recorder struct {
	store    store.Datastore
	counters *Counters
	dispatch EventDispatcher
}

// NewRecorder builds a Recorder wired to a datastore, in-memory counters,
// and an event dispatcher (pkg/events, or stats.NopDispatcher in tests).
func NewRecorder(st store.Datastore, counters *Counters, dispatch EventDispatcher) *Recorder {
	if dispatch == nil {
		dispatch = NopDispatcher{}
	}
	return &Recorder{store: st, counters: counters, dispatch: dispatch}
}

// Record persists delta, updates running totals, and emits evt.
func (r *Recorder) Record(ctx context.Context, channelID string, metaDataID int, delta store.StatisticsDelta, evt Event) error {
	if err := r.store.UpdateStatistics(ctx, channelID, metaDataID, delta); err != nil {
		return err
	}
	r.counters.Apply(channelID, metaDataID, delta)
	r.dispatch.Dispatch(ctx, evt)
	return nil
}

// RecordQueueDepth emits a queueDepth observation without touching the
// received/filtered/... counters.
func (r *Recorder) RecordQueueDepth(ctx context.Context, channelID string, metaDataID int, depth int64) {
	r.dispatch.DispatchQueueDepth(ctx, channelID, metaDataID, depth)
}

// Counters exposes the underlying running totals for the REST API.
func (r *Recorder) Counters() *Counters {
	return r.counters
}
