// Package destination implements the destination chain and connector
// (spec.md §4.4): ordered per-destination filter → transformer → dispatch,
// chain-stop semantics, and the queue-backed retry worker loop.
package destination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/queue"
	"github.com/codeready-toolchain/donkey/pkg/stats"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// FilterFunc decides whether a message should reach this destination.
// Returning false excludes it (status FILTERED); returning an error sets
// status ERROR and stops the chain.
type FilterFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error)

// TransformerFunc mutates cm's content (typically adding ENCODED). An
// error sets status ERROR and stops the chain.
type TransformerFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error

// SendResult classifies the outcome of one delivery attempt.
type SendResult struct {
	Retryable bool
	Response  *model.MessageContent // RESPONSE content, if any
}

// TransportFunc performs the actual wire send for one destination.
type TransportFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (SendResult, error)

// Destination is one configured endpoint within a chain (spec.md §4.4).
type Destination struct {
	MetaDataID    int
	ConnectorName string

	Filter      FilterFunc
	Transformer TransformerFunc
	Transport   TransportFunc

	QueueEnabled   bool
	QueueSendFirst bool

	RetryCount          int
	RetryIntervalMillis int
	GroupBy             string
	ThreadCount         int
	BufferCapacity      int
}

// Chain is an ordered list of destinations sharing a stop-on-error
// contract; destinations within a chain run sequentially (spec.md §4.4).
type Chain struct {
	Destinations []*Destination
}

// Runner executes every chain of a channel against one inbound,
// post-transform ConnectorMessage copy from the source, instantiating a
// queue + worker pool per queued destination.
type Runner struct {
	channelID string
	chains    []*Chain
	store     store.Datastore
	recorder  *stats.Recorder
	queues    map[int]*queue.ConnectorMessageQueue
	pools     map[int]*queue.WorkerPool

	resultsMu sync.RWMutex
	// results holds the most recent terminal ConnectorMessage per
	// (metaDataId, messageId), so a source connector attributing its
	// response to a named destination can read it back after Dispatch
	// returns (or, for a queued destination, once the worker pool
	// eventually drains it).
	results map[int]map[int64]*model.ConnectorMessage
}

// NewRunner constructs a chain runner bound to one channel's configured
// chains and datastore. It records statistics through a no-op dispatcher
// until SetRecorder installs the channel's shared one.
func NewRunner(channelID string, chains []*Chain, st store.Datastore) *Runner {
	return &Runner{
		channelID: channelID,
		chains:    chains,
		store:     st,
		recorder:  stats.NewRecorder(st, stats.NewCounters(), stats.NopDispatcher{}),
		queues:    make(map[int]*queue.ConnectorMessageQueue),
		pools:     make(map[int]*queue.WorkerPool),
		results:   make(map[int]map[int64]*model.ConnectorMessage),
	}
}

// SetRecorder installs the statistics recorder used for every status
// transition and queue-depth observation from this point on.
func (r *Runner) SetRecorder(rec *stats.Recorder) {
	if rec == nil {
		return
	}
	r.recorder = rec
}

// ConnectorResult returns the most recent ConnectorMessage produced for
// (metaDataID, messageID), used by source.Dispatcher's AttributeDestination
// path. The bool reports whether that destination has produced a result yet.
func (r *Runner) ConnectorResult(metaDataID int, messageID int64) (*model.ConnectorMessage, bool) {
	r.resultsMu.RLock()
	defer r.resultsMu.RUnlock()
	byMessage, ok := r.results[metaDataID]
	if !ok {
		return nil, false
	}
	cm, ok := byMessage[messageID]
	return cm, ok
}

func (r *Runner) recordResult(cm *model.ConnectorMessage) {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()
	byMessage, ok := r.results[cm.MetaDataID]
	if !ok {
		byMessage = make(map[int64]*model.ConnectorMessage)
		r.results[cm.MetaDataID] = byMessage
	}
	byMessage[cm.MessageID] = cm
}

// Start provisions a queue + worker pool for every queue-enabled
// destination across all chains. Call once after deploy, before Dispatch.
func (r *Runner) Start(ctx context.Context) {
	for _, chain := range r.chains {
		for _, dest := range chain.Destinations {
			if !dest.QueueEnabled {
				continue
			}
			q := queue.New(r.store, queue.Options{
				ChannelID:      r.channelID,
				MetaDataID:     dest.MetaDataID,
				GroupBy:        dest.GroupBy,
				ThreadCount:    dest.ThreadCount,
				BufferCapacity: dest.BufferCapacity,
			})
			q.OnEvent(func(evt queue.QueueEvent) {
				r.recorder.RecordQueueDepth(context.Background(), evt.ChannelID, evt.MetaDataID, evt.Size)
			})
			pool := queue.NewWorkerPool(q, queue.WorkerPoolConfig{
				WorkerCount:         maxInt(dest.ThreadCount, 1),
				RetryCount:          dest.RetryCount,
				RetryIntervalMillis: dest.RetryIntervalMillis,
			}, r.sendFuncFor(dest), r.store)
			pool.Start(ctx)
			r.queues[dest.MetaDataID] = q
			r.pools[dest.MetaDataID] = pool
		}
	}
}

// Stop drains all queue worker pools. Queued (not yet sent) messages
// remain durable in the datastore for the next deploy to resume.
func (r *Runner) Stop() {
	for _, pool := range r.pools {
		pool.Stop()
	}
}

// Dispatch runs every chain concurrently against one source-transformed
// ConnectorMessage, producing and persisting one ConnectorMessage per
// destination. Chains have no order guarantee relative to each other;
// destinations within a chain run in configured order.
func (r *Runner) Dispatch(ctx context.Context, msg *model.Message) {
	results := make(chan struct{}, len(r.chains))
	for _, chain := range r.chains {
		go func(c *Chain) {
			defer func() { results <- struct{}{} }()
			r.runChain(ctx, msg, c)
		}(chain)
	}
	for range r.chains {
		<-results
	}
}

func (r *Runner) runChain(ctx context.Context, msg *model.Message, chain *Chain) {
	for _, dest := range chain.Destinations {
		cm, err := msg.AddDestination(dest.MetaDataID, dest.ConnectorName)
		if err != nil {
			slog.Error("destination: failed to create connector message",
				"channel_id", r.channelID, "meta_data_id", dest.MetaDataID, "error", err)
			return
		}
		if err := r.store.InsertConnectorMessage(ctx, cm); err != nil {
			slog.Error("destination: failed to persist connector message", "error", err)
		}

		stop := r.runOne(ctx, msg, cm, dest)
		if stop {
			return // stopChain: remaining destinations in this chain are skipped entirely
		}
	}
}

// runOne runs filter → transformer → dispatch decision for one
// destination and reports whether the chain should stop.
func (r *Runner) runOne(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage, dest *Destination) (stopChain bool) {
	if dest.Filter != nil {
		keep, err := dest.Filter(ctx, msg, cm)
		if err != nil {
			r.fail(ctx, cm, fmt.Errorf("filter: %w", err))
			return true
		}
		if !keep {
			r.setStatus(ctx, cm, model.StatusFiltered)
			return false // FILTERED excludes only this destination
		}
	}

	if dest.Transformer != nil {
		if err := dest.Transformer(ctx, msg, cm); err != nil {
			r.fail(ctx, cm, fmt.Errorf("transformer: %w", err))
			return true
		}
	}
	r.setStatus(ctx, cm, model.StatusTransformed)

	switch {
	case !dest.QueueEnabled:
		r.sendInline(ctx, msg, cm, dest)
	case !dest.QueueSendFirst:
		r.enqueue(ctx, cm, dest)
	default:
		if !r.trySendThenQueue(ctx, msg, cm, dest) {
			r.enqueue(ctx, cm, dest)
		}
	}
	return false
}

func (r *Runner) sendInline(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage, dest *Destination) {
	r.setStatus(ctx, cm, model.StatusPending)
	cm.IncrementSendAttempts()
	result, err := dest.Transport(ctx, msg, cm)
	if err != nil {
		cm.SetError(0, err.Error())
		r.setStatus(ctx, cm, model.StatusError)
		return
	}
	if result.Response != nil {
		_ = cm.AddContent(result.Response)
	}
	r.setStatus(ctx, cm, model.StatusSent)
}

func (r *Runner) enqueue(ctx context.Context, cm *model.ConnectorMessage, dest *Destination) {
	q := r.queues[dest.MetaDataID]
	if q == nil {
		slog.Error("destination: queue enabled but no queue provisioned; call Start first",
			"meta_data_id", dest.MetaDataID)
		r.fail(ctx, cm, fmt.Errorf("queue not provisioned for destination %d", dest.MetaDataID))
		return
	}
	if err := q.Add(ctx, cm); err != nil {
		r.fail(ctx, cm, fmt.Errorf("enqueue: %w", err))
		return
	}
	if err := r.recorder.Record(ctx, r.channelID, dest.MetaDataID, store.StatisticsDelta{}, stats.Event{
		Type: stats.EventQueued, ChannelID: r.channelID, MetaDataID: dest.MetaDataID, MessageID: cm.MessageID,
	}); err != nil {
		slog.Error("destination: failed to record queued statistics", "error", err)
	}
}

// trySendThenQueue attempts an immediate send for queueSendFirst
// destinations; on failure the caller enqueues for retry.
func (r *Runner) trySendThenQueue(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage, dest *Destination) (sent bool) {
	r.setStatus(ctx, cm, model.StatusPending)
	cm.IncrementSendAttempts()
	result, err := dest.Transport(ctx, msg, cm)
	if err != nil {
		cm.SetError(0, err.Error())
		return false
	}
	if result.Response != nil {
		_ = cm.AddContent(result.Response)
	}
	r.setStatus(ctx, cm, model.StatusSent)
	return true
}

// sendFuncFor adapts a Destination's Transport into the queue package's
// SendFunc, used by the worker pool driving this destination's queue.
func (r *Runner) sendFuncFor(dest *Destination) queue.SendFunc {
	return func(ctx context.Context, cm *model.ConnectorMessage) (bool, error) {
		r.setStatus(ctx, cm, model.StatusPending)
		result, err := dest.Transport(ctx, nil, cm)
		if err != nil {
			r.setStatus(ctx, cm, model.StatusQueued)
			return true, err
		}
		if result.Response != nil {
			_ = cm.AddContent(result.Response)
		}
		r.setStatus(ctx, cm, model.StatusSent)
		return false, nil
	}
}

func (r *Runner) fail(ctx context.Context, cm *model.ConnectorMessage, err error) {
	cm.SetError(0, err.Error())
	r.setStatus(ctx, cm, model.StatusError)
}

func (r *Runner) setStatus(ctx context.Context, cm *model.ConnectorMessage, status model.Status) {
	if err := cm.SetStatus(status); err != nil {
		slog.Error("destination: status transition rejected", "error", err)
		return
	}
	if status == model.StatusPending {
		cm.SetSendDate(time.Now())
	}
	if err := r.store.UpdateStatus(ctx, cm.MessageID, r.channelID, cm.MetaDataID, status,
		cm.ErrorCode(), cm.SendAttempts(), cm.SendDate(), cm.ResponseDate()); err != nil {
		slog.Error("destination: failed to persist status", "error", err)
	}
	if status.ResponseTerminal() {
		r.recordResult(cm)
	}

	delta, evtType := statsFor(status)
	if err := r.recorder.Record(ctx, r.channelID, cm.MetaDataID, delta, stats.Event{
		Type: evtType, ChannelID: r.channelID, MetaDataID: cm.MetaDataID, MessageID: cm.MessageID,
		Payload: string(status),
	}); err != nil {
		slog.Error("destination: failed to record statistics", "error", err)
	}
}

// statsFor maps a destination-side status transition to the statistics
// delta and event type it contributes (spec.md §6). StatusReceived never
// reaches this method, as it is source-only. StatusQueued reaches it only
// when a queue worker's failed send puts a message back to QUEUED, and adds
// no counter: enqueue records the first QUEUED transition itself.
func statsFor(status model.Status) (store.StatisticsDelta, string) {
	switch status {
	case model.StatusFiltered:
		return store.StatisticsDelta{Filtered: 1}, stats.EventConnectorStatus
	case model.StatusTransformed:
		return store.StatisticsDelta{Transformed: 1}, stats.EventConnectorStatus
	case model.StatusPending:
		return store.StatisticsDelta{Pending: 1}, stats.EventConnectorStatus
	case model.StatusSent:
		return store.StatisticsDelta{Sent: 1}, stats.EventSent
	case model.StatusError:
		return store.StatisticsDelta{Error: 1}, stats.EventError
	default:
		return store.StatisticsDelta{}, stats.EventConnectorStatus
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
