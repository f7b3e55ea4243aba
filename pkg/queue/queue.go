// Package queue implements the connector message queue: a durable
// FIFO-with-bucketing buffer bound to one (channelId, metaDataId), backed
// by the Datastore for persistence and refilled into an in-memory buffer
// for low-latency acquire/release by destination workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// Sentinel errors for queue operations.
var (
	// ErrNoMessageAvailable indicates acquire found nothing eligible.
	ErrNoMessageAvailable = errors.New("queue: no message available")

	// ErrNotCheckedOut indicates release/markAsDeleted was called for a
	// message the queue does not currently have checked out.
	ErrNotCheckedOut = errors.New("queue: connector message not checked out")
)

// Options configures one ConnectorMessageQueue instance (spec.md §4.3).
type Options struct {
	ChannelID      string
	MetaDataID     int
	GroupBy        string // empty disables bucketing
	ThreadCount    int    // number of logical buckets when GroupBy is set
	BufferCapacity int    // soft bound on in-memory items
}

// entry is one buffered, not-yet-finished ConnectorMessage plus the
// bookkeeping the queue needs to hand it out and reclaim it.
type entry struct {
	cm          *model.ConnectorMessage
	groupValue  string
	bucket      int
	checkedOut  bool
	markDeleted bool
}

// ConnectorMessageQueue is the per-(channelId, metaDataId) durable queue
// described in spec.md §4.3. It is safe for concurrent acquire from
// multiple workers and concurrent add from one producer; every operation,
// Invalidate included, runs under one mutex and blocks all other
// operations while it runs.
type ConnectorMessageQueue struct {
	opts  Options
	store store.Datastore

	mu      sync.Mutex
	buffer  []*entry // ascending messageId order
	offset  int      // effective head; advanced by rotation
	size    int64    // datastore-reported size, not just len(buffer)
	rotated map[int]bool // worker bucket -> rotation pending

	buckets      map[string]int // group value -> assigned bucket
	nextBucketID int

	dispatch func(event QueueEvent)
}

// QueueEvent is emitted on Add, on a finished Release and on Invalidate so
// the statistics/event component (C8) can track queue depth without
// polling. Acquire and a retryable Release emit nothing.
type QueueEvent struct {
	ChannelID  string
	MetaDataID int
	Kind       string // "queued", "released", "invalidated"
	Size       int64
}

// New constructs a queue bound to one channel/destination pair.
func New(st store.Datastore, opts Options) *ConnectorMessageQueue {
	if opts.ThreadCount <= 0 {
		opts.ThreadCount = 1
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = 1000
	}
	return &ConnectorMessageQueue{
		opts:    opts,
		store:   st,
		rotated: make(map[int]bool),
		buckets: make(map[string]int),
		dispatch: func(QueueEvent) {},
	}
}

// OnEvent installs a callback invoked for every queue state transition.
func (q *ConnectorMessageQueue) OnEvent(fn func(QueueEvent)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if fn == nil {
		fn = func(QueueEvent) {}
	}
	q.dispatch = fn
}

// Add enqueues cm for persistent retry. O(1) against the in-memory
// buffer; the datastore write is the durability boundary. When the
// buffer is at capacity the item still counts toward Size but is not
// held in memory — a later fillBuffer will pick it up.
func (q *ConnectorMessageQueue) Add(ctx context.Context, cm *model.ConnectorMessage) error {
	if err := cm.SetStatus(model.StatusQueued); err != nil {
		return fmt.Errorf("queue add: %w", err)
	}
	if err := q.store.UpdateStatus(ctx, cm.MessageID, q.opts.ChannelID, cm.MetaDataID, model.StatusQueued, cm.ErrorCode(), cm.SendAttempts(), cm.SendDate(), cm.ResponseDate()); err != nil {
		return fmt.Errorf("queue add: persist status: %w", err)
	}

	q.mu.Lock()
	q.size++
	if len(q.buffer) < q.opts.BufferCapacity {
		q.buffer = append(q.buffer, &entry{
			cm:         cm,
			groupValue: q.groupValueLocked(cm),
			bucket:     q.bucketForLocked(q.groupValueLocked(cm)),
		})
	}
	size := q.size
	q.mu.Unlock()

	q.dispatch(QueueEvent{ChannelID: q.opts.ChannelID, MetaDataID: q.opts.MetaDataID, Kind: "queued", Size: size})
	return nil
}

// Acquire claims the next eligible message for the calling worker's
// bucket. Eligibility: not already checked out, and (if GroupBy is set)
// the message's group hashes to this worker's bucket.
func (q *ConnectorMessageQueue) Acquire(ctx context.Context, workerBucket int) (*model.ConnectorMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		if err := q.fillBufferLocked(ctx); err != nil {
			return nil, err
		}
	}

	start := q.offset
	if q.rotated[workerBucket] {
		start++
		q.rotated[workerBucket] = false
	}

	for i := 0; i < len(q.buffer); i++ {
		idx := (start + i) % max(len(q.buffer), 1)
		if idx >= len(q.buffer) {
			continue
		}
		e := q.buffer[idx]
		if e.checkedOut {
			continue
		}
		if q.opts.GroupBy != "" && q.opts.ThreadCount > 1 && e.bucket != workerBucket {
			continue
		}
		e.checkedOut = true
		return e.cm, nil
	}
	return nil, ErrNoMessageAvailable
}

// Release returns a checked-out message to the pool. finished=true
// removes it (success or permanent error, decrementing Size); finished
// =false restores it for retry and signals rotation so subsequent
// acquires by every worker skip past this head once, preventing a
// poison message from starving its bucket.
func (q *ConnectorMessageQueue) Release(ctx context.Context, cm *model.ConnectorMessage, finished bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexOfLocked(cm)
	if idx < 0 {
		return fmt.Errorf("release message %d/%d: %w", cm.MessageID, cm.MetaDataID, ErrNotCheckedOut)
	}
	e := q.buffer[idx]

	if finished || e.markDeleted {
		q.buffer = append(q.buffer[:idx], q.buffer[idx+1:]...)
		if idx < q.offset {
			q.offset--
		}
		q.size--
		q.dispatch(QueueEvent{ChannelID: q.opts.ChannelID, MetaDataID: q.opts.MetaDataID, Kind: "released", Size: q.size})
		return nil
	}

	e.checkedOut = false
	for bucket := 0; bucket < q.opts.ThreadCount; bucket++ {
		q.rotated[bucket] = true
	}
	slog.Debug("queue: rotating after retryable release",
		"channel_id", q.opts.ChannelID, "meta_data_id", q.opts.MetaDataID)
	return nil
}

// MarkAsDeleted flags a checked-out message as pending deletion; it is
// finalized cooperatively the next time its owning worker calls Release.
func (q *ConnectorMessageQueue) MarkAsDeleted(messageID int64, metaDataID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.buffer {
		if e.cm.MessageID == messageID && e.cm.MetaDataID == metaDataID {
			e.markDeleted = true
			return nil
		}
	}
	return ErrNotCheckedOut
}

// ReleaseIfDeleted finalizes cm if it was flagged by MarkAsDeleted while
// in-flight, otherwise it's a no-op the caller should follow with a normal
// Release.
func (q *ConnectorMessageQueue) ReleaseIfDeleted(ctx context.Context, cm *model.ConnectorMessage) (bool, error) {
	q.mu.Lock()
	idx := q.indexOfLocked(cm)
	deleted := idx >= 0 && q.buffer[idx].markDeleted
	q.mu.Unlock()
	if !deleted {
		return false, nil
	}
	return true, q.Release(ctx, cm, true)
}

// Invalidate clears the in-memory buffer. When updateSize is true the
// size counter is resynced from the datastore; when resetQueue is true
// the offset and rotation state are also cleared. Used when the
// datastore is modified outside the queue (e.g. administrative purge).
func (q *ConnectorMessageQueue) Invalidate(ctx context.Context, updateSize, resetQueue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buffer = nil
	if resetQueue {
		q.offset = 0
		q.rotated = make(map[int]bool)
	}
	if updateSize {
		n, err := q.store.GetQueueSize(ctx, q.opts.ChannelID, q.opts.MetaDataID)
		if err != nil {
			return fmt.Errorf("invalidate: resync size: %w", err)
		}
		q.size = int64(n)
	}
	q.dispatch(QueueEvent{ChannelID: q.opts.ChannelID, MetaDataID: q.opts.MetaDataID, Kind: "invalidated", Size: q.size})
	return nil
}

// FillBuffer refills from the datastore up to BufferCapacity items in
// ascending messageId order, starting at position 0 when the queue has
// not rotated.
func (q *ConnectorMessageQueue) FillBuffer(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fillBufferLocked(ctx)
}

func (q *ConnectorMessageQueue) fillBufferLocked(ctx context.Context) error {
	items, err := q.store.GetQueueItems(ctx, q.opts.ChannelID, q.opts.MetaDataID, 0, q.opts.BufferCapacity)
	if err != nil {
		return fmt.Errorf("fill buffer: %w", err)
	}
	q.buffer = make([]*entry, 0, len(items))
	for _, cm := range items {
		gv := q.groupValueLocked(cm)
		q.buffer = append(q.buffer, &entry{cm: cm, groupValue: gv, bucket: q.bucketForLocked(gv)})
	}
	q.offset = 0
	return nil
}

// Size reports the datastore-backed queue depth (not just buffered items).
func (q *ConnectorMessageQueue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// RegisterBucket assigns (or returns the existing) logical bucket for a
// worker index, used by callers that want a stable bucket identity across
// restarts without relying on group-value hashing alone.
func (q *ConnectorMessageQueue) RegisterBucket(workerIndex int) int {
	if q.opts.ThreadCount <= 1 {
		return 0
	}
	return workerIndex % q.opts.ThreadCount
}

func (q *ConnectorMessageQueue) indexOfLocked(cm *model.ConnectorMessage) int {
	for i, e := range q.buffer {
		if e.cm.MessageID == cm.MessageID && e.cm.MetaDataID == cm.MetaDataID {
			return i
		}
	}
	return -1
}

func (q *ConnectorMessageQueue) groupValueLocked(cm *model.ConnectorMessage) string {
	if q.opts.GroupBy == "" {
		return ""
	}
	if v, ok := cm.ConnectorMapGet(q.opts.GroupBy); ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// bucketForLocked assigns the first N distinct group values encountered
// to buckets 0..N-1 monotonically; subsequent values fall back to
// |hash(value)| mod N (spec.md §4.3 "Bucketing").
func (q *ConnectorMessageQueue) bucketForLocked(groupValue string) int {
	if q.opts.GroupBy == "" || q.opts.ThreadCount <= 1 {
		return 0
	}
	if b, ok := q.buckets[groupValue]; ok {
		return b
	}
	if q.nextBucketID < q.opts.ThreadCount {
		b := q.nextBucketID
		q.buckets[groupValue] = b
		q.nextBucketID++
		return b
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(groupValue))
	return int(h.Sum32()) % q.opts.ThreadCount
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
