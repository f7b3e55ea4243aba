// Package aggregator implements the response aggregator and postprocessor
// (spec.md §4.6): waiting for a named destination's terminal state, deriving
// a response from it when no RESPONSE content was produced, and running the
// channel's postprocessor once every connector on a Message has reached a
// terminal status.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
)

// ResponsePolicy selects what happens to an already-returned response when a
// queued destination eventually sends after the caller has moved on
// (spec.md §9, responseUpdateOnEventualSend).
type ResponsePolicy string

const (
	// ResponsePolicyNever is the default: once a response has been returned
	// from a QUEUED-derived synthesis, a later SENT never mutates it.
	ResponsePolicyNever ResponsePolicy = "never"
	// ResponsePolicyAggregate keeps a pending-update slot per message so a
	// subscriber can observe the eventual terminal response.
	ResponsePolicyAggregate ResponsePolicy = "aggregate"
)

// Dispatcher is the subset of destination.Runner the aggregator needs to
// observe a named destination's outcome.
type Dispatcher interface {
	ConnectorResult(metaDataID int, messageID int64) (*model.ConnectorMessage, bool)
}

// PostprocessorFunc runs once per Message after every connector reaches a
// terminal status (QUEUED counts as terminal for this purpose).
type PostprocessorFunc func(ctx context.Context, msg *model.Message) error

// pollInterval governs how often WaitForResponse re-checks the dispatcher
// for a terminal result while no policy-specific wakeup exists.
const pollInterval = 10 * time.Millisecond

// Aggregator selects and, under ResponsePolicyAggregate, republishes the
// response attributed to a named destination.
type Aggregator struct {
	dispatch Dispatcher
	policy   ResponsePolicy

	mu      sync.Mutex
	pending map[pendingKey]*pendingUpdate
}

type pendingKey struct {
	metaDataID int
	messageID  int64
}

type pendingUpdate struct {
	mu       sync.Mutex
	response string
	updated  chan struct{}
}

// New constructs an Aggregator bound to a destination dispatcher and the
// channel's configured response policy.
func New(dispatch Dispatcher, policy ResponsePolicy) *Aggregator {
	return &Aggregator{dispatch: dispatch, policy: policy, pending: make(map[pendingKey]*pendingUpdate)}
}

// WaitForResponse blocks until the named destination's ConnectorMessage
// reaches a terminal status, then returns its selected or synthesized
// response. Under ResponsePolicyAggregate the caller may keep observing
// later updates via Subscribe even after this returns.
func (a *Aggregator) WaitForResponse(ctx context.Context, metaDataID int, messageID int64) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if cm, ok := a.dispatch.ConnectorResult(metaDataID, messageID); ok && cm.Status().ResponseTerminal() {
			resp := SelectResponse(cm)
			if a.policy == ResponsePolicyAggregate {
				a.publish(metaDataID, messageID, resp)
			}
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for destination %d response: %w", metaDataID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Subscribe returns a channel that is signaled whenever a later terminal
// response for (metaDataID, messageID) is published — only meaningful under
// ResponsePolicyAggregate, where a QUEUED-derived response seen by
// WaitForResponse may later be superseded once the message actually sends.
func (a *Aggregator) Subscribe(metaDataID int, messageID int64) (latest func() string, updated <-chan struct{}) {
	key := pendingKey{metaDataID, messageID}
	a.mu.Lock()
	defer a.mu.Unlock()
	pu, ok := a.pending[key]
	if !ok {
		pu = &pendingUpdate{updated: make(chan struct{})}
		a.pending[key] = pu
	}
	return func() string {
		pu.mu.Lock()
		defer pu.mu.Unlock()
		return pu.response
	}, pu.updated
}

func (a *Aggregator) publish(metaDataID int, messageID int64, response string) {
	key := pendingKey{metaDataID, messageID}
	a.mu.Lock()
	pu, ok := a.pending[key]
	if !ok {
		pu = &pendingUpdate{updated: make(chan struct{})}
		a.pending[key] = pu
	}
	a.mu.Unlock()

	pu.mu.Lock()
	changed := pu.response != response
	pu.response = response
	oldCh := pu.updated
	if changed {
		pu.updated = make(chan struct{})
	}
	pu.mu.Unlock()

	if changed {
		close(oldCh)
	}
}

// SelectResponse returns cm's RESPONSE content if present, otherwise
// synthesizes one from its terminal status (spec.md §4.6): SENT→ok ack,
// ERROR→nak, QUEUED→accepted-for-later.
func SelectResponse(cm *model.ConnectorMessage) string {
	if rc := cm.Content(model.ContentResponse); rc != nil {
		return rc.Content
	}
	switch cm.Status() {
	case model.StatusSent:
		return "ok"
	case model.StatusError:
		return fmt.Sprintf("nak: %s", cm.ProcessingError())
	case model.StatusQueued:
		return "accepted"
	default:
		return ""
	}
}

// RunPostprocessor runs fn for msg right away. It does not wait for the
// destination connectors to reach a terminal status (QUEUED included, per
// spec.md §4.6): if some have not, it logs a warning and still runs fn. A
// postprocessor
// failure is non-fatal: it is captured as POSTPROCESSOR_ERROR content on the
// source connector message and does not change any connector's status.
func RunPostprocessor(ctx context.Context, msg *model.Message, fn PostprocessorFunc) {
	if fn == nil {
		return
	}
	if !msg.AllTerminal() {
		slog.Warn("aggregator: postprocessor invoked before all connectors reached a terminal status",
			"message_id", msg.MessageID, "channel_id", msg.ChannelID)
	}
	if err := fn(ctx, msg); err != nil {
		src := msg.Source()
		_ = src.AddContent(&model.MessageContent{
			ContentType: model.ContentPostprocessorError,
			Content:     err.Error(),
		})
		slog.Error("aggregator: postprocessor failed", "message_id", msg.MessageID, "error", err)
	}
	msg.MarkProcessed()
}
