// Package source implements the source connector (spec.md §4.5): accepts
// one raw payload, seeds the metaDataId=0 ConnectorMessage with RAW
// content, runs the preprocessor and source filter/transformer, then hands
// the transformed message to every destination chain and attributes a
// response back to the original transport caller.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/stats"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// ResponseAttribution selects which actor's output becomes the value
// handed back to the wire transport (spec.md §4.5).
type ResponseAttribution string

const (
	// AttributeSource uses the source connector's own acknowledgement logic.
	AttributeSource ResponseAttribution = "SOURCE"
	// AttributeDestination waits for and uses a named destination's response.
	AttributeDestination ResponseAttribution = "DESTINATION"
	// AttributePostprocessor uses whatever the postprocessor returns.
	AttributePostprocessor ResponseAttribution = "POSTPROCESSOR"
)

// PreprocessorFunc mutates the raw payload before the source filter runs
// (e.g. stripping transport framing); returning an error aborts ingestion.
type PreprocessorFunc func(ctx context.Context, raw []byte) ([]byte, error)

// FilterFunc decides whether the message is accepted at the source.
// Returning false sets the metaDataId=0 connector message to FILTERED and
// no destination chains run.
type FilterFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error)

// TransformerFunc mutates the source ConnectorMessage's content
// (typically adding TRANSFORMED) before dispatch to destination chains.
type TransformerFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error

// DispatchFunc hands the source-transformed message to every configured
// destination chain. Implemented by destination.Runner.Dispatch so this
// package has no import-time dependency on pkg/destination.
type DispatchFunc func(ctx context.Context, msg *model.Message)

// Dispatcher is the subset of destination.Runner the source connector
// needs to wait on, when response attribution targets a destination.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.Message)
	ConnectorResult(metaDataID int, messageID int64) (*model.ConnectorMessage, bool)
}

// AckFunc produces the source's own acknowledgement payload, used when
// ResponseAttribution is SOURCE.
type AckFunc func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (string, error)

// PostprocessorFunc runs after the source hands the message to the
// destination chains and can supply the final response when
// ResponseAttribution is POSTPROCESSOR. It runs after every chain finishes
// only when WaitForDestinations is set; otherwise the chains run in the
// background and it does not wait for them.
type PostprocessorFunc func(ctx context.Context, msg *model.Message) (string, error)

// Config binds one source connector's behavior (spec.md §4.5).
type Config struct {
	ConnectorName        string
	Preprocessor         PreprocessorFunc
	Filter               FilterFunc
	Transformer          TransformerFunc
	Attribution          ResponseAttribution
	AttributionMetaDataID int // used when Attribution == AttributeDestination
	Ack                  AckFunc
	Postprocessor        PostprocessorFunc
	WaitForDestinations  bool
	DestinationTimeout   time.Duration
}

// Connector runs one channel's ingress pipeline.
type Connector struct {
	channelID string
	cfg       Config
	store     store.Datastore
	dispatch  Dispatcher
	recorder  *stats.Recorder
}

// NewConnector constructs a source connector for one channel. It records
// statistics through a no-op dispatcher until SetRecorder installs the
// channel's shared one.
func NewConnector(channelID string, cfg Config, st store.Datastore, dispatch Dispatcher) *Connector {
	return &Connector{
		channelID: channelID,
		cfg:       cfg,
		store:     st,
		dispatch:  dispatch,
		recorder:  stats.NewRecorder(st, stats.NewCounters(), stats.NopDispatcher{}),
	}
}

// SetRecorder installs the statistics recorder used for every source-side
// status transition from this point on.
func (c *Connector) SetRecorder(rec *stats.Recorder) {
	if rec == nil {
		return
	}
	c.recorder = rec
}

// Accept ingests one raw wire payload and returns the attributed
// response string (spec.md §4.5 "Response attribution").
func (c *Connector) Accept(ctx context.Context, raw []byte) (string, error) {
	messageID, err := c.store.NextMessageID(ctx, c.channelID)
	if err != nil {
		return "", fmt.Errorf("allocate message id: %w", err)
	}

	msg := model.NewMessage(c.channelID, "", messageID, c.cfg.ConnectorName)
	cm := msg.Source()

	if c.cfg.Preprocessor != nil {
		raw, err = c.cfg.Preprocessor(ctx, raw)
		if err != nil {
			return "", c.fail(ctx, msg, cm, fmt.Errorf("preprocessor: %w", err))
		}
	}
	if err := cm.AddContent(&model.MessageContent{ContentType: model.ContentRaw, Content: string(raw)}); err != nil {
		return "", c.fail(ctx, msg, cm, fmt.Errorf("seed raw content: %w", err))
	}

	if err := c.persistNewMessage(ctx, msg, cm); err != nil {
		return "", err
	}

	if c.cfg.Filter != nil {
		keep, err := c.cfg.Filter(ctx, msg, cm)
		if err != nil {
			return "", c.fail(ctx, msg, cm, fmt.Errorf("source filter: %w", err))
		}
		if !keep {
			c.setStatus(ctx, cm, model.StatusFiltered)
			return "", nil
		}
	}

	if c.cfg.Transformer != nil {
		if err := c.cfg.Transformer(ctx, msg, cm); err != nil {
			return "", c.fail(ctx, msg, cm, fmt.Errorf("source transformer: %w", err))
		}
	}
	c.setStatus(ctx, cm, model.StatusTransformed)

	if c.cfg.WaitForDestinations {
		c.dispatch.Dispatch(ctx, msg)
	} else {
		go c.dispatch.Dispatch(context.WithoutCancel(ctx), msg)
	}

	return c.attributeResponse(ctx, msg, cm)
}

func (c *Connector) attributeResponse(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (string, error) {
	switch c.cfg.Attribution {
	case AttributeDestination:
		target, ok := c.dispatch.ConnectorResult(c.cfg.AttributionMetaDataID, msg.MessageID)
		if !ok {
			return "", fmt.Errorf("response attribution: destination %d produced no result", c.cfg.AttributionMetaDataID)
		}
		if rc := target.Content(model.ContentResponse); rc != nil {
			return rc.Content, nil
		}
		return "", nil
	case AttributePostprocessor:
		if c.cfg.Postprocessor == nil {
			return "", fmt.Errorf("response attribution: POSTPROCESSOR configured without a postprocessor")
		}
		return c.cfg.Postprocessor(ctx, msg)
	default: // AttributeSource
		if c.cfg.Ack == nil {
			return "", nil
		}
		return c.cfg.Ack(ctx, msg, cm)
	}
}

func (c *Connector) persistNewMessage(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
	if err := c.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	if err := c.store.InsertConnectorMessage(ctx, cm); err != nil {
		return fmt.Errorf("persist source connector message: %w", err)
	}
	if rawContent := cm.Content(model.ContentRaw); rawContent != nil {
		if err := c.store.InsertMessageContent(ctx, msg.MessageID, c.channelID, cm.MetaDataID, rawContent); err != nil {
			return fmt.Errorf("persist raw content: %w", err)
		}
	}
	c.setStatus(ctx, cm, model.StatusReceived)
	return nil
}

func (c *Connector) fail(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage, err error) error {
	cm.SetError(0, err.Error())
	c.setStatus(ctx, cm, model.StatusError)
	return err
}

func (c *Connector) setStatus(ctx context.Context, cm *model.ConnectorMessage, status model.Status) {
	_ = cm.SetStatus(status)
	_ = c.store.UpdateStatus(ctx, cm.MessageID, c.channelID, cm.MetaDataID, status,
		cm.ErrorCode(), cm.SendAttempts(), cm.SendDate(), cm.ResponseDate())

	delta, evtType := sourceStatsFor(status)
	if err := c.recorder.Record(ctx, c.channelID, cm.MetaDataID, delta, stats.Event{
		Type: evtType, ChannelID: c.channelID, MetaDataID: cm.MetaDataID, MessageID: cm.MessageID,
		Payload: string(status),
	}); err != nil {
		slog.Error("source: failed to record statistics", "error", err)
	}
}

// sourceStatsFor maps a source-side status transition to the statistics
// delta and event type it contributes (spec.md §6).
func sourceStatsFor(status model.Status) (store.StatisticsDelta, string) {
	switch status {
	case model.StatusReceived:
		return store.StatisticsDelta{Received: 1}, stats.EventMessageReceived
	case model.StatusFiltered:
		return store.StatisticsDelta{Filtered: 1}, stats.EventConnectorStatus
	case model.StatusTransformed:
		return store.StatisticsDelta{Transformed: 1}, stats.EventConnectorStatus
	case model.StatusError:
		return store.StatisticsDelta{Error: 1}, stats.EventError
	default:
		return store.StatisticsDelta{}, stats.EventConnectorStatus
	}
}
