package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/donkey/pkg/config"
	"github.com/codeready-toolchain/donkey/pkg/destination"
	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/script"
	"github.com/codeready-toolchain/donkey/pkg/serializer"
	"github.com/codeready-toolchain/donkey/pkg/source"
	"github.com/codeready-toolchain/donkey/pkg/transport/grpcconn"
	"github.com/codeready-toolchain/donkey/pkg/transport/httpconn"
	"github.com/codeready-toolchain/donkey/pkg/transport/mllp"
)

// scriptExecutors dials one gRPC script host per configured address and
// reuses the connection across every connector that names it, mirroring
// how cmd/tarsy/main.go shared a single LLM provider client across agents.
type scriptExecutors struct {
	mu    sync.Mutex
	execs map[string]*script.GRPCExecutor
}

func newScriptExecutors() *scriptExecutors {
	return &scriptExecutors{execs: make(map[string]*script.GRPCExecutor)}
}

func (s *scriptExecutors) get(addr string) (*script.GRPCExecutor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.execs[addr]; ok {
		return e, nil
	}
	e, err := script.NewGRPCExecutor(addr)
	if err != nil {
		return nil, err
	}
	s.execs[addr] = e
	return e, nil
}

func (s *scriptExecutors) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, e := range s.execs {
		if err := e.Close(); err != nil {
			slog.Warn("script: close executor failed", "address", addr, "error", err)
		}
	}
}

// buildSerializerRegistry translates every configured data type profile
// into a live serializer.Registry entry (SPEC_FULL.md C5/C10). NewRegistry
// already seeds one default serializer per DataType; a configured profile
// overwrites that default with its own delimiters/options. Two named data
// types that share a SerializerType share one registry key: whichever is
// registered last replaces the other, and that order follows map
// iteration, so it is not defined.
func buildSerializerRegistry(dataTypes map[string]*config.DataTypeConfig) (*serializer.Registry, map[string]serializer.DataType, error) {
	reg := serializer.NewRegistry()
	kinds := make(map[string]serializer.DataType, len(dataTypes))
	for name, dt := range dataTypes {
		kind := serializer.DataType(dt.Serializer)
		kinds[name] = kind
		s, err := newSerializerFor(dt)
		if err != nil {
			return nil, nil, fmt.Errorf("data type %q: %w", name, err)
		}
		reg.Register(kind, s)
	}
	return reg, kinds, nil
}

func newSerializerFor(dt *config.DataTypeConfig) (serializer.Serializer, error) {
	switch dt.Serializer {
	case config.SerializerHL7V2:
		return serializer.NewHL7V2Serializer(), nil
	case config.SerializerHL7V3:
		return serializer.NewHL7V3Serializer(), nil
	case config.SerializerXML:
		return serializer.NewXMLSerializer(true), nil
	case config.SerializerJSON:
		return serializer.NewJSONSerializer(), nil
	case config.SerializerRaw:
		return serializer.NewRawSerializer(), nil
	case config.SerializerDICOM:
		return serializer.NewDICOMSerializer(), nil
	case config.SerializerDelimited:
		opts := serializer.DefaultDelimitedOptions()
		if dt.Delimited != nil {
			if dt.Delimited.ColumnDelimiter != "" {
				opts.ColumnDelimiter = dt.Delimited.ColumnDelimiter[0]
			}
			if dt.Delimited.RowDelimiter != "" {
				opts.RowDelimiter = dt.Delimited.RowDelimiter[0]
			}
			if dt.Delimited.QuoteChar != "" {
				opts.QuoteChar = dt.Delimited.QuoteChar[0]
			}
			opts.ColumnNames = dt.Delimited.ColumnNames
			opts.HeaderRow = dt.Delimited.HeaderRow
		}
		return serializer.NewDelimitedSerializer(opts), nil
	case config.SerializerX12:
		opts := serializer.DefaultX12Options()
		if dt.X12 != nil {
			if dt.X12.ElementSeparator != "" {
				opts.ElementSeparator = dt.X12.ElementSeparator[0]
			}
			if dt.X12.SegmentTerminator != "" {
				opts.SegmentTerminator = dt.X12.SegmentTerminator[0]
			}
			if dt.X12.SubElementSeparator != "" {
				opts.SubElementSeparator = dt.X12.SubElementSeparator[0]
			}
		}
		return serializer.NewX12Serializer(opts), nil
	case config.SerializerNCPDP:
		opts := serializer.DefaultNCPDPOptions()
		if dt.NCPDP != nil {
			if dt.NCPDP.SegmentSeparator != "" {
				opts.SegmentSeparator = dt.NCPDP.SegmentSeparator[0]
			}
			if dt.NCPDP.GroupSeparator != "" {
				opts.GroupSeparator = dt.NCPDP.GroupSeparator[0]
			}
			if dt.NCPDP.FieldSeparator != "" {
				opts.FieldSeparator = dt.NCPDP.FieldSeparator[0]
			}
		}
		return serializer.NewNCPDPSerializer(opts), nil
	default:
		return nil, fmt.Errorf("unsupported serializer type %q", dt.Serializer)
	}
}

// buildScriptContext flattens the values a filter/transform script sees:
// the message's read-only sourceMap, the mutable channelMap snapshot, and
// this connector message's own identity and latest raw content.
func buildScriptContext(msg *model.Message, cm *model.ConnectorMessage) map[string]any {
	ctx := make(map[string]any)
	for k, v := range cm.Shared().SourceMap() {
		ctx[k] = v
	}
	for k, v := range cm.Shared().ChannelMapSnapshot() {
		ctx[k] = v
	}
	ctx["channel_id"] = msg.ChannelID
	ctx["message_id"] = msg.MessageID
	ctx["meta_data_id"] = cm.MetaDataID
	if rc := cm.Content(model.ContentRaw); rc != nil {
		ctx["raw"] = rc.Content
	}
	return ctx
}

// scriptFilter builds a filter closure calling exec.Filter with the script
// source named by scriptSrc. A nil exec (unconfigured ScriptConfig) is
// never wrapped by callers.
func scriptFilter(exec script.Executor, scriptSrc string) func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error) {
	return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error) {
		return exec.Filter(ctx, scriptSrc, buildScriptContext(msg, cm))
	}
}

// scriptTransform builds a transformer closure calling exec.Transform. A
// "content" key in the script's result map replaces the connector
// message's TRANSFORMED content; otherwise RAW content is carried forward
// unchanged.
func scriptTransform(exec script.Executor, scriptSrc string) func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
	return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
		result, err := exec.Transform(ctx, scriptSrc, buildScriptContext(msg, cm))
		if err != nil {
			return err
		}
		text := ""
		if rc := cm.Content(model.ContentRaw); rc != nil {
			text = rc.Content
		}
		if v, ok := result["content"]; ok {
			if s, ok := v.(string); ok {
				text = s
			}
		}
		return cm.AddContent(&model.MessageContent{ContentType: model.ContentTransformed, Content: text})
	}
}

// sourceHooks resolves a source's configured script into the
// source.Config filter/transformer hooks. An empty ScriptConfig.Address
// means the channel runs with no scripting.
func sourceHooks(sc config.ScriptConfig, execs *scriptExecutors) (source.FilterFunc, source.TransformerFunc, error) {
	if sc.Address == "" {
		return nil, nil, nil
	}
	exec, err := execs.get(sc.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial script host %s: %w", sc.Address, err)
	}
	var filter source.FilterFunc
	if sc.FilterScript != "" {
		f := scriptFilter(exec, sc.FilterScript)
		filter = func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error) { return f(ctx, msg, cm) }
	}
	var transform source.TransformerFunc
	if sc.TransformScript != "" {
		t := scriptTransform(exec, sc.TransformScript)
		transform = func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error { return t(ctx, msg, cm) }
	}
	return filter, transform, nil
}

// connectorHooks is sourceHooks's destination-side counterpart. When the
// connector has no transform script configured, its transform hook
// defaults to serializerEncodeTransform so every destination still
// bridges the source's data type to its own through the canonical XML
// representation (spec.md §4.1).
func connectorHooks(sc config.ScriptConfig, srcKind, dstKind serializer.DataType, reg *serializer.Registry, execs *scriptExecutors) (destination.FilterFunc, destination.TransformerFunc, error) {
	if sc.Address == "" {
		return nil, serializerEncodeTransform(srcKind, dstKind, reg), nil
	}
	exec, err := execs.get(sc.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("dial script host %s: %w", sc.Address, err)
	}
	var filter destination.FilterFunc
	if sc.FilterScript != "" {
		f := scriptFilter(exec, sc.FilterScript)
		filter = func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (bool, error) { return f(ctx, msg, cm) }
	}
	transform := serializerEncodeTransform(srcKind, dstKind, reg)
	if sc.TransformScript != "" {
		t := scriptTransform(exec, sc.TransformScript)
		transform = func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error { return t(ctx, msg, cm) }
	}
	return filter, transform, nil
}

// serializerEncodeTransform bridges the channel source's data type to one
// destination's own data type through the canonical XML intermediate
// (spec.md §4.1 "Data-type serializers ... {toCanonical, fromCanonical}"),
// producing this destination's ENCODED content from the source's
// TRANSFORMED (or RAW, if untransformed) content.
func serializerEncodeTransform(srcKind, dstKind serializer.DataType, reg *serializer.Registry) destination.TransformerFunc {
	return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) error {
		src := msg.Source()
		text := ""
		if tc := src.Content(model.ContentTransformed); tc != nil {
			text = tc.Content
		} else if rc := src.Content(model.ContentRaw); rc != nil {
			text = rc.Content
		}

		var encoded []byte
		if srcKind == dstKind {
			encoded = []byte(text)
		} else {
			inSer, err := reg.Get(srcKind)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			outSer, err := reg.Get(dstKind)
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			doc, err := inSer.ToXML([]byte(text))
			if err != nil {
				return fmt.Errorf("encode: to canonical: %w", err)
			}
			encoded, err = outSer.FromXML(doc)
			if err != nil {
				return fmt.Errorf("encode: from canonical: %w", err)
			}
		}
		return cm.AddContent(&model.MessageContent{ContentType: model.ContentEncoded, Content: string(encoded)})
	}
}

// destinationTransport builds the wire-send closure for one destination
// connector, dialing its transport once at construction time.
func destinationTransport(tc config.TransportConfig) (destination.TransportFunc, func() error, error) {
	switch tc.Type {
	case config.TransportHTTP:
		d := httpconn.NewDestination(tc.Address, tc.Timeout)
		return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (destination.SendResult, error) {
			body := []byte(latestContent(cm))
			resp, err := d.Send(ctx, body)
			if err != nil {
				return destination.SendResult{Retryable: true}, err
			}
			return destination.SendResult{Response: &model.MessageContent{ContentType: model.ContentResponse, Content: string(resp)}}, nil
		}, func() error { return nil }, nil

	case config.TransportMLLP:
		addr := tc.Address
		return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (destination.SendResult, error) {
			resp, err := mllp.Dial(ctx, addr, []byte(latestContent(cm)))
			if err != nil {
				return destination.SendResult{Retryable: true}, err
			}
			return destination.SendResult{Response: &model.MessageContent{ContentType: model.ContentResponse, Content: string(resp)}}, nil
		}, func() error { return nil }, nil

	case config.TransportGRPC:
		client, err := grpcconn.New(tc.Address, tc.Method)
		if err != nil {
			return nil, nil, err
		}
		return func(ctx context.Context, msg *model.Message, cm *model.ConnectorMessage) (destination.SendResult, error) {
			resp, err := client.Send(ctx, map[string]any{"payload": latestContent(cm)})
			if err != nil {
				return destination.SendResult{Retryable: true}, err
			}
			reply := ""
			if v, ok := resp["payload"]; ok {
				if s, ok := v.(string); ok {
					reply = s
				}
			}
			return destination.SendResult{Response: &model.MessageContent{ContentType: model.ContentResponse, Content: reply}}, nil
		}, client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported destination transport type %q", tc.Type)
	}
}

// latestContent returns the most downstream content a destination should
// send: ENCODED if a serializer step produced it, else TRANSFORMED, else
// the original RAW payload.
func latestContent(cm *model.ConnectorMessage) string {
	if c := cm.Content(model.ContentEncoded); c != nil {
		return c.Content
	}
	if c := cm.Content(model.ContentTransformed); c != nil {
		return c.Content
	}
	if c := cm.Content(model.ContentRaw); c != nil {
		return c.Content
	}
	return ""
}

// buildChains translates every configured destination chain into
// destination.Chain instances wired with scripting and transport. srcKind
// is the channel source's data type; kinds resolves each connector's
// configured data type name to its serializer.DataType.
func buildChains(chains []config.DestinationChainConfig, srcKind serializer.DataType, kinds map[string]serializer.DataType, reg *serializer.Registry, execs *scriptExecutors) ([]*destination.Chain, []func() error, error) {
	var closers []func() error
	built := make([]*destination.Chain, 0, len(chains))
	for _, chainCfg := range chains {
		chain := &destination.Chain{}
		for _, connCfg := range chainCfg.Destinations {
			dstKind, ok := kinds[connCfg.DataType]
			if !ok {
				return nil, closers, fmt.Errorf("connector %s: unknown data type %q", connCfg.ConnectorName, connCfg.DataType)
			}
			filter, transform, err := connectorHooks(connCfg.Script, srcKind, dstKind, reg, execs)
			if err != nil {
				return nil, closers, fmt.Errorf("connector %s: %w", connCfg.ConnectorName, err)
			}
			transportFn, closeFn, err := destinationTransport(connCfg.Transport)
			if err != nil {
				return nil, closers, fmt.Errorf("connector %s: %w", connCfg.ConnectorName, err)
			}
			closers = append(closers, closeFn)
			chain.Destinations = append(chain.Destinations, &destination.Destination{
				MetaDataID:          connCfg.MetaDataID,
				ConnectorName:       connCfg.ConnectorName,
				Filter:              filter,
				Transformer:         transform,
				Transport:           transportFn,
				QueueEnabled:        connCfg.QueueEnabled,
				QueueSendFirst:      connCfg.QueueSendFirst,
				RetryCount:          connCfg.RetryCount,
				RetryIntervalMillis: connCfg.RetryIntervalMillis,
				GroupBy:             connCfg.GroupBy,
				ThreadCount:         connCfg.ThreadCount,
				BufferCapacity:      connCfg.BufferCapacity,
			})
		}
		built = append(built, chain)
	}
	return built, closers, nil
}
