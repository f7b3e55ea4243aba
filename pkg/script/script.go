// Package script implements the ScriptExecutor external collaborator
// (spec.md §9): user-provided filter/transformer/postprocessor scripts run
// outside the core engine process. The core only depends on a thin
// interface — filter(context) → bool, transform(context) → map — and never
// embeds a scripting language itself (spec.md §1 Non-goals:
// "language-specific user-script execution").
package script

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Executor is the thin contract the core depends on. context carries the
// flattened sourceMap/channelMap/connectorMap values visible to the script;
// Transform returns the full replacement context (script-added/modified
// keys merged in by the caller).
type Executor interface {
	Filter(ctx context.Context, script string, scriptContext map[string]any) (bool, error)
	Transform(ctx context.Context, script string, scriptContext map[string]any) (map[string]any, error)
}

// gRPC method paths for the external script host. No generated .pb.go stubs
// are used — requests/responses are plain google.protobuf.Struct values
// invoked directly through the ClientConn, mirroring
// pkg/agent/llm_grpc.go's "core calls an external process for user-defined
// logic" shape without requiring protoc in this build.
const (
	methodFilter    = "/donkey.script.v1.ScriptExecutor/Filter"
	methodTransform = "/donkey.script.v1.ScriptExecutor/Transform"
)

// GRPCExecutor calls an external script host over gRPC.
type GRPCExecutor struct {
	conn *grpc.ClientConn
}

// NewGRPCExecutor dials the script host. Uses insecure (plaintext)
// transport: the script host is expected to run as a sidecar or on
// localhost, matching the teacher's LLM-sidecar deployment assumption.
func NewGRPCExecutor(addr string) (*GRPCExecutor, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("script: dial %s: %w", addr, err)
	}
	return &GRPCExecutor{conn: conn}, nil
}

// Close releases the gRPC connection.
func (e *GRPCExecutor) Close() error {
	return e.conn.Close()
}

// Filter runs script in filter mode and returns whether the message should
// be kept.
func (e *GRPCExecutor) Filter(ctx context.Context, script string, scriptContext map[string]any) (bool, error) {
	req, err := requestStruct(script, scriptContext)
	if err != nil {
		return false, fmt.Errorf("script: build filter request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, methodFilter, req, resp); err != nil {
		return false, fmt.Errorf("script: filter call failed: %w", err)
	}
	return resp.GetFields()["keep"].GetBoolValue(), nil
}

// Transform runs script in transform mode and returns the updated context.
func (e *GRPCExecutor) Transform(ctx context.Context, script string, scriptContext map[string]any) (map[string]any, error) {
	req, err := requestStruct(script, scriptContext)
	if err != nil {
		return nil, fmt.Errorf("script: build transform request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, methodTransform, req, resp); err != nil {
		return nil, fmt.Errorf("script: transform call failed: %w", err)
	}
	contextField, ok := resp.GetFields()["context"]
	if !ok {
		return nil, nil
	}
	return contextField.GetStructValue().AsMap(), nil
}

func requestStruct(script string, scriptContext map[string]any) (*structpb.Struct, error) {
	contextStruct, err := structpb.NewStruct(scriptContext)
	if err != nil {
		return nil, fmt.Errorf("encode script context: %w", err)
	}
	return structpb.NewStruct(map[string]any{
		"script":  script,
		"context": contextStruct.AsMap(),
	})
}

// StubExecutor is an in-process Executor backed by plain Go funcs, used in
// tests that need a ScriptExecutor without a running script host.
type StubExecutor struct {
	FilterFunc    func(ctx context.Context, script string, scriptContext map[string]any) (bool, error)
	TransformFunc func(ctx context.Context, script string, scriptContext map[string]any) (map[string]any, error)
}

func (s *StubExecutor) Filter(ctx context.Context, script string, scriptContext map[string]any) (bool, error) {
	if s.FilterFunc == nil {
		return true, nil
	}
	return s.FilterFunc(ctx, script, scriptContext)
}

func (s *StubExecutor) Transform(ctx context.Context, script string, scriptContext map[string]any) (map[string]any, error) {
	if s.TransformFunc == nil {
		return scriptContext, nil
	}
	return s.TransformFunc(ctx, script, scriptContext)
}
