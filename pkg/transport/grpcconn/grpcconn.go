// Package grpcconn implements the Web Service destination transport
// (SPEC_FULL.md C13): a google.golang.org/grpc unary client exchanging
// google.protobuf.Struct payloads, grounded on
// pkg/agent/llm_grpc.go's NewGRPCLLMClient/grpc.NewClient pattern but
// generalized from "call the LLM sidecar" to "call an arbitrary external
// Web Service destination" and using conn.Invoke directly instead of
// generated stubs.
package grpcconn

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls one external Web Service destination over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	method string
}

// New dials addr and binds the unary RPC method to call on every Send
// (e.g. "/donkey.webservice.v1.Destination/Deliver").
func New(addr, method string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcconn: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, method: method}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send invokes the bound method with fields as the request payload and
// returns the response payload as a plain map.
func (c *Client) Send(ctx context.Context, fields map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("grpcconn: encode request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, c.method, req, resp); err != nil {
		return nil, fmt.Errorf("grpcconn: call %s failed: %w", c.method, err)
	}
	return resp.AsMap(), nil
}
