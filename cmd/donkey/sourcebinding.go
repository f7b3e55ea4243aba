package main

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/donkey/pkg/channel"
	"github.com/codeready-toolchain/donkey/pkg/config"
	"github.com/codeready-toolchain/donkey/pkg/transport/httpconn"
	"github.com/codeready-toolchain/donkey/pkg/transport/mllp"
)

// sourceBinding owns the inbound listener wired to one channel's Accept
// method, started after the channel moves to STARTED and stopped before
// it's torn down.
type sourceBinding struct {
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// bindSourceTransport builds the inbound listener for one channel's
// configured source transport (SPEC_FULL.md C13). HTTP sources bind their
// own listening socket at tc.Address — one per channel, not shared with
// the management gin.Engine used for /health — so a channel's ingress port
// is entirely configuration-driven.
func bindSourceTransport(ch *channel.Channel, tc config.TransportConfig) (*sourceBinding, error) {
	handler := func(ctx context.Context, raw []byte) ([]byte, error) {
		resp, err := ch.Accept(ctx, raw)
		return []byte(resp), err
	}

	switch tc.Type {
	case config.TransportMLLP:
		listener := mllp.NewListener(tc.Address, handler)
		return &sourceBinding{
			start: listener.Start,
			stop:  func(ctx context.Context) error { return listener.Close() },
		}, nil

	case config.TransportHTTP:
		src := httpconn.NewSource(tc.Path, tc.GinMode, handler)
		return &sourceBinding{
			start: func(ctx context.Context) error { return src.Start(tc.Address) },
			stop:  src.Stop,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported source transport type %q (no gRPC server transport is available)", tc.Type)
	}
}
