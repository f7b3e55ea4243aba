package main

import (
	"context"
	"log/slog"

	"github.com/codeready-toolchain/donkey/pkg/aggregator"
	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/source"
)

// postprocessorFunc is the richer of the two postprocessor shapes a
// channel can name: it is adapted both to the channel-level hook
// (asAggregatorPostprocessor) and, when a source attributes its response
// to POSTPROCESSOR, to the source-level hook that supplies that response
// text.
type postprocessorFunc func(ctx context.Context, msg *model.Message) (string, error)

// postprocessorRegistry resolves a channel's configured postprocessor
// name to the function that runs it. There is no teacher analog for
// user-defined postprocessors; channels name one of these built-ins the
// same way they name a connector or data type.
var postprocessorRegistry = map[string]postprocessorFunc{
	// noop acknowledges without producing response text; useful for
	// channels that only want the terminal-status hook for side effects
	// logged elsewhere (statistics, events) and attribute their response
	// to SOURCE or a DESTINATION instead.
	"noop": func(ctx context.Context, msg *model.Message) (string, error) { return "", nil },
}

// resolvePostprocessor looks up name, logging and falling back to a no-op
// rather than failing channel construction over an unknown postprocessor.
func resolvePostprocessor(name string) postprocessorFunc {
	if name == "" {
		return nil
	}
	fn, ok := postprocessorRegistry[name]
	if !ok {
		slog.Warn("main: unknown postprocessor, channel will run without one", "postprocessor", name)
		return nil
	}
	return fn
}

// asAggregatorPostprocessor adapts postprocessorFunc to the channel-level
// hook, discarding the response text. That hook runs only through
// channel.Channel.RunPostprocessor, which the channel does not call itself.
func asAggregatorPostprocessor(fn postprocessorFunc) aggregator.PostprocessorFunc {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, msg *model.Message) error {
		_, err := fn(ctx, msg)
		return err
	}
}

// asSourcePostprocessor adapts postprocessorFunc to the source-level hook
// used when a channel attributes its response to POSTPROCESSOR.
func asSourcePostprocessor(fn postprocessorFunc) source.PostprocessorFunc {
	if fn == nil {
		return nil
	}
	return source.PostprocessorFunc(fn)
}
