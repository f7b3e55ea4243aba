// Package channel implements the channel lifecycle state machine
// (spec.md §4.7): Deploy/Start/Pause/Stop/Undeploy over a Channel's owned
// Source connector and Destination Chains. A paused channel resumes through
// Start.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/donkey/pkg/aggregator"
	"github.com/codeready-toolchain/donkey/pkg/destination"
	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/source"
	"github.com/codeready-toolchain/donkey/pkg/stats"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// State is one node of the channel lifecycle state machine (spec.md §4.7).
type State string

const (
	StateUndeployed State = "UNDEPLOYED"
	StateDeployed   State = "DEPLOYED"
	StateStarting   State = "STARTING"
	StateStarted    State = "STARTED"
	StatePausing    State = "PAUSING"
	StatePaused     State = "PAUSED"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
)

// allowed encodes the state machine's permitted edges. Undeploy is
// reachable from DEPLOYED, PAUSED, and STOPPED (never from a state with
// live workers) back to UNDEPLOYED.
var allowed = map[State][]State{
	StateUndeployed: {StateDeployed},
	StateDeployed:   {StateStarting, StateUndeployed},
	StateStarting:   {StateStarted},
	StateStarted:    {StatePausing, StateStopping},
	StatePausing:    {StatePaused},
	StatePaused:     {StateStarting, StateStopping, StateUndeployed},
	StateStopping:   {StateStopped},
	StateStopped:    {StateStarting, StateUndeployed},
}

// ErrInvalidTransition is returned when a lifecycle method is called from a
// state that does not permit it.
type ErrInvalidTransition struct {
	ChannelID string
	From      State
	To        State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("channel %s: cannot move from %s to %s", e.ChannelID, e.From, e.To)
}

func (s State) canMoveTo(next State) bool {
	for _, n := range allowed[s] {
		if n == next {
			return true
		}
	}
	return false
}

// PostprocessorFunc is the channel-level postprocessor hook (spec.md §4.6).
// It runs only when RunPostprocessor is called; Channel itself does not
// call RunPostprocessor when a Message's connectors become terminal.
type PostprocessorFunc = aggregator.PostprocessorFunc

// Config binds the static pieces a Channel wires together at construction:
// the source connector configuration, destination chains, and an optional
// channel-level postprocessor.
type Config struct {
	ID            string
	SourceConfig  source.Config
	Chains        []*destination.Chain
	Postprocessor PostprocessorFunc

	// Recorder records statistics deltas and observability events for
	// every connector owned by this channel (spec.md §6, C8). Defaults to
	// a Recorder backed by a no-op dispatcher when nil, so callers that
	// don't care about observability don't need to construct one.
	Recorder *stats.Recorder
}

// Channel owns exactly one Source connector and its Destination Chains
// (spec.md §3 "Ownership"), and drives them through the deploy lifecycle.
type Channel struct {
	id            string
	store         store.Datastore
	chains        []*destination.Chain
	sourceCfg     source.Config
	postprocessor PostprocessorFunc
	recorder      *stats.Recorder

	mu     sync.Mutex
	state  State
	runner *destination.Runner
	source *source.Connector
	cancel context.CancelFunc
}

// New constructs a Channel in the UNDEPLOYED state. Deploy must be called
// before Start.
func New(cfg Config, st store.Datastore) *Channel {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = stats.NewRecorder(st, stats.NewCounters(), stats.NopDispatcher{})
	}
	return &Channel{
		id:            cfg.ID,
		store:         st,
		chains:        cfg.Chains,
		sourceCfg:     cfg.SourceConfig,
		postprocessor: cfg.Postprocessor,
		recorder:      recorder,
		state:         StateUndeployed,
	}
}

// Recorder returns the channel's statistics recorder (e.g. for a REST
// status endpoint to read back current counters).
func (c *Channel) Recorder() *stats.Recorder {
	return c.recorder
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) transition(next State) error {
	if !c.state.canMoveTo(next) {
		return &ErrInvalidTransition{ChannelID: c.id, From: c.state, To: next}
	}
	c.state = next
	return nil
}

// Deploy allocates datastore resources for the channel (per-channel
// tables/partitions) and moves UNDEPLOYED → DEPLOYED. The revision (source
// config + chains) was already bound at New; Deploy's job is resource
// allocation and registration, not construction.
func (c *Channel) Deploy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateDeployed); err != nil {
		return err
	}
	if err := c.store.AllocateChannelResources(ctx, c.id); err != nil {
		c.state = StateUndeployed
		return fmt.Errorf("deploy channel %s: %w", c.id, err)
	}
	return nil
}

// Start binds the source connector and launches the destination chain
// runner's queue worker pools, moving DEPLOYED/PAUSED/STOPPED → STARTING →
// STARTED. Any ConnectorMessage left PENDING by a prior ungraceful stop is
// reset to QUEUED as part of each queue worker pool's startup recovery pass.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateStarting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.runner = destination.NewRunner(c.id, c.chains, c.store)
	c.runner.SetRecorder(c.recorder)
	c.runner.Start(runCtx)
	c.source = source.NewConnector(c.id, c.sourceCfg, c.store, c.runner)
	c.source.SetRecorder(c.recorder)

	slog.Info("channel: started", "channel_id", c.id)
	return c.transition(StateStarted)
}

// Accept routes one raw inbound payload through the channel's source
// connector. Valid only while STARTED.
func (c *Channel) Accept(ctx context.Context, raw []byte) (string, error) {
	c.mu.Lock()
	if c.state != StateStarted {
		c.mu.Unlock()
		return "", fmt.Errorf("channel %s is %s, not accepting messages", c.id, c.state)
	}
	conn := c.source
	c.mu.Unlock()

	return conn.Accept(ctx, raw)
}

// Pause closes the source connector to new inbound traffic while
// destinations keep draining their queues (spec.md §4.7).
func (c *Channel) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StatePausing); err != nil {
		return err
	}
	c.source = nil // new Accept calls are rejected; in-flight queue workers are untouched
	return c.transition(StatePaused)
}

// Stop drains destination workers for a bounded duration (callers arrange
// the bound via ctx) then aborts them; any ConnectorMessage still PENDING
// at abort is recovered to QUEUED on the next Start (spec.md §4.7).
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateStopping); err != nil {
		return err
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.runner != nil {
		c.runner.Stop()
	}
	c.source = nil
	slog.Info("channel: stopped", "channel_id", c.id)
	return c.transition(StateStopped)
}

// Undeploy releases datastore resources and returns the channel to
// UNDEPLOYED. Only reachable from DEPLOYED, PAUSED, or STOPPED — a running
// channel must be stopped first.
func (c *Channel) Undeploy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateUndeployed); err != nil {
		return err
	}
	return c.store.ReleaseChannelResources(ctx, c.id)
}

// RunPostprocessor runs the channel's configured postprocessor (if any) for
// msg through aggregator.RunPostprocessor. Nothing in Channel, its source
// connector or its destination runner calls it.
func (c *Channel) RunPostprocessor(ctx context.Context, msg *model.Message) {
	aggregator.RunPostprocessor(ctx, msg, c.postprocessor)
}
