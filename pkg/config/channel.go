package config

import (
	"fmt"
	"sync"
	"time"
)

// ChannelConfig defines one channel: its source connector, its ordered
// destination chains, and channel-level response handling (spec.md §3-§4).
type ChannelConfig struct {
	// ID uniquely identifies the channel (required).
	ID string `yaml:"id" validate:"required"`

	// Enabled gates whether cmd/donkey deploys and starts this channel on
	// startup. A disabled channel is still loaded and validated.
	Enabled bool `yaml:"enabled"`

	// Human-readable description.
	Description string `yaml:"description,omitempty"`

	// Source is the channel's single inbound connector. Presence of its
	// required sub-fields is checked by Validator.validateSource.
	Source SourceConfig `yaml:"source"`

	// DestinationChains are run in parallel across chains, sequentially
	// (stop-on-error) within each chain (spec.md §4.4).
	DestinationChains []DestinationChainConfig `yaml:"destination_chains,omitempty" validate:"omitempty,dive"`

	// ResponsePolicy names whether a later SENT status can still update an
	// already-returned aggregated response (spec.md §9 Open Question),
	// "never" or "aggregate". The value is validated, but channel
	// construction does not pass it to any aggregator.Aggregator, so it has
	// no effect on the responses a channel returns.
	ResponsePolicy ResponsePolicy `yaml:"response_policy,omitempty" validate:"omitempty"`

	// Postprocessor names a channel-level postprocessor hook resolved by
	// the entrypoint's postprocessor registry (spec.md §4.6). Empty means
	// no postprocessor runs.
	Postprocessor string `yaml:"postprocessor,omitempty"`
}

// SourceConfig defines the channel's inbound connector (spec.md §4.5).
type SourceConfig struct {
	ConnectorName string          `yaml:"connector_name" validate:"required"`
	Transport     TransportConfig `yaml:"transport"`
	DataType      string          `yaml:"data_type" validate:"required"`

	// Attribution selects which actor's output the source returns to the
	// wire transport: SOURCE (default), DESTINATION, or POSTPROCESSOR.
	Attribution ResponseAttribution `yaml:"attribution,omitempty" validate:"omitempty"`

	// AttributionMetaDataID names the destination (by meta_data_id) whose
	// response is returned when Attribution is DESTINATION.
	AttributionMetaDataID int `yaml:"attribution_meta_data_id,omitempty" validate:"omitempty,min=1"`

	// WaitForDestinations blocks the source's response until every
	// non-queued destination chain finishes.
	WaitForDestinations bool `yaml:"wait_for_destinations,omitempty"`

	// DestinationTimeout bounds WaitForDestinations.
	DestinationTimeout time.Duration `yaml:"destination_timeout,omitempty"`

	// Script binds the source filter/transform to an external
	// ScriptExecutor. Empty Script.Address runs no scripting.
	Script ScriptConfig `yaml:"script,omitempty"`
}

// DestinationChainConfig is one ordered, stop-on-error sequence of
// destination connectors (spec.md §4.4).
type DestinationChainConfig struct {
	Destinations []ConnectorConfig `yaml:"destinations" validate:"required,min=1,dive"`
}

// ConnectorConfig defines one destination connector within a chain.
type ConnectorConfig struct {
	// MetaDataID identifies this destination within the channel; 0 is
	// reserved for the source connector (spec.md §3).
	MetaDataID    int             `yaml:"meta_data_id" validate:"required,min=1"`
	ConnectorName string          `yaml:"connector_name" validate:"required"`
	Transport     TransportConfig `yaml:"transport"`
	DataType      string          `yaml:"data_type" validate:"required"`
	Script        ScriptConfig    `yaml:"script,omitempty"`

	// QueueEnabled routes messages through a persistent queue/worker pool
	// instead of sending inline (spec.md §4.3).
	QueueEnabled bool `yaml:"queue_enabled,omitempty"`
	// QueueSendFirst attempts one inline send before falling back to the
	// queue on failure.
	QueueSendFirst bool `yaml:"queue_send_first,omitempty"`

	RetryCount          int    `yaml:"retry_count,omitempty" validate:"omitempty,min=0"`
	RetryIntervalMillis int    `yaml:"retry_interval_millis,omitempty" validate:"omitempty,min=0"`
	GroupBy             string `yaml:"group_by,omitempty"`
	ThreadCount         int    `yaml:"thread_count,omitempty" validate:"omitempty,min=1"`
	BufferCapacity      int    `yaml:"buffer_capacity,omitempty" validate:"omitempty,min=1"`
}

// ChannelRegistry stores channel configurations in memory with
// thread-safe access, mirroring the teacher's ChainRegistry idiom.
type ChannelRegistry struct {
	channels map[string]*ChannelConfig
	mu       sync.RWMutex
}

// NewChannelRegistry creates a channel registry from a defensive copy of
// channels, keyed by ChannelConfig.ID.
func NewChannelRegistry(channels map[string]*ChannelConfig) *ChannelRegistry {
	copied := make(map[string]*ChannelConfig, len(channels))
	for k, v := range channels {
		copied[k] = v
	}
	return &ChannelRegistry{channels: copied}
}

// Get retrieves a channel configuration by ID (thread-safe).
func (r *ChannelRegistry) Get(id string) (*ChannelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// GetAll returns all channel configurations (thread-safe, returns a copy).
func (r *ChannelRegistry) GetAll() map[string]*ChannelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ChannelConfig, len(r.channels))
	for k, v := range r.channels {
		result[k] = v
	}
	return result
}

// Has checks if a channel exists in the registry (thread-safe).
func (r *ChannelRegistry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.channels[id]
	return exists
}

// Len returns the number of channels in the registry (thread-safe).
func (r *ChannelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
