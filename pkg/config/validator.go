package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error
// messages.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the
// first error). Order: queue, data types, then channels, since channels
// reference data types by name.
func (val *Validator) ValidateAll() error {
	if err := val.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}

	if err := val.validateDataTypes(); err != nil {
		return fmt.Errorf("data type validation failed: %w", err)
	}

	if err := val.validateChannels(); err != nil {
		return fmt.Errorf("channel validation failed: %w", err)
	}

	return nil
}

func (val *Validator) validateQueue() error {
	q := val.cfg.Queue
	if q == nil {
		return fmt.Errorf("queue configuration is nil")
	}
	if q.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be at least 1, got %d", q.WorkerCount)
	}
	if q.RetryCount < 0 {
		return fmt.Errorf("retry_count must be non-negative, got %d", q.RetryCount)
	}
	if q.RetryIntervalMillis < 0 {
		return fmt.Errorf("retry_interval_millis must be non-negative, got %d", q.RetryIntervalMillis)
	}
	return nil
}

func (val *Validator) validateDataTypes() error {
	for name, dt := range val.cfg.DataTypeRegistry.GetAll() {
		if err := val.v.Struct(dt); err != nil {
			return NewValidationError("data_type", name, "", err)
		}
		if !dt.Serializer.IsValid() {
			return NewValidationError("data_type", name, "serializer", fmt.Errorf("invalid serializer: %s", dt.Serializer))
		}
	}
	return nil
}

func (val *Validator) validateChannels() error {
	for id, ch := range val.cfg.ChannelRegistry.GetAll() {
		if err := val.v.Struct(ch); err != nil {
			return NewValidationError("channel", id, "", err)
		}

		if err := val.validateSource(id, &ch.Source); err != nil {
			return err
		}

		if ch.ResponsePolicy != "" && !ch.ResponsePolicy.IsValid() {
			return NewValidationError("channel", id, "response_policy", fmt.Errorf("invalid response policy: %s", ch.ResponsePolicy))
		}

		seenMetaDataID := make(map[int]bool)
		for chainIdx, chain := range ch.DestinationChains {
			for destIdx, dest := range chain.Destinations {
				destRef := fmt.Sprintf("destination_chains[%d].destinations[%d]", chainIdx, destIdx)
				if err := val.validateConnector(id, destRef, &dest); err != nil {
					return err
				}
				if seenMetaDataID[dest.MetaDataID] {
					return NewValidationError("channel", id, destRef, fmt.Errorf("meta_data_id %d is already used by another destination", dest.MetaDataID))
				}
				seenMetaDataID[dest.MetaDataID] = true
			}
		}
	}

	return nil
}

func (val *Validator) validateSource(channelID string, src *SourceConfig) error {
	if err := val.validateTransport(channelID, "source.transport", &src.Transport); err != nil {
		return err
	}
	if !val.cfg.DataTypeRegistry.Has(src.DataType) {
		return NewValidationError("channel", channelID, "source.data_type", fmt.Errorf("%w: %s", ErrInvalidReference, src.DataType))
	}
	if src.Attribution != "" && !src.Attribution.IsValid() {
		return NewValidationError("channel", channelID, "source.attribution", fmt.Errorf("invalid attribution: %s", src.Attribution))
	}
	if src.Attribution == AttributionDestination && src.AttributionMetaDataID == 0 {
		return NewValidationError("channel", channelID, "source.attribution_meta_data_id", fmt.Errorf("required when attribution is DESTINATION"))
	}
	return nil
}

func (val *Validator) validateConnector(channelID, ref string, c *ConnectorConfig) error {
	if err := val.validateTransport(channelID, ref+".transport", &c.Transport); err != nil {
		return err
	}
	if !val.cfg.DataTypeRegistry.Has(c.DataType) {
		return NewValidationError("channel", channelID, ref+".data_type", fmt.Errorf("%w: %s", ErrInvalidReference, c.DataType))
	}
	if c.GroupBy != "" && c.ThreadCount < 1 {
		return NewValidationError("channel", channelID, ref+".thread_count", fmt.Errorf("must be at least 1 when group_by is set"))
	}
	return nil
}

func (val *Validator) validateTransport(channelID, field string, t *TransportConfig) error {
	if !t.Type.IsValid() {
		return NewValidationError("channel", channelID, field+".type", fmt.Errorf("invalid transport type: %s", t.Type))
	}

	switch t.Type {
	case TransportMLLP:
		if t.Address == "" {
			return NewValidationError("channel", channelID, field+".address", fmt.Errorf("address required for mllp transport"))
		}
	case TransportHTTP:
		if t.Address == "" && t.Path == "" {
			return NewValidationError("channel", channelID, field, fmt.Errorf("address (destination) or path (source) required for http transport"))
		}
	case TransportGRPC:
		if t.Address == "" {
			return NewValidationError("channel", channelID, field+".address", fmt.Errorf("address required for grpc transport"))
		}
		if t.Method == "" {
			return NewValidationError("channel", channelID, field+".method", fmt.Errorf("method required for grpc transport"))
		}
	}

	return nil
}
