package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Queue: DefaultQueueConfig(),
		ChannelRegistry: NewChannelRegistry(map[string]*ChannelConfig{
			"adt": sampleChannelConfig("adt"),
		}),
		DataTypeRegistry: NewDataTypeRegistry(map[string]*DataTypeConfig{
			"hl7v2": {Serializer: SerializerHL7V2},
		}),
	}
}

func TestValidator_ValidateAll_Valid(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidator_ValidateAll_InvalidQueue(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.WorkerCount = 0

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue validation failed")
}

func TestValidator_ValidateAll_UnknownDataType(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.Source.DataType = "unknown"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidReference)
}

func TestValidator_ValidateAll_InvalidTransportType(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.Source.Transport.Type = "carrier-pigeon"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transport type")
}

func TestValidator_ValidateAll_MLLPRequiresAddress(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.Source.Transport.Address = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address required for mllp transport")
}

func TestValidator_ValidateAll_GRPCRequiresMethod(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.DestinationChains[0].Destinations[0].Transport = TransportConfig{Type: TransportGRPC, Address: "scripts:9090"}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method required for grpc transport")
}

func TestValidator_ValidateAll_DuplicateMetaDataID(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.DestinationChains = append(ch.DestinationChains, DestinationChainConfig{
		Destinations: []ConnectorConfig{
			{
				MetaDataID:    1, // collides with the existing destination
				ConnectorName: "dup",
				Transport:     TransportConfig{Type: TransportHTTP, Address: "http://dup.internal"},
				DataType:      "hl7v2",
			},
		},
	})

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by another destination")
}

func TestValidator_ValidateAll_AttributionDestinationRequiresMetaDataID(t *testing.T) {
	cfg := validConfig()
	ch, _ := cfg.ChannelRegistry.Get("adt")
	ch.Source.Attribution = AttributionDestination

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attribution_meta_data_id")
}

func TestValidator_ValidateAll_InvalidSerializer(t *testing.T) {
	cfg := validConfig()
	dt, _ := cfg.DataTypeRegistry.Get("hl7v2")
	dt.Serializer = "not-a-real-serializer"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid serializer")
}
