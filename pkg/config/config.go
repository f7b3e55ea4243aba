// Package config loads, validates, and serves the channel, connector, and
// data-type configuration that drives the Donkey channel engine.
package config

// ConfigStats summarizes what was loaded, for a one-line startup log.
type ConfigStats struct {
	Channels  int
	DataTypes int
}

// Config is the fully loaded, validated configuration surface: a
// directory handle plus the registries built from it.
type Config struct {
	configDir string

	Queue *QueueConfig

	ChannelRegistry  *ChannelRegistry
	DataTypeRegistry *DataTypeRegistry
}

// ConfigDir returns the directory this configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats returns counts of loaded configuration, for startup logging.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Channels:  c.ChannelRegistry.Len(),
		DataTypes: c.DataTypeRegistry.Len(),
	}
}

// GetChannel retrieves a channel configuration by ID.
func (c *Config) GetChannel(id string) (*ChannelConfig, error) {
	return c.ChannelRegistry.Get(id)
}

// GetDataType retrieves a data-type profile by name.
func (c *Config) GetDataType(name string) (*DataTypeConfig, error) {
	return c.DataTypeRegistry.Get(name)
}
