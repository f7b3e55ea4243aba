package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DonkeyYAMLConfig represents the complete donkey.yaml file structure.
type DonkeyYAMLConfig struct {
	Channels  map[string]ChannelConfig  `yaml:"channels"`
	DataTypes map[string]DataTypeConfig `yaml:"data_types"`
	Queue     *QueueConfig              `yaml:"queue"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load donkey.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Build in-memory registries
//  5. Apply default values
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"channels", stats.Channels,
		"data_types", stats.DataTypes)

	return cfg, nil
}

// load is the internal loader (not exported).
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	donkeyConfig, err := loader.loadDonkeyYAML()
	if err != nil {
		return nil, NewLoadError("donkey.yaml", err)
	}

	channels := make(map[string]*ChannelConfig, len(donkeyConfig.Channels))
	for id, ch := range donkeyConfig.Channels {
		chCopy := ch
		if chCopy.ID == "" {
			chCopy.ID = id
		}
		channels[id] = &chCopy
	}

	dataTypes := make(map[string]*DataTypeConfig, len(donkeyConfig.DataTypes))
	for name, dt := range donkeyConfig.DataTypes {
		dtCopy := dt
		dataTypes[name] = &dtCopy
	}

	// Start with built-in defaults, then merge user-provided values on top
	// so unset YAML fields keep their default rather than zeroing out.
	queueConfig := DefaultQueueConfig()
	if donkeyConfig.Queue != nil {
		if err := mergo.Merge(queueConfig, donkeyConfig.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	return &Config{
		configDir:        configDir,
		Queue:            queueConfig,
		ChannelRegistry:  NewChannelRegistry(channels),
		DataTypeRegistry: NewDataTypeRegistry(dataTypes),
	}, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables before parsing, so ${VAR}/$VAR can
	// appear anywhere in scalar values (e.g. script executor addresses).
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadDonkeyYAML() (*DonkeyYAMLConfig, error) {
	var cfg DonkeyYAMLConfig
	cfg.Channels = make(map[string]ChannelConfig)
	cfg.DataTypes = make(map[string]DataTypeConfig)

	if err := l.loadYAML("donkey.yaml", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
