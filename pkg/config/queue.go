package config

import "time"

// QueueConfig contains the system-wide queue/worker-pool settings (spec.md
// §4.3). They are loaded and validated only: a queued destination's worker
// pool takes its thread count and retry settings from that destination's
// own configuration, and the orphan scan interval and threshold are not
// passed to any worker pool.
type QueueConfig struct {
	// WorkerCount is the default number of worker goroutines per queued
	// destination.
	WorkerCount int `yaml:"worker_count,omitempty" validate:"omitempty,min=1"`

	// RetryCount is the default retry ceiling for a queued destination
	// (0 = unlimited).
	RetryCount int `yaml:"retry_count,omitempty" validate:"omitempty,min=0"`

	// RetryIntervalMillis is the default pacing between retries.
	RetryIntervalMillis int `yaml:"retry_interval_millis,omitempty" validate:"omitempty,min=0"`

	// OrphanScanInterval is how often the background scan looks for
	// connector messages stuck in PENDING. Zero disables the scan.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval,omitempty"`

	// OrphanThreshold is how long a message can sit in PENDING before the
	// scan resets it back to QUEUED.
	OrphanThreshold time.Duration `yaml:"orphan_threshold,omitempty"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:         5,
		RetryCount:          0,
		RetryIntervalMillis: 5000,
		OrphanScanInterval:  1 * time.Minute,
		OrphanThreshold:     5 * time.Minute,
	}
}
