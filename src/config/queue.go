package config

// QueueConfig holds admission limits.
type QueueConfig struct {
	MaxConcurrentBuilds int `yaml:"max_concurrent_builds" toml:"max_concurrent_builds"`
	HistorySize         int `yaml:"history_size" toml:"history_size"` // finished jobs kept queryable
}

// DefaultQueueConfig returns sensible defaults for the queue.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxConcurrentBuilds: 2,
		HistorySize:         256,
	}
}
