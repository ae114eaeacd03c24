package config

import "time"

// StatusConfig holds the status publisher configuration.
type StatusConfig struct {
	// LogEvents writes one log line per job transition.
	LogEvents bool        `yaml:"log_events" toml:"log_events"`
	Redis     RedisConfig `yaml:"redis" toml:"redis"`
}

// RedisConfig enables the Redis status store when Addr is set.
type RedisConfig struct {
	Addr      string   `yaml:"addr" toml:"addr"`
	Password  string   `yaml:"password" toml:"password"`
	DB        int      `yaml:"db" toml:"db"`
	Channel   string   `yaml:"channel" toml:"channel"`       // pub/sub channel for transitions; empty disables
	KeyPrefix string   `yaml:"key_prefix" toml:"key_prefix"` // default "freightqueue"
	TTL       Duration `yaml:"ttl" toml:"ttl"`               // record lifetime (default 24h)
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// DefaultStatusConfig returns sensible defaults for status publishing.
func DefaultStatusConfig() StatusConfig {
	return StatusConfig{
		LogEvents: true,
		Redis: RedisConfig{
			KeyPrefix: "freightqueue",
			Channel:   "freightqueue:builds",
			TTL:       Duration(24 * time.Hour),
		},
	}
}
