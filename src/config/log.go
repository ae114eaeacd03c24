package config

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // logrus level name
	Format string `yaml:"format" toml:"format"` // text or json
}

// DefaultLogConfig returns sensible defaults for logging.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}
