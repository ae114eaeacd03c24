// Package config loads the freightqueue configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/sofmeright/freightqueue/src/registry"
)

const defaultConfigFile = ".freightqueue.yml"

// EnvMaxConcurrentBuilds overrides queue.max_concurrent_builds.
const EnvMaxConcurrentBuilds = "FREIGHTQUEUE_MAX_CONCURRENT_BUILDS"

// Config is the top-level freightqueue configuration.
type Config struct {
	Queue  QueueConfig  `yaml:"queue" toml:"queue"`
	Engine EngineConfig `yaml:"engine" toml:"engine"`

	// Registries maps registry hosts to credentials. Docker Hub is keyed by
	// "https://index.docker.io/v1/" or "docker.io".
	Registries map[string]registry.AuthConfig `yaml:"registries" toml:"registries"`

	Status StatusConfig `yaml:"status" toml:"status"`
	Server ServerConfig `yaml:"server" toml:"server"`
	Badge  BadgeConfig  `yaml:"badge" toml:"badge"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
// If path is empty, it tries the default file.
// Returns sensible defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	cfg := defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMaxConcurrentBuilds); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvMaxConcurrentBuilds, err)
		}
		cfg.Queue.MaxConcurrentBuilds = n
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Queue:  DefaultQueueConfig(),
		Engine: DefaultEngineConfig(),
		Status: DefaultStatusConfig(),
		Server: DefaultServerConfig(),
		Badge:  DefaultBadgeConfig(),
		Log:    DefaultLogConfig(),
	}
}
