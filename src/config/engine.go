package config

// EngineConfig selects the container engine CLI.
type EngineConfig struct {
	Binary string   `yaml:"binary" toml:"binary"`       // "docker" (default) or a compatible CLI such as "podman"
	Env    []string `yaml:"extra_env" toml:"extra_env"` // KEY=VALUE entries added to every engine command
}

// DefaultEngineConfig returns sensible defaults for the engine.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Binary: "docker"}
}
