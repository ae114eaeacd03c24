package config

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Listen string `yaml:"listen" toml:"listen"`

	// AllowedRepos restricts which repositories the API accepts builds for.
	// Uses standard pattern syntax: regex, literal, or !negated.
	// Empty = accept every repository. Examples:
	//   ["^ghcr\\.io/acme/"]  → only acme's GHCR images
	//   ["!^docker\\.io/"]    → anything but Docker Hub
	AllowedRepos []string `yaml:"allowed_repos" toml:"allowed_repos"`

	// AllowedProviders limits the build-context providers API clients may
	// select. Empty = all registered providers.
	AllowedProviders []string `yaml:"allowed_providers" toml:"allowed_providers"`
}

// DefaultServerConfig returns sensible defaults for the API server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:           ":8080",
		AllowedProviders: []string{"git", "url"},
	}
}
