package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingDefaultFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxConcurrentBuilds != 2 || cfg.Engine.Binary != "docker" || cfg.Server.Listen != ":8080" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Status.Redis.TTL.Std() != 24*time.Hour {
		t.Errorf("redis ttl = %v", cfg.Status.Redis.TTL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("expected error for a missing explicit file")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "freightqueue.yml", `
queue:
  max_concurrent_builds: 4
engine:
  binary: podman
registries:
  ghcr.io:
    credentials: GHCR
  "https://index.docker.io/v1/":
    username: hub
    password: secret
status:
  redis:
    addr: localhost:6379
    ttl: 2h
server:
  allowed_repos: ["^ghcr\\.io/acme/"]
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxConcurrentBuilds != 4 || cfg.Queue.HistorySize != 256 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Engine.Binary != "podman" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Registries["ghcr.io"].Credentials != "GHCR" || cfg.Registries["https://index.docker.io/v1/"].Username != "hub" {
		t.Errorf("registries = %+v", cfg.Registries)
	}
	if !cfg.Status.Redis.Enabled() || cfg.Status.Redis.TTL.Std() != 2*time.Hour || cfg.Status.Redis.KeyPrefix != "freightqueue" {
		t.Errorf("redis = %+v", cfg.Status.Redis)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "freightqueue.toml", `
[queue]
max_concurrent_builds = 3

[registries."registry.local:5000"]
username = "ci"
password = "pw"

[status.redis]
addr = "redis:6379"
ttl = "30m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxConcurrentBuilds != 3 {
		t.Errorf("max = %d", cfg.Queue.MaxConcurrentBuilds)
	}
	if cfg.Registries["registry.local:5000"].Username != "ci" {
		t.Errorf("registries = %+v", cfg.Registries)
	}
	if cfg.Status.Redis.TTL.Std() != 30*time.Minute {
		t.Errorf("ttl = %v", cfg.Status.Redis.TTL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeFile(t, "freightqueue.yml", "queue:\n  max_concurrent_builds: 4\n")
	t.Setenv(EnvMaxConcurrentBuilds, "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.MaxConcurrentBuilds != 7 {
		t.Errorf("max = %d, want env override 7", cfg.Queue.MaxConcurrentBuilds)
	}

	t.Setenv(EnvMaxConcurrentBuilds, "many")
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-numeric override")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeFile(t, "freightqueue.yml", "status:\n  redis:\n    ttl: forever\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	if warnings, err := Validate(cfg); err != nil || len(warnings) != 0 {
		t.Errorf("defaults: warnings %v, error %v", warnings, err)
	}

	cfg.Queue.MaxConcurrentBuilds = 0
	warnings, err := Validate(cfg)
	if err != nil || len(warnings) != 1 {
		t.Errorf("zero capacity: warnings %v, error %v", warnings, err)
	}

	cfg = defaults()
	cfg.Queue.MaxConcurrentBuilds = -1
	cfg.Engine.Env = []string{"NOVALUE"}
	cfg.Server.AllowedRepos = []string{"(unclosed"}
	cfg.Log.Format = "xml"
	_, err = Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"max_concurrent_builds", "extra_env[0]", "allowed_repos", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestPatterns(t *testing.T) {
	p, err := CompilePatterns([]string{`^ghcr\.io/acme/`, `!-wip$`})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		value string
		want  bool
	}{
		{"ghcr.io/acme/api", true},
		{"ghcr.io/acme/api-wip", false},
		{"docker.io/acme/api", false},
	}
	for _, tt := range tests {
		if got := p.Match(tt.value); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}

	excludeOnly, _ := CompilePatterns([]string{`!^docker\.io/`})
	if !excludeOnly.Match("quay.io/x") || excludeOnly.Match("docker.io/x") {
		t.Error("exclude-only patterns misbehave")
	}
	var none *Patterns
	if !none.Match("anything") {
		t.Error("nil patterns should match everything")
	}
}
