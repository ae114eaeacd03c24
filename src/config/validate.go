package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sofmeright/freightqueue/src/logging"
	"github.com/sofmeright/freightqueue/src/registry"
)

// Validate checks a loaded Config.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	// ── Queue ─────────────────────────────────────────────────────────────

	switch {
	case cfg.Queue.MaxConcurrentBuilds < 0:
		errs = append(errs, fmt.Sprintf("queue.max_concurrent_builds: must not be negative, got %d", cfg.Queue.MaxConcurrentBuilds))
	case cfg.Queue.MaxConcurrentBuilds == 0:
		warnings = append(warnings, "queue.max_concurrent_builds is 0: builds will queue but never start")
	}
	if cfg.Queue.HistorySize < 0 {
		errs = append(errs, fmt.Sprintf("queue.history_size: must not be negative, got %d", cfg.Queue.HistorySize))
	}

	// ── Engine ────────────────────────────────────────────────────────────

	if strings.TrimSpace(cfg.Engine.Binary) == "" {
		errs = append(errs, "engine.binary: must not be empty")
	}
	for i, kv := range cfg.Engine.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Sprintf("engine.extra_env[%d]: %q is not KEY=VALUE", i, kv))
		}
	}

	// ── Registries ────────────────────────────────────────────────────────

	for host, auth := range cfg.Registries {
		path := fmt.Sprintf("registries[%q]", host)
		if host == "" {
			errs = append(errs, "registries: empty host key")
			continue
		}
		if auth.Credentials == "" && auth.Empty() {
			warnings = append(warnings, fmt.Sprintf("%s: no credentials configured", path))
		}
		if auth.Password != "" && auth.Credentials == "" {
			warnings = append(warnings, fmt.Sprintf("%s: password stored in the config file; prefer credentials: <ENV_PREFIX>", path))
		}
		if strings.Contains(host, "/") && host != registry.DefaultRegistry {
			warnings = append(warnings, fmt.Sprintf("%s: registry keys are hosts; %q will only match the default registry spelling", path, host))
		}
	}

	// ── Status ────────────────────────────────────────────────────────────

	if cfg.Status.Redis.Enabled() && cfg.Status.Redis.TTL.Std() <= 0 {
		errs = append(errs, "status.redis.ttl: must be positive")
	}
	if cfg.Status.Redis.DB < 0 {
		errs = append(errs, fmt.Sprintf("status.redis.db: must not be negative, got %d", cfg.Status.Redis.DB))
	}

	// ── Server ────────────────────────────────────────────────────────────

	if _, perr := CompilePatterns(cfg.Server.AllowedRepos); perr != nil {
		errs = append(errs, fmt.Sprintf("server.allowed_repos: %v", perr))
	}

	// ── Badge ─────────────────────────────────────────────────────────────

	if cfg.Badge.FontSize < 0 {
		errs = append(errs, fmt.Sprintf("badge.font_size: must not be negative, got %g", cfg.Badge.FontSize))
	}

	// ── Log ───────────────────────────────────────────────────────────────

	switch strings.ToLower(cfg.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Sprintf("log.format: unknown format %q (supported: text, json)", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return warnings, errors.New(strings.Join(errs, "\n"))
	}
	return warnings, nil
}
