// Package registry resolves push/pull credentials for container registries.
// A job carries a credential table keyed by registry host; the host is
// derived from the image repository, falling back to Docker Hub when the
// repository names no host.
package registry

import (
	"os"
	"sort"
	"strings"
)

// DefaultRegistry is the credential-table key used for repositories that do
// not name a registry host.
const DefaultRegistry = "https://index.docker.io/v1/"

// dockerHubAliases are host spellings that also address Docker Hub.
var dockerHubAliases = []string{"docker.io", "index.docker.io", "registry-1.docker.io"}

// AuthConfig holds credentials for one registry.
type AuthConfig struct {
	Username      string `json:"username,omitempty" yaml:"username" toml:"username"`
	Password      string `json:"password,omitempty" yaml:"password" toml:"password"`
	IdentityToken string `json:"identitytoken,omitempty" yaml:"identity_token" toml:"identity_token"`
	ServerAddress string `json:"serveraddress,omitempty" yaml:"server_address" toml:"server_address"`

	// Credentials is an env var prefix; when set, Username and Password are
	// read from PREFIX_USER / PREFIX_PASS unless already present.
	//
	//	credentials: "DOCKERHUB" → DOCKERHUB_USER / DOCKERHUB_PASS
	Credentials string `json:"-" yaml:"credentials" toml:"credentials"`
}

// Empty reports whether the config carries no usable credentials.
func (a AuthConfig) Empty() bool {
	return a.Username == "" && a.Password == "" && a.IdentityToken == ""
}

// Resolved returns a copy with env-prefixed credentials filled in.
func (a AuthConfig) Resolved() AuthConfig {
	user, pass := resolveCredentials(a.Credentials)
	if a.Username == "" {
		a.Username = user
	}
	if a.Password == "" {
		a.Password = pass
	}
	return a
}

// HostFromRepo returns the registry host named by repo, or DefaultRegistry.
//
// The first path segment is a host only when the repository has more than
// one segment and that segment looks like a host: it contains a '.' or a
// ':' (port), or is "localhost".
//
//	"nginx"                          → DefaultRegistry
//	"library/nginx"                  → DefaultRegistry
//	"ghcr.io/org/app"                → "ghcr.io"
//	"registry.local:5000/a/b/c"      → "registry.local:5000"
//	"localhost/app"                  → "localhost"
//	"ghcr.io/app"                    → "ghcr.io"
//
// Earlier credential tables keyed by the third-from-last path segment
// (split on '/', slice(-3, -2)). That rule found the host only for
// host/namespace/name references: "ghcr.io/app" resolved to no segment at
// all and "ghcr.io/org/team/app" to "org". Tables migrated from it must be
// keyed by the registry host instead.
func HostFromRepo(repo string) string {
	repo = strings.TrimSpace(repo)
	i := strings.Index(repo, "/")
	if i <= 0 {
		return DefaultRegistry
	}
	first := repo[:i]
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return DefaultRegistry
}

// Lookup returns the credentials in table for the registry hosting repo,
// or nil when the table has no matching entry. Docker Hub entries may be
// keyed by DefaultRegistry or any of its host aliases.
func Lookup(table map[string]AuthConfig, repo string) *AuthConfig {
	if len(table) == 0 {
		return nil
	}

	host := HostFromRepo(repo)
	keys := []string{host}
	if host == DefaultRegistry {
		keys = append(keys, dockerHubAliases...)
	} else {
		for _, alias := range dockerHubAliases {
			if host == alias {
				keys = append(keys, DefaultRegistry)
				break
			}
		}
	}

	for _, k := range keys {
		if auth, ok := table[k]; ok {
			resolved := auth.Resolved()
			if resolved.ServerAddress == "" {
				resolved.ServerAddress = host
			}
			return &resolved
		}
	}
	return nil
}

// resolveCredentials reads USER and PASS from env vars using the
// configured prefix. Returns empty strings if no prefix or vars are unset.
func resolveCredentials(prefix string) (user, pass string) {
	if prefix == "" {
		return "", ""
	}
	p := strings.ToUpper(prefix)
	return os.Getenv(p + "_USER"), os.Getenv(p + "_PASS")
}

// Entries returns every credential in table, resolved and ordered by host.
// Entries without a server address take their table key.
func Entries(table map[string]AuthConfig) []AuthConfig {
	hosts := make([]string, 0, len(table))
	for h := range table {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	out := make([]AuthConfig, 0, len(hosts))
	for _, h := range hosts {
		a := table[h].Resolved()
		if a.ServerAddress == "" {
			a.ServerAddress = h
		}
		if a.Empty() {
			continue
		}
		out = append(out, a)
	}
	return out
}
