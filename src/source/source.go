// Package source produces build contexts: tar streams of the files a build
// sees. Providers register themselves by name from init().
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "source")

// DefaultProvider is used when a job names no provider.
const DefaultProvider = "local"

// ErrUnknownProvider is returned by Get for unregistered names.
var ErrUnknownProvider = errors.New("source: unknown provider")

// Provider is the interface every build-context provider implements.
type Provider interface {
	Name() string

	// Open returns a tar stream of the build context. The stream may be
	// produced asynchronously; read errors surface from Read. Callers must
	// Close it.
	Open(ctx context.Context, opts build.Options) (io.ReadCloser, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Provider{}
)

// Register adds a provider constructor to the global registry.
// Called from init() in each provider file.
func Register(name string, constructor func() Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("source: duplicate provider registration: %s", name))
	}
	registry[name] = constructor
}

// Get returns a new instance of the named provider. An empty name selects
// DefaultProvider.
func Get(name string) (Provider, error) {
	if name == "" {
		name = DefaultProvider
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return ctor(), nil
}

// All returns sorted names of all registered providers.
func All() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open resolves the job's provider and opens its build context.
func Open(ctx context.Context, opts build.Options) (io.ReadCloser, error) {
	p, err := Get(opts.Provider)
	if err != nil {
		return nil, err
	}
	return p.Open(ctx, opts)
}
