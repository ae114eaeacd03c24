// Package engine drives a container engine: pull, build, tag and push.
// Every operation returns a Progress stream that ends in success or failure.
package engine

import (
	"context"
	"io"

	"github.com/sofmeright/freightqueue/src/registry"
)

// Client is the container-engine surface the build pipeline consumes.
type Client interface {
	// Pull fetches ref into the engine's image store.
	Pull(ctx context.Context, ref string, auth *registry.AuthConfig) (*Progress, error)

	// Build builds an image from a tar build context and tags it opts.Tag.
	Build(ctx context.Context, buildContext io.Reader, opts BuildOptions) (*Progress, error)

	// Tag adds repo:tag to the local image source.
	Tag(ctx context.Context, source, repo, tag string) (*Progress, error)

	// Push uploads ref to its registry.
	Push(ctx context.Context, ref string, auth *registry.AuthConfig) (*Progress, error)
}

// BuildOptions configures a single image build.
type BuildOptions struct {
	Tag        string
	Dockerfile string // path inside the build context; default "Dockerfile"
	BuildArgs  map[string]string
	Auths      []registry.AuthConfig // registries the build may pull base images from
}
