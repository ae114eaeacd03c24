package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
)

func init() {
	Register("git", func() Provider { return &gitProvider{} })
}

// gitProvider clones Options.Source at Options.Ref into a scratch
// directory and tars the checkout. The directory is removed once the
// archive has been written.
type gitProvider struct{}

func (p *gitProvider) Name() string { return "git" }

func (p *gitProvider) Open(ctx context.Context, opts build.Options) (io.ReadCloser, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("source: git: source URL is required")
	}

	dir, err := os.MkdirTemp("", "freightqueue-git-*")
	if err != nil {
		return nil, fmt.Errorf("source: git: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Warn("removing git checkout")
		}
	}

	if err := checkout(ctx, dir, opts.Source, opts.Ref); err != nil {
		cleanup()
		return nil, err
	}

	log.WithFields(logrus.Fields{
		logging.Provider: "git",
		"url":            opts.Source,
		"ref":            opts.Ref,
	}).Debug("cloned build context")

	return tarDir(ctx, dir, cleanup)
}

// commitRe matches an abbreviated or full commit hash.
var commitRe = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// checkout clones url into dir and checks out ref. Branch and tag names
// get a shallow single-branch clone; commit hashes need full history.
func checkout(ctx context.Context, dir, url, ref string) error {
	if commitRe.MatchString(ref) {
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
		if err != nil {
			return fmt.Errorf("source: git: cloning %s: %w", url, err)
		}
		hash, err := repo.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return fmt.Errorf("source: git: resolving %s: %w", ref, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("source: git: %w", err)
		}
		if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
			return fmt.Errorf("source: git: checking out %s: %w", ref, err)
		}
		return nil
	}

	var lastErr error
	for _, name := range candidateRefs(ref) {
		_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           url,
			ReferenceName: name,
			SingleBranch:  true,
			Depth:         1,
			Tags:          git.NoTags,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		// A failed clone may leave partial state behind.
		if err := resetDir(dir); err != nil {
			return fmt.Errorf("source: git: %w", err)
		}
	}
	return fmt.Errorf("source: git: cloning %s at %q: %w", url, ref, lastErr)
}

// candidateRefs lists the references a user-supplied ref may name. An empty
// ref means the remote HEAD. A bare name is tried as a branch, then a tag.
func candidateRefs(ref string) []plumbing.ReferenceName {
	switch {
	case ref == "":
		return []plumbing.ReferenceName{""}
	case strings.HasPrefix(ref, "refs/"):
		return []plumbing.ReferenceName{plumbing.ReferenceName(ref)}
	default:
		return []plumbing.ReferenceName{
			plumbing.NewBranchReferenceName(ref),
			plumbing.NewTagReferenceName(ref),
		}
	}
}

func resetDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
