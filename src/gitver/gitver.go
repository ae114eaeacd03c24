// Package gitver derives version metadata for a build from the git
// repository holding its context: the nearest tag, HEAD's commit and the
// current branch. It fills the inputs of the {version}, {sha} and {branch}
// tag templates when a job does not set them.
package gitver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/sofmeright/freightqueue/src/build"
)

// VersionInfo holds resolved version metadata from git.
type VersionInfo struct {
	Version   string // "1.2.3", "1.2.3-rc.1", "1.2.3-dev+abc1234", "0.0.0-dev+abc1234"
	Tag       string // nearest tag name, "" when the history has none
	SHA       string // full HEAD commit hash
	Branch    string // "" on a detached HEAD
	IsRelease bool   // HEAD is exactly at Tag
}

// Short returns the abbreviated commit hash.
func (v *VersionInfo) Short() string {
	if len(v.SHA) > 7 {
		return v.SHA[:7]
	}
	return v.SHA
}

// Detect resolves version info for the repository containing dir.
func Detect(dir string) (*VersionInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("gitver: opening %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitver: reading HEAD: %w", err)
	}

	v := &VersionInfo{SHA: head.Hash().String()}
	if head.Name().IsBranch() {
		v.Branch = head.Name().Short()
	}

	tags, err := tagsByCommit(repo)
	if err != nil {
		return nil, err
	}

	tag, distance, err := nearestTag(repo, head.Hash(), tags)
	if err != nil {
		return nil, err
	}

	if tag == "" {
		v.Version = "0.0.0-dev+" + v.Short()
		return v, nil
	}
	v.Tag = tag
	v.IsRelease = distance == 0
	v.Version = strings.TrimPrefix(tag, "v")
	if !v.IsRelease {
		v.Version = fmt.Sprintf("%s-dev+%s", v.Version, v.Short())
	}
	return v, nil
}

// tagsByCommit maps commit hashes to the best tag pointing at them.
// Annotated tags are peeled to their commit.
func tagsByCommit(repo *git.Repository) (map[plumbing.Hash]string, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("gitver: listing tags: %w", err)
	}

	out := map[plumbing.Hash]string{}
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		hash := ref.Hash()
		obj, err := repo.TagObject(hash)
		switch {
		case err == nil:
			commit, err := obj.Commit()
			if err != nil {
				return nil // tag of a tree or blob
			}
			hash = commit.Hash
		case !errors.Is(err, plumbing.ErrObjectNotFound):
			return err
		}

		name := ref.Name().Short()
		if prev, ok := out[hash]; !ok || preferTag(name, prev) {
			out[hash] = name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gitver: reading tags: %w", err)
	}
	return out, nil
}

// preferTag reports whether candidate should replace current when both
// point at one commit: the higher semver wins, and semver beats non-semver.
func preferTag(candidate, current string) bool {
	cv, cerr := semver.NewVersion(candidate)
	pv, perr := semver.NewVersion(current)
	switch {
	case cerr == nil && perr == nil:
		return cv.GreaterThan(pv)
	case cerr == nil:
		return true
	case perr == nil:
		return false
	default:
		return candidate > current
	}
}

// nearestTag walks history from head and returns the first tagged commit's
// tag with its distance in commits.
func nearestTag(repo *git.Repository, head plumbing.Hash, tags map[plumbing.Hash]string) (string, int, error) {
	if len(tags) == 0 {
		return "", 0, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return "", 0, fmt.Errorf("gitver: reading history: %w", err)
	}

	var (
		tag      string
		distance int
	)
	err = iter.ForEach(func(c *object.Commit) error {
		if name, ok := tags[c.Hash]; ok {
			tag = name
			return storer.ErrStop
		}
		distance++
		return nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("gitver: walking history: %w", err)
	}
	return tag, distance, nil
}

// Apply fills the Version, Commit and Branch options that are unset.
func (v *VersionInfo) Apply(opts *build.Options) {
	if opts.Version == "" {
		opts.Version = v.Version
	}
	if opts.Commit == "" {
		opts.Commit = v.SHA
	}
	if opts.Branch == "" {
		opts.Branch = v.Branch
	}
}
