package source

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sofmeright/freightqueue/src/build"
)

func init() {
	Register("local", func() Provider { return &localProvider{} })
}

// localProvider tars a directory on the scheduler's host.
type localProvider struct{}

func (p *localProvider) Name() string { return "local" }

func (p *localProvider) Open(ctx context.Context, opts build.Options) (io.ReadCloser, error) {
	root := opts.Source
	if root == "" {
		root = "."
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source: local: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source: local: %s is not a directory", root)
	}
	return tarDir(ctx, root, nil)
}

// tarDir streams root as a tar archive, honouring root/.dockerignore. The
// archive is written by a goroutine; write errors surface from Read.
// cleanup, when set, runs after the archive is fully written or abandoned.
func tarDir(ctx context.Context, root string, cleanup func()) (io.ReadCloser, error) {
	ignore, err := loadIgnore(root)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, fmt.Errorf("source: reading .dockerignore: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		if cleanup != nil {
			defer cleanup()
		}
		err := writeTar(ctx, pw, root, ignore)
		if err != nil {
			log.WithError(err).WithField("root", root).Debug("build context aborted")
		}
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func writeTar(ctx context.Context, w io.Writer, root string, ignore *ignoreMatcher) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignore.Excluded(rel) {
			if d.IsDir() && !ignore.hasNegations() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}
