package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// maxScanSize skips files too large to be config or source.
const maxScanSize = 2 << 20

// SecretFinding is a probable credential inside a build context.
type SecretFinding struct {
	File        string // slash-separated, relative to the context root
	Line        int
	RuleID      string
	Description string
}

func (f SecretFinding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.File, f.Line, f.Description, f.RuleID)
}

// ScanSecrets runs the gitleaks default rules over every file of a local
// build context that would be sent to the engine, so .dockerignore'd files
// are not reported.
func ScanSecrets(ctx context.Context, root string) ([]SecretFinding, error) {
	ignore, err := loadIgnore(root)
	if err != nil {
		return nil, fmt.Errorf("source: reading .dockerignore: %w", err)
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("source: loading secret rules: %w", err)
	}

	var findings []SecretFinding
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
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
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxScanSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, h := range detector.DetectBytes(data) {
			findings = append(findings, SecretFinding{
				File:        rel,
				Line:        h.StartLine + 1, // gitleaks is 0-indexed
				RuleID:      h.RuleID,
				Description: h.Description,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: scanning %s: %w", root, err)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}
