package source

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ignoreRule is one .dockerignore line.
type ignoreRule struct {
	pattern string
	negate  bool
}

// ignoreMatcher decides which context paths are excluded. Rules apply in
// order and the last matching rule wins, so "!keep.txt" after "*.txt"
// re-includes keep.txt.
type ignoreMatcher struct {
	rules []ignoreRule
}

// loadIgnore reads root/.dockerignore. A missing file yields a matcher that
// only excludes .git.
func loadIgnore(root string) (*ignoreMatcher, error) {
	m := &ignoreMatcher{rules: []ignoreRule{{pattern: ".git"}}}

	f, err := os.Open(filepath.Join(root, ".dockerignore"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = strings.TrimSpace(line[1:])
		}
		line = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(line)), "/")
		if line == "" || line == "." {
			continue
		}
		rule.pattern = line
		m.rules = append(m.rules, rule)
	}
	return m, sc.Err()
}

// Excluded reports whether the forward-slash relative path is ignored.
// A path is also ignored when one of its parent directories matches.
func (m *ignoreMatcher) Excluded(rel string) bool {
	excluded := false
	for _, r := range m.rules {
		if matchPathOrParent(r.pattern, rel) {
			excluded = !r.negate
		}
	}
	return excluded
}

// hasNegations reports whether any rule re-includes paths, in which case
// excluded directories still have to be walked.
func (m *ignoreMatcher) hasNegations() bool {
	for _, r := range m.rules {
		if r.negate {
			return true
		}
	}
	return false
}

func matchPathOrParent(pattern, rel string) bool {
	for p := rel; p != "." && p != ""; p = parentDir(p) {
		if matchGlob(pattern, p) {
			return true
		}
	}
	return false
}

func parentDir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// matchGlob extends filepath.Match with support for "**" (zero or more path
// segments). Patterns without "**" delegate directly to filepath.Match.
func matchGlob(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, path)
		return matched
	}

	idx := strings.Index(pattern, "**")
	prefix := pattern[:idx]
	suffix := strings.TrimLeft(pattern[idx+2:], "/")

	if prefix != "" {
		prefix = strings.TrimRight(prefix, "/")
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			return false
		}
		path = strings.TrimLeft(strings.TrimPrefix(path, prefix), "/")
	}

	// ** at the end matches everything remaining.
	if suffix == "" {
		return true
	}

	// Try the suffix against every tail: "a/b/c", "b/c", "c".
	parts := strings.Split(path, "/")
	for i := 0; i <= len(parts); i++ {
		if matchGlob(suffix, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}
