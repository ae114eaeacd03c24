package build

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"time"
)

// ARG <name>[=<default>]
var argRe = regexp.MustCompile(`(?i)^ARG\s+([A-Za-z_][A-Za-z0-9_]*)(?:=.*)?$`)

// DeclaredArgs returns the ARG names a Dockerfile declares, in order.
// Continuation lines and comments are skipped; this is a line scanner, not
// a full parser.
func DeclaredArgs(r io.Reader) ([]string, error) {
	var args []string
	seen := map[string]bool{}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := argRe.FindStringSubmatch(line); m != nil && !seen[m[1]] {
			seen[m[1]] = true
			args = append(args, m[1])
		}
	}
	return args, sc.Err()
}

// InjectBuildArgs adds VERSION, COMMIT and BUILD_DATE to the job's build
// args when the Dockerfile declares them and the job does not set them.
func InjectBuildArgs(opts *Options, declared []string, now time.Time) {
	values := map[string]string{
		"VERSION":    opts.Version,
		"COMMIT":     opts.Commit,
		"BUILD_DATE": now.UTC().Format(time.RFC3339),
	}
	for _, name := range declared {
		v, ok := values[name]
		if !ok || v == "" {
			continue
		}
		if _, set := opts.BuildArgs[name]; set {
			continue
		}
		if opts.BuildArgs == nil {
			opts.BuildArgs = map[string]string{}
		}
		opts.BuildArgs[name] = v
	}
}
