package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
	"github.com/sofmeright/freightqueue/src/registry"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "engine")

// Docker drives the docker CLI (or a compatible one such as podman).
// Every output line of a command becomes one progress event.
type Docker struct {
	Binary string   // default "docker"
	Env    []string // extra KEY=VALUE entries for every command

	// loginMu serializes logins: they all write the same CLI config file.
	loginMu sync.Mutex
}

// NewDocker creates a Docker client using the given CLI binary.
func NewDocker(binary string) *Docker {
	if binary == "" {
		binary = "docker"
	}
	return &Docker{Binary: binary}
}

// Pull runs `docker pull ref`, logging in first when auth is set.
func (d *Docker) Pull(ctx context.Context, ref string, auth *registry.AuthConfig) (*Progress, error) {
	if err := d.login(ctx, auth); err != nil {
		return nil, err
	}
	return d.stream(ctx, nil, "pull", ref)
}

// Build runs `docker build` with the tar context streamed on stdin.
func (d *Docker) Build(ctx context.Context, buildContext io.Reader, opts BuildOptions) (*Progress, error) {
	for i := range opts.Auths {
		if err := d.login(ctx, &opts.Auths[i]); err != nil {
			return nil, err
		}
	}
	return d.stream(ctx, buildContext, buildArgs(opts)...)
}

// Tag runs `docker tag source repo:tag`.
func (d *Docker) Tag(ctx context.Context, source, repo, tag string) (*Progress, error) {
	return d.stream(ctx, nil, "tag", source, repo+":"+tag)
}

// Push runs `docker push ref`, logging in first when auth is set.
func (d *Docker) Push(ctx context.Context, ref string, auth *registry.AuthConfig) (*Progress, error) {
	if err := d.login(ctx, auth); err != nil {
		return nil, err
	}
	return d.stream(ctx, nil, "push", ref)
}

// buildArgs constructs the docker build argument list.
func buildArgs(opts BuildOptions) []string {
	args := []string{"build", "--progress=plain"}

	if opts.Dockerfile != "" {
		args = append(args, "--file", opts.Dockerfile)
	}

	// Sorted so the command line is stable across runs.
	keys := make([]string, 0, len(opts.BuildArgs))
	for k := range opts.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", k, opts.BuildArgs[k]))
	}

	if opts.Tag != "" {
		args = append(args, "--tag", opts.Tag)
	}

	// Build context arrives on stdin as a tar stream.
	return append(args, "-")
}

// login authenticates the CLI against auth.ServerAddress. A nil or empty
// auth is a no-op.
func (d *Docker) login(ctx context.Context, auth *registry.AuthConfig) error {
	if auth == nil || auth.Empty() {
		return nil
	}

	d.loginMu.Lock()
	defer d.loginMu.Unlock()

	args := []string{"login"}
	secret := auth.Password
	if auth.IdentityToken != "" && auth.Username == "" {
		args = append(args, "--username", "<token>")
		secret = auth.IdentityToken
	} else {
		args = append(args, "--username", auth.Username)
	}
	args = append(args, "--password-stdin")
	if auth.ServerAddress != "" && auth.ServerAddress != registry.DefaultRegistry {
		args = append(args, auth.ServerAddress)
	}

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdin = strings.NewReader(secret)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("docker login %s: %w: %s", auth.ServerAddress, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// stream starts the command and returns a Progress fed by its combined
// stdout and stderr. The stream fails when the command exits non-zero.
func (d *Docker) stream(ctx context.Context, stdin io.Reader, args ...string) (*Progress, error) {
	log.WithField("args", strings.Join(args, " ")).Debug("exec: " + d.Binary)

	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stdin = stdin
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("docker %s: %w", args[0], err)
	}

	p := NewProgress()
	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	go func() {
		var last string
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			p.Emit(lineEvent(line))
			last = line
		}
		// Keep draining if the scanner gave up so Wait can return.
		if _, err := io.Copy(io.Discard, pr); err != nil {
			log.WithError(err).Debug("draining command output")
		}

		err := <-waitErr
		if err != nil {
			err = fmt.Errorf("docker %s: %w", args[0], err)
			if last != "" {
				err = fmt.Errorf("%w: %s", err, last)
			}
			log.WithError(err).WithFields(logrus.Fields{"args": strings.Join(args, " ")}).Debug("command failed")
		}
		p.Close(err)
	}()

	return p, nil
}

// layerIDRe matches pull/push progress lines: "a1b2c3d4e5f6: Pull complete".
var layerIDRe = regexp.MustCompile(`^([0-9a-f]{12}): (.+)$`)

// lineEvent classifies one line of CLI output.
func lineEvent(line string) build.ProgressEvent {
	switch {
	case strings.HasPrefix(line, "Error response from daemon:"),
		strings.HasPrefix(line, "ERROR:"),
		strings.HasPrefix(line, "error:"):
		return build.ProgressEvent{Error: line}
	}
	if m := layerIDRe.FindStringSubmatch(line); m != nil {
		return build.ProgressEvent{ID: m[1], Status: m[2]}
	}
	return build.ProgressEvent{Stream: line}
}
