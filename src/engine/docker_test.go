package engine

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/registry"
)

// fakeCLI writes a shell script standing in for the docker binary.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake CLI needs a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "docker")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func collect(t *testing.T, p *Progress) ([]build.ProgressEvent, error) {
	t.Helper()
	var events []build.ProgressEvent
	err := Follow(p, func(ev build.ProgressEvent) {
		events = append(events, ev)
	})
	return events, err
}

func TestBuildArgs(t *testing.T) {
	got := buildArgs(BuildOptions{
		Tag:        "repo:latest",
		Dockerfile: "docker/Dockerfile",
		BuildArgs:  map[string]string{"VERSION": "1.2.3", "COMMIT": "abc"},
	})
	want := []string{
		"build", "--progress=plain",
		"--file", "docker/Dockerfile",
		"--build-arg", "COMMIT=abc",
		"--build-arg", "VERSION=1.2.3",
		"--tag", "repo:latest",
		"-",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("buildArgs:\n got %v\nwant %v", got, want)
	}
}

func TestLineEvent(t *testing.T) {
	tests := []struct {
		line string
		want build.ProgressEvent
	}{
		{"#5 [2/3] RUN make", build.ProgressEvent{Stream: "#5 [2/3] RUN make"}},
		{"a1b2c3d4e5f6: Pull complete", build.ProgressEvent{ID: "a1b2c3d4e5f6", Status: "Pull complete"}},
		{"Error response from daemon: manifest unknown", build.ProgressEvent{Error: "Error response from daemon: manifest unknown"}},
		{"ERROR: failed to solve", build.ProgressEvent{Error: "ERROR: failed to solve"}},
	}
	for _, tt := range tests {
		if got := lineEvent(tt.line); got != tt.want {
			t.Errorf("lineEvent(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestDockerStreamSuccess(t *testing.T) {
	bin := fakeCLI(t, `echo "cmd: $1"
echo ""
echo "a1b2c3d4e5f6: Pushed"`)

	d := NewDocker(bin)
	p, err := d.Push(context.Background(), "repo:latest", nil)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	events, err := collect(t, p)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (blank lines skipped): %+v", len(events), events)
	}
	if events[0].Stream != "cmd: push" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].ID != "a1b2c3d4e5f6" {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestDockerStreamFailure(t *testing.T) {
	bin := fakeCLI(t, `echo "step one"
echo "ERROR: failed to solve" 1>&2
exit 3`)

	d := NewDocker(bin)
	p, err := d.Tag(context.Background(), "repo:latest", "repo", "v1")
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	events, err := collect(t, p)
	if err == nil {
		t.Fatal("expected stream failure")
	}
	if !strings.Contains(err.Error(), "failed to solve") {
		t.Errorf("error %q does not carry last output line", err)
	}
	if len(events) != 2 || events[1].Error == "" {
		t.Errorf("events = %+v", events)
	}
}

func TestDockerBuildReadsContextFromStdin(t *testing.T) {
	bin := fakeCLI(t, `cat -`)

	d := NewDocker(bin)
	p, err := d.Build(context.Background(), strings.NewReader("context-bytes\n"), BuildOptions{Tag: "repo:latest"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	events, err := collect(t, p)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(events) != 1 || events[0].Stream != "context-bytes" {
		t.Errorf("events = %+v", events)
	}
}

func TestDockerLoginFailureAbortsPull(t *testing.T) {
	bin := fakeCLI(t, `if [ "$1" = "login" ]; then echo "denied"; exit 1; fi
echo pulled`)

	d := NewDocker(bin)
	auth := &registry.AuthConfig{Username: "u", Password: "p", ServerAddress: "ghcr.io"}
	if _, err := d.Pull(context.Background(), "ghcr.io/org/app:latest", auth); err == nil {
		t.Fatal("expected login error")
	}
}

func TestDockerStartError(t *testing.T) {
	d := NewDocker(filepath.Join(t.TempDir(), "missing"))
	if _, err := d.Pull(context.Background(), "repo:latest", nil); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestProgressCompleted(t *testing.T) {
	p := Completed(nil)
	if err := Follow(p, nil); err != nil {
		t.Errorf("Completed(nil) = %v", err)
	}

	p = NewProgress()
	go func() {
		p.Emit(build.ProgressEvent{Stream: "x"})
		p.Close(os.ErrClosed)
		p.Close(nil) // ignored
	}()
	events, err := collect(t, p)
	if err != os.ErrClosed {
		t.Errorf("err = %v, want %v", err, os.ErrClosed)
	}
	if len(events) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestFollowNilStream(t *testing.T) {
	called := false
	if err := Follow(nil, func(build.ProgressEvent) { called = true }); err != nil {
		t.Errorf("Follow(nil) = %v, want nil", err)
	}
	if called {
		t.Error("onEvent called for a nil stream")
	}
}
