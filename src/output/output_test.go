package output

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sofmeright/freightqueue/src/build"
)

func finished(repo string, status build.Status, secs int) build.Snapshot {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Duration(secs) * time.Second)
	return build.Snapshot{
		ID:         "0123456789abcdef",
		Repo:       repo,
		Status:     status,
		Tags:       []string{repo + ":latest"},
		StartedAt:  &start,
		FinishedAt: &end,
	}
}

func TestBuildSection(t *testing.T) {
	snap := finished("ghcr.io/acme/api", build.StatusSuccess, 12)
	snap.BuildOutput = []build.ProgressEvent{
		{Stream: "#4 [builder 1/3] FROM docker.io/library/golang:1.25@sha256:abcdef AS builder"},
		{Stream: "#4 CACHED"},
		{Stream: "#7 [builder 2/3] RUN go build ./..."},
		{Stream: "#7 DONE 8.4s"},
	}

	t.Setenv("GITLAB_CI", "")
	var buf bytes.Buffer
	BuildSection(&buf, snap, false)
	out := buf.String()

	for _, want := range []string{
		"── ghcr.io/acme/api ",
		" success 12.0s ──",
		"success · 01234567 ✓",
		"ghcr.io/acme/api:latest",
		"builder 1/3",
		"docker.io/library/golang:1.25",
		"cached",
		"RUN go build ./...",
		"8.4s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("section missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("color codes without color")
	}
	if strings.Contains(out, "section_start") {
		t.Error("GitLab log section outside GitLab CI")
	}
}

func TestBuildSectionCollapsesOutputOnGitLab(t *testing.T) {
	t.Setenv("GITLAB_CI", "true")
	snap := finished("app", build.StatusFailure, 3)
	snap.BuildOutput = []build.ProgressEvent{{Stream: "Step 1/2 : FROM scratch\nStep 2/2 : COPY . ."}, {Error: "no such file"}}

	var buf bytes.Buffer
	BuildSection(&buf, snap, false)
	out := buf.String()

	start := strings.Index(out, ":fq_output_01234567[collapsed=true]\r")
	end := strings.Index(out, ":fq_output_01234567\r")
	if start < 0 || end < start {
		t.Fatalf("collapsed output section missing:\n%q", out)
	}
	if !strings.Contains(out[:start], "└") {
		t.Error("log section opened before the job section closed")
	}
	tail := out[start:end]
	for _, want := range []string{"build output: app", "      Step 2/2 : COPY . .", "      no such file"} {
		if !strings.Contains(tail, want) {
			t.Errorf("log section missing %q:\n%s", want, tail)
		}
	}
}

func TestJobSectionStates(t *testing.T) {
	tests := []struct {
		name     string
		snap     build.Snapshot
		position int
		want     []string
		not      []string
	}{
		{
			name:     "waiting",
			snap:     build.Snapshot{ID: "0123456789abcdef", Repo: "api", Status: build.StatusQueued},
			position: 3,
			want:     []string{"── api ", " queued #3 ──", "queued · 01234567 ○"},
		},
		{
			name: "building",
			snap: build.Snapshot{
				ID: "0123456789abcdef", Repo: "api", Status: build.StatusBuilding,
				Tags:        []string{"api:1.2.0", "api:latest"},
				BuildOutput: []build.ProgressEvent{
					{Stream: "#5 [builder 2/3] RUN go build ./..."},
					{Stream: "#5 DONE 4.1s"},
					{Stream: "#6 [builder 3/3] RUN go test ./..."},
				},
			},
			want: []string{" building ──", "last step builder 2/3 RUN", "  api:1.2.0", "  api:latest"},
		},
		{
			name: "finished",
			snap: finished("api", build.StatusSuccess, 2),
			want: []string{" success 2.0s ──", "  api:latest"},
			not:  []string{"last step"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sec := NewJobSection(&buf, tt.snap, tt.position, false)
			sec.JobRows(tt.snap)
			sec.Close()
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("missing %q:\n%s", want, out)
				}
			}
			for _, not := range tt.not {
				if strings.Contains(out, "│ "+not) {
					t.Errorf("unexpected %q:\n%s", not, out)
				}
			}
		})
	}
}

func TestQueueSection(t *testing.T) {
	snaps := []build.Snapshot{
		{ID: "a", Repo: "api", Status: build.StatusBuilding},
		{ID: "b", Repo: "worker", Status: build.StatusQueued},
		{ID: "c", Repo: "web", Status: build.StatusQueued},
	}

	var buf bytes.Buffer
	QueueSection(&buf, snaps, []string{"c", "b"}, false)
	out := buf.String()

	api := strings.Index(out, "▸    api")
	web := strings.Index(out, "#1   web")
	worker := strings.Index(out, "#2   worker")
	if api < 0 || web < 0 || worker < 0 {
		t.Fatalf("rows missing:\n%s", out)
	}
	if !(api < web && web < worker) {
		t.Errorf("rows out of order:\n%s", out)
	}
	if !strings.Contains(out, "queued #2") || !strings.Contains(out, "1 building, 2 waiting for a slot") {
		t.Errorf("queue state missing:\n%s", out)
	}
}

func TestBuildSectionShowsError(t *testing.T) {
	snap := finished("app", build.StatusFailure, 1)
	snap.Error = "building app:latest: exit status 1"

	var buf bytes.Buffer
	BuildSection(&buf, snap, true)
	out := buf.String()
	if !strings.Contains(out, colorRed+"building app:latest: exit status 1"+colorReset) {
		t.Errorf("error row missing:\n%s", out)
	}
	if !strings.Contains(out, "\033[31m✗") {
		t.Error("failure icon missing")
	}
}

func TestSummary(t *testing.T) {
	var buf bytes.Buffer
	ok := Summary(&buf, []build.Snapshot{
		finished("api", build.StatusSuccess, 30),
		finished("worker", build.StatusSuccess, 90),
	}, false)
	if !ok {
		t.Error("Summary = false for all successes")
	}
	if !strings.Contains(buf.String(), "1m30.0s") {
		t.Errorf("total elapsed missing:\n%s", buf.String())
	}

	buf.Reset()
	failed := finished("worker", build.StatusFailure, 5)
	failed.Error = "pushing worker:latest: denied"
	if Summary(&buf, []build.Snapshot{finished("api", build.StatusSuccess, 3), failed}, false) {
		t.Error("Summary = true with a failure")
	}
	if !strings.Contains(buf.String(), "denied") {
		t.Errorf("failure detail missing:\n%s", buf.String())
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[string]string{
		"success":  "✓",
		"failure":  "✗",
		"building": "…",
		"queued":   "○",
		"unknown":  "⊘",
	}
	for status, want := range tests {
		if got := StatusIcon(status, false); got != want {
			t.Errorf("StatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("registry.example.com", 12); got != "registry...." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}

func TestWriteBuildJUnit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	failed := finished("api", build.StatusFailure, 4)
	failed.Error = "building api:latest: exit status 1"
	failed.BuildOutput = []build.ProgressEvent{{Stream: "step one\nstep two"}, {Error: "exit status 1"}}

	snaps := []build.Snapshot{finished("api", build.StatusSuccess, 2), failed, finished("web", build.StatusSuccess, 1)}
	if err := WriteBuildJUnit(dir, snaps); err != nil {
		t.Fatalf("WriteBuildJUnit: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "builds.xml"))
	if err != nil {
		t.Fatal(err)
	}
	var got JUnitTestSuites
	if err := xml.Unmarshal(data, &got); err != nil {
		t.Fatalf("parsing report: %v", err)
	}

	if got.Tests != 3 || got.Failures != 1 || len(got.Suites) != 2 {
		t.Fatalf("report = %+v", got)
	}
	api := got.Suites[0]
	if api.Name != "api" || api.Tests != 2 || api.Failures != 1 || api.Time != "6.000" {
		t.Errorf("api suite = %+v", api)
	}
	f := api.Cases[1].Failure
	if f == nil || f.Type != "failure" || f.Body != "step one\nstep two\nexit status 1" {
		t.Errorf("failure = %+v", f)
	}
}
