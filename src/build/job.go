package build

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sofmeright/freightqueue/src/registry"
)

// Options is the immutable input of a build job.
type Options struct {
	// Repo is the image repository, e.g. "registry.example.com/team/app".
	Repo string `json:"repo" yaml:"repo"`

	// Tags are tag templates resolved by ResolveTags. Default: ["latest"].
	Tags []string `json:"tags,omitempty" yaml:"tags"`

	// Version, Commit and Branch feed the {version}, {sha} and {branch}
	// tag templates.
	Version string `json:"version,omitempty" yaml:"version"`
	Commit  string `json:"commit,omitempty" yaml:"commit"`
	Branch  string `json:"branch,omitempty" yaml:"branch"`

	BuildArgs  map[string]string `json:"build_args,omitempty" yaml:"build_args"`
	Dockerfile string            `json:"dockerfile,omitempty" yaml:"dockerfile"`

	// Provider selects the build-context provider: local, git, url.
	Provider string `json:"provider,omitempty" yaml:"provider"`
	// Source is the provider-specific location (directory, clone URL, archive URL).
	Source string `json:"source,omitempty" yaml:"source"`
	// Ref is the git branch or tag to check out (git provider only).
	Ref string `json:"ref,omitempty" yaml:"ref"`

	// RegistryConfig maps registry hosts to credentials. Never serialized.
	RegistryConfig map[string]registry.AuthConfig `json:"-" yaml:"-"`
}

// ProgressEvent is one unit of engine progress, shaped like the Docker
// engine's JSON message stream.
type ProgressEvent struct {
	Stream   string `json:"stream,omitempty"`
	Status   string `json:"status,omitempty"`
	ID       string `json:"id,omitempty"`
	Progress string `json:"progress,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Text returns the human-readable content of the event.
func (e ProgressEvent) Text() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Stream != "":
		return e.Stream
	case e.ID != "":
		return e.ID + ": " + e.Status
	default:
		return e.Status
	}
}

// Image is the mutable record of a job's progress.
type Image struct {
	Status      Status
	Tags        []string
	BuildOutput []ProgressEvent
	Error       error // set only when Status is StatusFailure
	QueuedAt    time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Job is one submitted image build. Its completion handle (Done) is closed
// exactly once, after the job reached a terminal status and that status was
// published. Failures are reported through the image record, never through
// the handle.
type Job struct {
	ID      string
	Options Options

	mu    sync.Mutex
	image Image

	publishMu sync.Mutex
	done      chan struct{}
	once      sync.Once
}

// NewJob creates a queued job with a fresh ID.
func NewJob(opts Options) *Job {
	return &Job{
		ID:      uuid.New().String(),
		Options: opts,
		image: Image{
			Status:   StatusQueued,
			QueuedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
}

// Status returns the job's current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.image.Status
}

// Advance moves the job to next. A transition that would regress the
// status, or leave a terminal one, is a programming error and panics.
func (j *Job) Advance(next Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.advanceLocked(next)
}

func (j *Job) advanceLocked(next Status) {
	cur := j.image.Status
	if !cur.canAdvance(next) {
		panic(fmt.Sprintf("build: job %s: status cannot move from %s to %s", j.ID, cur, next))
	}
	j.image.Status = next
	now := time.Now()
	switch {
	case next == StatusBuilding:
		j.image.StartedAt = now
	case next.Terminal():
		j.image.FinishedAt = now
	}
}

// Succeed marks the job successful.
func (j *Job) Succeed() {
	j.Advance(StatusSuccess)
}

// Fail records err and marks the job failed.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.image.Error = err
	j.advanceLocked(StatusFailure)
}

// SetTags records the resolved image references.
func (j *Job) SetTags(tags []string) {
	j.mu.Lock()
	j.image.Tags = append([]string(nil), tags...)
	j.mu.Unlock()
}

// ResetOutput empties the build output.
func (j *Job) ResetOutput() {
	j.mu.Lock()
	j.image.BuildOutput = []ProgressEvent{}
	j.mu.Unlock()
}

// AppendOutput adds a build progress event.
func (j *Job) AppendOutput(ev ProgressEvent) {
	j.mu.Lock()
	j.image.BuildOutput = append(j.image.BuildOutput, ev)
	j.mu.Unlock()
}

// Image returns a copy of the job's image record.
func (j *Job) Image() Image {
	j.mu.Lock()
	defer j.mu.Unlock()
	img := j.image
	img.Tags = append([]string(nil), j.image.Tags...)
	img.BuildOutput = append([]ProgressEvent(nil), j.image.BuildOutput...)
	return img
}

// Publish hands a snapshot of the job to fn. Calls are serialized per job
// and the snapshot is taken inside the lock, so publishers never observe an
// older state after a newer one.
func (j *Job) Publish(fn func(Snapshot) error) error {
	j.publishMu.Lock()
	defer j.publishMu.Unlock()
	return fn(j.Snapshot())
}

// PublishIf is Publish restricted to a job still in status want. It reports
// whether fn was called; a job that has moved on is left to the publish of
// its newer status.
func (j *Job) PublishIf(want Status, fn func(Snapshot) error) (bool, error) {
	j.publishMu.Lock()
	defer j.publishMu.Unlock()
	snap := j.Snapshot()
	if snap.Status != want {
		return false, nil
	}
	return true, fn(snap)
}

// Done returns the completion handle.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job completes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Complete closes the completion handle. Only the first call has an effect;
// it reports whether this call closed the handle.
func (j *Job) Complete() bool {
	closed := false
	j.once.Do(func() {
		close(j.done)
		closed = true
	})
	return closed
}
