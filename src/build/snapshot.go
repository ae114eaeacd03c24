package build

import "time"

// Snapshot is the serializable view of a job handed to status publishers
// and API clients. Credentials are never included.
type Snapshot struct {
	ID          string            `json:"id"`
	Repo        string            `json:"repo"`
	Provider    string            `json:"provider,omitempty"`
	Source      string            `json:"source,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	BuildOutput []ProgressEvent   `json:"build_output,omitempty"`
	BuildArgs   map[string]string `json:"build_args,omitempty"`
	QueuedAt    time.Time         `json:"queued_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

// Snapshot returns the job's current state.
func (j *Job) Snapshot() Snapshot {
	img := j.Image()
	s := Snapshot{
		ID:          j.ID,
		Repo:        j.Options.Repo,
		Provider:    j.Options.Provider,
		Source:      j.Options.Source,
		Tags:        img.Tags,
		Status:      img.Status,
		BuildOutput: img.BuildOutput,
		BuildArgs:   j.Options.BuildArgs,
		QueuedAt:    img.QueuedAt,
	}
	if img.Error != nil {
		s.Error = img.Error.Error()
	}
	if !img.StartedAt.IsZero() {
		t := img.StartedAt
		s.StartedAt = &t
	}
	if !img.FinishedAt.IsZero() {
		t := img.FinishedAt
		s.FinishedAt = &t
	}
	return s
}

// Duration returns how long the build ran, or zero if it has not finished.
func (s Snapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}
