// Package queue admits image build jobs and runs them through the build
// pipeline while capping how many build at once.
//
// Submitted jobs wait in a FIFO queue. Whenever a slot is free the oldest
// queued job is marked building and its pipeline runs on its own goroutine:
//
//	pull (failures ignored) → build → tag extras → push → report
//
// When a pipeline finishes, its job's completion handle is closed and the
// queue is drained again.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/engine"
	"github.com/sofmeright/freightqueue/src/logging"
	"github.com/sofmeright/freightqueue/src/registry"
	"github.com/sofmeright/freightqueue/src/source"
	"github.com/sofmeright/freightqueue/src/status"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "queue")

// DefaultHistorySize is how many finished jobs stay queryable when the
// config sets no size.
const DefaultHistorySize = 256

var (
	// ErrJobNotFound is returned for IDs the scheduler does not know.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrNotBuilding is returned by Adopt for jobs that are not building.
	ErrNotBuilding = errors.New("queue: adopted job must be building")
)

// TagResolver expands a job's options into image references. The first
// reference is the primary one.
type TagResolver interface {
	ResolveTags(opts build.Options) ([]string, error)
}

// TagResolverFunc adapts a function to TagResolver.
type TagResolverFunc func(opts build.Options) ([]string, error)

func (f TagResolverFunc) ResolveTags(opts build.Options) ([]string, error) { return f(opts) }

// AuthResolver returns the credentials for a job's repository, or nil.
type AuthResolver interface {
	Auth(opts build.Options) *registry.AuthConfig
}

// AuthResolverFunc adapts a function to AuthResolver.
type AuthResolverFunc func(opts build.Options) *registry.AuthConfig

func (f AuthResolverFunc) Auth(opts build.Options) *registry.AuthConfig { return f(opts) }

// ContextOpener produces a job's build context as a tar stream.
type ContextOpener interface {
	Open(ctx context.Context, opts build.Options) (io.ReadCloser, error)
}

// ContextOpenerFunc adapts a function to ContextOpener.
type ContextOpenerFunc func(ctx context.Context, opts build.Options) (io.ReadCloser, error)

func (f ContextOpenerFunc) Open(ctx context.Context, opts build.Options) (io.ReadCloser, error) {
	return f(ctx, opts)
}

// Config holds the scheduler limits.
type Config struct {
	// MaxConcurrentBuilds caps jobs in the building state. Zero admits
	// nothing: jobs queue but never start.
	MaxConcurrentBuilds int

	// HistorySize bounds how many finished jobs remain queryable.
	HistorySize int
}

// Deps are the scheduler's collaborators. Only Engine is required.
type Deps struct {
	Engine    engine.Client
	Tags      TagResolver      // default: build.ResolveTags
	Auth      AuthResolver     // default: registry.Lookup on Options.RegistryConfig
	Sources   ContextOpener    // default: source.Open
	Publisher status.Publisher // default: status.Discard
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	MaxConcurrentBuilds int `json:"max_concurrent_builds"`
	Queued              int `json:"queued"`
	Building            int `json:"building"`
	Adopted             int `json:"adopted"`
	Submitted           int `json:"submitted"`
	Succeeded           int `json:"succeeded"`
	Failed              int `json:"failed"`
}

// Scheduler is the admission controller and pipeline runner.
type Scheduler struct {
	ctx  context.Context
	cfg  Config
	deps Deps

	mu      sync.Mutex
	queue   []*build.Job
	known   map[string]*build.Job // submitted and unfinished, plus adopted
	adopted map[string]bool
	history *lru.Cache[string, *build.Job]

	submitted, succeeded, failed int
}

// New creates a scheduler. ctx is handed to every engine call and publish;
// cancelling it aborts running pipelines.
func New(ctx context.Context, cfg Config, deps Deps) (*Scheduler, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("queue: an engine client is required")
	}
	if deps.Tags == nil {
		deps.Tags = TagResolverFunc(build.ResolveTags)
	}
	if deps.Auth == nil {
		deps.Auth = AuthResolverFunc(func(opts build.Options) *registry.AuthConfig {
			return registry.Lookup(opts.RegistryConfig, opts.Repo)
		})
	}
	if deps.Sources == nil {
		deps.Sources = ContextOpenerFunc(source.Open)
	}
	if deps.Publisher == nil {
		deps.Publisher = status.Discard
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	history, err := lru.New[string, *build.Job](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("queue: creating history: %w", err)
	}

	return &Scheduler{
		ctx:     ctx,
		cfg:     cfg,
		deps:    deps,
		known:   map[string]*build.Job{},
		adopted: map[string]bool{},
		history: history,
	}, nil
}

// Submit creates a job for opts and queues it. If no build slot is free the
// job's queued status is published and it waits; otherwise the queue is
// drained and, with an empty queue ahead of it, the job is already building
// when Submit returns. Wait on the job's Done channel for completion.
func (s *Scheduler) Submit(opts build.Options) *build.Job {
	job := build.NewJob(opts)

	s.mu.Lock()
	s.known[job.ID] = job
	s.queue = append(s.queue, job)
	s.submitted++
	full := s.atCapacityLocked()
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		logging.JobID: job.ID,
		logging.Repo:  opts.Repo,
	}).Debug("job submitted")

	if full {
		s.publishQueued(job)
		return job
	}
	s.drain()
	return job
}

// drain starts queued jobs, oldest first, until the queue is empty or every
// slot is taken. It is safe to call at any time.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.atCapacityLocked() {
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		job.Advance(build.StatusBuilding)
		s.mu.Unlock()

		go s.start(job)
	}
}

// atCapacityLocked reports whether no build slot is free. s.mu must be held.
func (s *Scheduler) atCapacityLocked() bool {
	return s.buildingLocked() >= s.cfg.MaxConcurrentBuilds
}

func (s *Scheduler) buildingLocked() int {
	n := 0
	for _, j := range s.known {
		if j.Status() == build.StatusBuilding {
			n++
		}
	}
	return n
}

func (s *Scheduler) start(job *build.Job) {
	s.publish(job)
	s.run(job)
}

// run executes the pipeline and finalizes the job. Whatever happens, the
// completion handle is closed and the queue drained afterwards.
func (s *Scheduler) run(job *build.Job) {
	defer s.drain()
	defer s.complete(job)
	defer func() {
		if r := recover(); r != nil {
			log.WithField(logging.JobID, job.ID).Errorf("pipeline panicked: %v", r)
			if !job.Status().Terminal() {
				job.Fail(fmt.Errorf("pipeline panicked: %v", r))
				s.publish(job)
			}
		}
	}()

	if err := s.pipeline(job); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			logging.JobID: job.ID,
			logging.Repo:  job.Options.Repo,
		}).Warn("build failed")
		job.Fail(err)
	} else {
		job.Succeed()
	}
	s.publish(job)
}

// complete moves a finished job into history and closes its handle.
func (s *Scheduler) complete(job *build.Job) {
	s.mu.Lock()
	s.history.Add(job.ID, job)
	delete(s.known, job.ID)
	switch job.Status() {
	case build.StatusSuccess:
		s.succeeded++
	case build.StatusFailure:
		s.failed++
	}
	s.mu.Unlock()

	job.Complete()
}

// publish reports the job's current state. Publisher errors and panics are
// logged and never reach the pipeline.
func (s *Scheduler) publish(job *build.Job) {
	s.send(job, func(fn func(build.Snapshot) error) error {
		return job.Publish(fn)
	})
}

// publishQueued publishes job only while it is still queued. Submit calls it
// outside the scheduler lock, by which time another drain may already have
// started or even finished the job.
func (s *Scheduler) publishQueued(job *build.Job) {
	s.send(job, func(fn func(build.Snapshot) error) error {
		sent, err := job.PublishIf(build.StatusQueued, fn)
		if !sent {
			log.WithField(logging.JobID, job.ID).Debug("job left the queue before its queued status was published")
		}
		return err
	})
}

func (s *Scheduler) send(job *build.Job, via func(func(build.Snapshot) error) error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField(logging.JobID, job.ID).Errorf("status publisher panicked: %v", r)
		}
	}()

	err := via(func(snap build.Snapshot) error {
		return s.deps.Publisher.Publish(s.ctx, snap)
	})
	if err != nil {
		log.WithError(err).WithField(logging.JobID, job.ID).Warn("publishing status")
	}
}

func (s *Scheduler) pipeline(job *build.Job) error {
	ctx := s.ctx
	opts := job.Options

	tags, err := s.deps.Tags.ResolveTags(opts)
	if err != nil {
		return fmt.Errorf("resolving tags: %w", err)
	}
	if len(tags) == 0 {
		return fmt.Errorf("resolving tags: no tags for %s", opts.Repo)
	}
	job.SetTags(tags)
	primary := tags[0]
	auth := s.deps.Auth.Auth(opts)

	s.pull(ctx, job, primary, auth)

	if err := s.build(ctx, job, primary); err != nil {
		return err
	}
	if err := s.tagExtras(ctx, job, primary, tags[1:]); err != nil {
		return err
	}
	return s.push(ctx, job, tags, auth)
}

// pull warms the layer cache with the previous image. Any failure, including
// one to start the pull, is ignored: the image may simply not exist yet.
func (s *Scheduler) pull(ctx context.Context, job *build.Job, ref string, auth *registry.AuthConfig) {
	entry := log.WithFields(logrus.Fields{
		logging.JobID: job.ID,
		logging.Step:  "pull",
		logging.Tag:   ref,
	})
	p, err := s.deps.Engine.Pull(ctx, ref, auth)
	if err == nil {
		err = engine.Follow(p, nil)
	}
	if err != nil {
		entry.WithError(err).Debug("pull failed, continuing")
	}
}

func (s *Scheduler) build(ctx context.Context, job *build.Job, tag string) error {
	job.ResetOutput()

	buildCtx, err := s.deps.Sources.Open(ctx, job.Options)
	if err != nil {
		return fmt.Errorf("opening build context: %w", err)
	}
	defer buildCtx.Close()

	p, err := s.deps.Engine.Build(ctx, buildCtx, engine.BuildOptions{
		Tag:        tag,
		Dockerfile: job.Options.Dockerfile,
		BuildArgs:  job.Options.BuildArgs,
		Auths:      registry.Entries(job.Options.RegistryConfig),
	})
	if err != nil {
		return fmt.Errorf("building %s: %w", tag, err)
	}
	if err := engine.Follow(p, job.AppendOutput); err != nil {
		return fmt.Errorf("building %s: %w", tag, err)
	}
	return nil
}

// tagExtras applies every extra reference to the primary image in parallel.
func (s *Scheduler) tagExtras(ctx context.Context, job *build.Job, primary string, extras []string) error {
	return each(ctx, extras, func(ctx context.Context, ref string) error {
		repo, tag := build.SplitRef(ref)
		p, err := s.deps.Engine.Tag(ctx, primary, repo, tag)
		if err == nil {
			err = engine.Follow(p, nil)
		}
		if err != nil {
			return fmt.Errorf("tagging %s: %w", ref, err)
		}
		log.WithFields(logrus.Fields{logging.JobID: job.ID, logging.Tag: ref}).Debug("tagged")
		return nil
	})
}

// push uploads every reference in parallel with the job's credentials.
func (s *Scheduler) push(ctx context.Context, job *build.Job, refs []string, auth *registry.AuthConfig) error {
	return each(ctx, refs, func(ctx context.Context, ref string) error {
		p, err := s.deps.Engine.Push(ctx, ref, auth)
		if err == nil {
			err = engine.Follow(p, nil)
		}
		if err != nil {
			return fmt.Errorf("pushing %s: %w", ref, err)
		}
		log.WithFields(logrus.Fields{logging.JobID: job.ID, logging.Tag: ref}).Debug("pushed")
		return nil
	})
}

// Get returns a known or recently finished job.
func (s *Scheduler) Get(id string) (*build.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.known[id]; ok {
		return j, nil
	}
	if j, ok := s.history.Get(id); ok {
		return j, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// List returns every known and remembered job, oldest first.
func (s *Scheduler) List() []*build.Job {
	s.mu.Lock()
	jobs := make([]*build.Job, 0, len(s.known)+s.history.Len())
	for _, j := range s.known {
		jobs = append(jobs, j)
	}
	for _, j := range s.history.Values() {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	sortByQueued(jobs)
	return jobs
}

// Queued returns the waiting jobs in admission order.
func (s *Scheduler) Queued() []*build.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*build.Job(nil), s.queue...)
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		MaxConcurrentBuilds: s.cfg.MaxConcurrentBuilds,
		Queued:              len(s.queue),
		Building:            s.buildingLocked(),
		Adopted:             len(s.adopted),
		Submitted:           s.submitted,
		Succeeded:           s.succeeded,
		Failed:              s.failed,
	}
}

// Adopt counts a job that is building outside this scheduler against its
// capacity until Release is called.
func (s *Scheduler) Adopt(job *build.Job) error {
	if job.Status() != build.StatusBuilding {
		return fmt.Errorf("%w: %s is %s", ErrNotBuilding, job.ID, job.Status())
	}
	s.mu.Lock()
	s.known[job.ID] = job
	s.adopted[job.ID] = true
	s.mu.Unlock()
	return nil
}

// Release stops counting an adopted job and drains the queue.
func (s *Scheduler) Release(id string) error {
	s.mu.Lock()
	if !s.adopted[id] {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s was not adopted", ErrJobNotFound, id)
	}
	delete(s.adopted, id)
	delete(s.known, id)
	s.mu.Unlock()

	s.drain()
	return nil
}

func sortByQueued(jobs []*build.Job) {
	queued := make(map[*build.Job]int64, len(jobs))
	for _, j := range jobs {
		queued[j] = j.Image().QueuedAt.UnixNano()
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		return queued[jobs[a]] < queued[jobs[b]]
	})
}

// each runs fn for every ref concurrently. The first failure cancels the
// rest and is returned.
func each(ctx context.Context, refs []string, fn func(context.Context, string) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error { return fn(ctx, ref) })
	}
	return g.Wait()
}
