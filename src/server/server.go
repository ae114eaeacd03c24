// Package server exposes the build scheduler over HTTP: job submission,
// status and output queries, SVG badges and a websocket status stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/badge"
	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/config"
	"github.com/sofmeright/freightqueue/src/logging"
	"github.com/sofmeright/freightqueue/src/queue"
	"github.com/sofmeright/freightqueue/src/registry"
	"github.com/sofmeright/freightqueue/src/source"
	"github.com/sofmeright/freightqueue/src/status"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "server")

const shutdownTimeout = 10 * time.Second

// Scheduler is the part of the build scheduler the API drives.
type Scheduler interface {
	Submit(opts build.Options) *build.Job
	Get(id string) (*build.Job, error)
	List() []*build.Job
	Queued() []*build.Job
	Stats() queue.Stats
}

// SnapshotStore answers lookups for jobs the scheduler no longer remembers.
type SnapshotStore interface {
	Lookup(ctx context.Context, id string) (build.Snapshot, error)
}

// SnapshotLister is implemented by stores that can also list the most
// recently queued jobs, newest first.
type SnapshotLister interface {
	Recent(ctx context.Context, limit int) ([]build.Snapshot, error)
}

// storeListLimit caps how many stored jobs GET /api/builds adds to the ones
// the scheduler still remembers.
const storeListLimit = 100

// Options wires the server's collaborators.
type Options struct {
	Scheduler Scheduler // required
	Hub       *status.Hub
	Store     SnapshotStore
	Badges    *badge.Engine
	Label     string // badge label, default "build"

	// Registries is attached to every submitted job. Clients cannot supply
	// credentials.
	Registries map[string]registry.AuthConfig

	AllowedRepos     *config.Patterns
	AllowedProviders []string // empty allows every registered provider
}

// Server serves the build API.
type Server struct {
	opts     Options
	router   *mux.Router
	upgrader websocket.Upgrader
}

// New creates a server and its routes.
func New(opts Options) (*Server, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("server: scheduler is required")
	}
	if opts.Label == "" {
		opts.Label = "build"
	}
	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/builds", s.submit).Methods(http.MethodPost)
	api.HandleFunc("/builds", s.list).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}", s.get).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}/output", s.output).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}/layers", s.layers).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}/badge.svg", s.badge).Methods(http.MethodGet)
	api.HandleFunc("/builds/{id}/events", s.events).Methods(http.MethodGet)
	api.HandleFunc("/queue", s.queue).Methods(http.MethodGet)
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", addr).Info("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// validate rejects submissions the server is not configured to accept.
func (s *Server) validate(opts build.Options) error {
	if opts.Repo == "" {
		return errors.New("repo is required")
	}
	if !s.opts.AllowedRepos.Match(opts.Repo) {
		return fmt.Errorf("repository %s is not allowed", opts.Repo)
	}

	provider := opts.Provider
	if provider == "" {
		provider = source.DefaultProvider
	}
	if len(s.opts.AllowedProviders) > 0 && !slices.Contains(s.opts.AllowedProviders, provider) {
		return fmt.Errorf("provider %s is not allowed", provider)
	}
	if _, err := source.Get(provider); err != nil {
		return err
	}
	return nil
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"code":     rec.code,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
