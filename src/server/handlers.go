package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/badge"
	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
	"github.com/sofmeright/freightqueue/src/queue"
	"github.com/sofmeright/freightqueue/src/status"
)

// QueueResponse is the body of GET /api/queue.
type QueueResponse struct {
	Stats  queue.Stats      `json:"stats"`
	Queued []build.Snapshot `json:"queued"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("writing response")
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submit handles POST /api/builds. With ?wait=true it blocks until the job
// finishes and answers 200; otherwise it answers 202 at once.
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var opts build.Options
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := s.validate(opts); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.RegistryConfig = s.opts.Registries

	job := s.opts.Scheduler.Submit(opts)
	log.WithFields(logrus.Fields{
		logging.JobID: job.ID,
		logging.Repo:  opts.Repo,
	}).Info("build submitted")

	w.Header().Set("Location", "/api/builds/"+job.ID)
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, job.Snapshot())
		return
	}
	if err := job.Wait(r.Context()); err != nil {
		// client went away, the build carries on
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// list handles GET /api/builds, optionally filtered by ?status=.
func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	want := build.Status(r.URL.Query().Get("status"))
	out := []build.Snapshot{}
	for _, snap := range s.snapshots(r.Context()) {
		if want != "" && snap.Status != want {
			continue
		}
		snap.BuildOutput = nil
		out = append(out, snap)
	}
	writeJSON(w, http.StatusOK, out)
}

// snapshots merges the scheduler's jobs with stored jobs it has forgotten,
// oldest first. A failing store only costs the forgotten jobs.
func (s *Server) snapshots(ctx context.Context) []build.Snapshot {
	jobs := s.opts.Scheduler.List()
	out := make([]build.Snapshot, 0, len(jobs))
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
		seen[j.ID] = true
	}

	lister, ok := s.opts.Store.(SnapshotLister)
	if !ok {
		return out
	}
	stored, err := lister.Recent(ctx, storeListLimit)
	if err != nil {
		log.WithError(err).Warn("listing stored builds")
		return out
	}
	merged := false
	for _, snap := range stored {
		if !seen[snap.ID] {
			out = append(out, snap)
			seen[snap.ID] = true
			merged = true
		}
	}
	if merged {
		slices.SortStableFunc(out, func(a, b build.Snapshot) int {
			return a.QueuedAt.Compare(b.QueuedAt)
		})
	}
	return out
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// output handles GET /api/builds/{id}/output as plain text.
func (s *Server) output(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, ev := range snap.BuildOutput {
		text := ev.Text()
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		fmt.Fprint(w, text)
	}
}

func (s *Server) layers(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	layers := build.ParseLayers(snap.BuildOutput)
	if layers == nil {
		layers = []build.LayerEvent{}
	}
	writeJSON(w, http.StatusOK, layers)
}

func (s *Server) badge(w http.ResponseWriter, r *http.Request) {
	if s.opts.Badges == nil {
		writeError(w, http.StatusNotImplemented, errors.New("badges are disabled"))
		return
	}
	snap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, s.opts.Badges.Generate(badge.ForSnapshot(s.opts.Label, snap)))
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	resp := QueueResponse{Stats: s.opts.Scheduler.Stats(), Queued: []build.Snapshot{}}
	for _, j := range s.opts.Scheduler.Queued() {
		resp.Queued = append(resp.Queued, j.Snapshot())
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookup finds the {id} job in the scheduler, then in the snapshot store.
// It writes the error response itself and reports whether a snapshot was
// found.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (build.Snapshot, bool) {
	id := mux.Vars(r)["id"]
	job, err := s.opts.Scheduler.Get(id)
	if err == nil {
		return job.Snapshot(), true
	}
	if !errors.Is(err, queue.ErrJobNotFound) || s.opts.Store == nil {
		writeError(w, http.StatusNotFound, err)
		return build.Snapshot{}, false
	}

	snap, serr := s.opts.Store.Lookup(r.Context(), id)
	switch {
	case serr == nil:
		return snap, true
	case errors.Is(serr, status.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		log.WithError(serr).WithField(logging.JobID, id).Warn("snapshot store lookup failed")
		writeError(w, http.StatusBadGateway, fmt.Errorf("looking up %s: %w", id, serr))
	}
	return build.Snapshot{}, false
}
