package status

import (
	"context"
	"sync"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
)

// Hub fans snapshots out to in-process subscribers such as websocket
// clients. Sends never block: a subscriber whose buffer is full misses the
// update.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	buffer int
}

type subscriber struct {
	jobID string // empty receives every job
	ch    chan build.Snapshot
}

// NewHub creates a hub whose subscribers buffer up to buffer snapshots.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: map[*subscriber]struct{}{}, buffer: buffer}
}

// Subscribe registers interest in jobID ("" for all jobs). The returned
// cancel func unregisters and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(jobID string) (<-chan build.Snapshot, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan build.Snapshot, h.buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(_ context.Context, s build.Snapshot) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.jobID != "" && sub.jobID != s.ID {
			continue
		}
		select {
		case sub.ch <- s:
		default:
			log.WithField(logging.JobID, s.ID).Debug("subscriber buffer full, dropping update")
		}
	}
	return nil
}
