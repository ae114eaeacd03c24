package engine

import (
	"sync"

	"github.com/sofmeright/freightqueue/src/build"
)

// Progress is a finite stream of progress events from one engine call,
// terminated by a single success or failure signal. Events is closed when
// the call finishes; Err is meaningful only after that.
//
// A Progress is not resumable: each engine call produces a new one.
type Progress struct {
	events chan build.ProgressEvent
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewProgress returns an open stream. The producer emits events with Emit
// and finishes it with Close.
func NewProgress() *Progress {
	return &Progress{
		events: make(chan build.ProgressEvent, 64),
		done:   make(chan struct{}),
	}
}

// Completed returns a stream that has already finished with err.
func Completed(err error) *Progress {
	p := NewProgress()
	p.Close(err)
	return p
}

// Emit sends an event to the consumer. It blocks while the buffer is full
// and must not be called after Close.
func (p *Progress) Emit(ev build.ProgressEvent) {
	p.events <- ev
}

// Close ends the stream with err (nil for success). Only the first call has
// an effect.
func (p *Progress) Close(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.events)
		close(p.done)
	})
}

// Events returns the event channel, closed when the stream ends.
func (p *Progress) Events() <-chan build.ProgressEvent {
	return p.events
}

// Err blocks until the stream ends and returns its terminal error.
func (p *Progress) Err() error {
	<-p.done
	return p.err
}

// Follow consumes the stream, handing every event to onEvent (which may be
// nil), and returns the terminal error. A nil stream has nothing to report.
func Follow(p *Progress, onEvent func(build.ProgressEvent)) error {
	if p == nil {
		return nil
	}
	for ev := range p.Events() {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	return p.Err()
}
