// Package status delivers job state transitions to external systems.
package status

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/sofmeright/freightqueue/src/build"
	"github.com/sofmeright/freightqueue/src/logging"
)

var log = logging.DefaultLogger.WithField(logging.Subsys, "status")

// Publisher is notified on every job transition. Publish may fail; callers
// log the error and carry on.
type Publisher interface {
	Publish(ctx context.Context, s build.Snapshot) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s build.Snapshot) error

func (f PublisherFunc) Publish(ctx context.Context, s build.Snapshot) error {
	return f(ctx, s)
}

// Multi publishes to every member in order. A failing member does not stop
// the rest; all failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s build.Snapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every snapshot.
var Discard Publisher = PublisherFunc(func(context.Context, build.Snapshot) error { return nil })

// Log writes one structured line per transition.
type Log struct {
	Logger *logrus.Entry
}

// NewLog returns a Log publisher on the package logger.
func NewLog() *Log {
	return &Log{Logger: log}
}

func (l *Log) Publish(_ context.Context, s build.Snapshot) error {
	entry := l.Logger.WithFields(logrus.Fields{
		logging.JobID:  s.ID,
		logging.Repo:   s.Repo,
		logging.Status: string(s.Status),
	})
	switch s.Status {
	case build.StatusFailure:
		entry.WithField("error", s.Error).Warn("build failed")
	case build.StatusSuccess:
		entry.WithField("duration", s.Duration().String()).Info("build succeeded")
	default:
		entry.Info("build " + string(s.Status))
	}
	return nil
}
