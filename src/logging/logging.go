// Package logging owns the process-wide logrus logger. Packages derive a
// scoped logger once:
//
//	var log = logging.DefaultLogger.WithField(logging.Subsys, "queue")
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Field names shared across packages.
const (
	Subsys   = "subsys"
	JobID    = "job"
	Repo     = "repo"
	Tag      = "tag"
	Status   = "status"
	Step     = "step"
	Provider = "provider"
)

// Log formats accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultLogger is the base logger every package derives from.
var DefaultLogger = initDefaultLogger()

func initDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	return l
}

// Setup applies level and format to DefaultLogger. Empty values keep the
// current setting.
func Setup(level, format string) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("logging: %w", err)
		}
		DefaultLogger.SetLevel(lvl)
	}

	switch strings.ToLower(format) {
	case "":
	case FormatText:
		DefaultLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logging: unknown format %q (valid: text, json)", format)
	}
	return nil
}

// SetOutput redirects DefaultLogger, mainly for tests and the CLI.
func SetOutput(w io.Writer) {
	DefaultLogger.SetOutput(w)
}
