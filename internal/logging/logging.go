// Package logging configures the process-lifecycle logger. Request-path
// logging goes through internal/observability's trace-enriched zerolog;
// this logrus instance covers startup, shutdown, and background-task
// lifecycle events, where a caller-tagged JSON line is what operators grep
// for.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide lifecycle logger.
var Log = logrus.New()

// Setup configures JSON output, level, and an optional log file tee. Called
// once from the composition root; safe defaults apply when both arguments
// are empty.
func Setup(level, filePath string) {
	Log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	var out io.Writer = os.Stdout
	if filePath != "" {
		if f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	Log.SetOutput(out)

	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}

// Component returns an entry tagged with the originating subsystem, so
// sweeper/sampler/server lifecycle lines are filterable.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
