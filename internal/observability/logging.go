// Package observability holds the request-path logging and HTTP
// instrumentation shared by the inference, search, and storage layers:
// a trace-enriched zerolog logger, payload redaction, and an
// otelhttp-wrapped client.
package observability

import (
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger: RFC3339Nano timestamps,
// stdout output, and the given level ("" or unparseable means info). The
// standard library logger is redirected into it so nothing escapes the
// structured stream.
func InitLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(os.Stdout).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
