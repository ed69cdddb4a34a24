// Package logging sets up the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global logger for app. level is a zerolog level
// name ("debug", "info", ...); unknown names fall back to info. json
// selects machine-readable output instead of the console writer.
func Init(app, level string, json bool) zerolog.Logger {
	return InitTo(os.Stdout, app, level, json)
}

// InitTo is Init writing to out.
func InitTo(out io.Writer, app, level string, json bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	w := out
	if !json {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	logger := zerolog.New(w).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
