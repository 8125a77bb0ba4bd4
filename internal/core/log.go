// File: internal/core/log.go
// Author: momentics <momentics@gmail.com>

package core

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	logOnce sync.Once
	log     zerolog.Logger
)

// logger returns the package-level structured logger. Only worker
// lifecycle (start/stop, failed pinning), recovered task panics, and
// engine construction/destruction log; a task that returns normally never
// does, and misuse panics are not logged.
func logger() *zerolog.Logger {
	logOnce.Do(func() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Str("component", "gomarl").Logger()
	})
	return &log
}

// SetLogger overrides the package-level logger.
func SetLogger(l zerolog.Logger) {
	// Consume the one-time default setup so a later logger() call cannot
	// replace l.
	logOnce.Do(func() {})
	log = l
}
