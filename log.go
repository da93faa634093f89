package deckwire

import (
	"os"

	"github.com/rs/zerolog"
)

// log is the package logger. It stays at warn level unless the embedding
// application asks for more.
var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().Timestamp().Logger().
	Level(zerolog.WarnLevel)

// SetLogger replaces the package logger, e.g. to route engine logs into the
// application's own zerolog tree.
func SetLogger(l zerolog.Logger) { log = l }

// SetLogLevel adjusts the package logger level; useful to get debug output
// of every frame sent and received.
func SetLogLevel(level zerolog.Level) { log = log.Level(level) }
