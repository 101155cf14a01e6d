// Package logging wraps zerolog the way the rest of the archive expects:
// one process-wide logger tagged with a service name, console output in
// debug mode, structured JSON otherwise.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger for serviceName. debug widens the level to Debug
// and switches to a human-readable console writer.
func Init(serviceName string, debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "message"

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if debug {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				return fmt.Sprintf("| %-6s|", i)
			},
		}
		logger = zerolog.New(output)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	log.Logger = logger.Level(level).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Debug logs at debug level.
func Debug() *zerolog.Event { return log.Debug() }

// Info logs at info level.
func Info() *zerolog.Event { return log.Info() }

// Warn logs at warn level.
func Warn() *zerolog.Event { return log.Warn() }

// Error logs at error level.
func Error() *zerolog.Event { return log.Error() }

// Fatal logs at fatal level and exits the process.
func Fatal() *zerolog.Event { return log.Fatal() }

// With returns a child logger context for adding fields before an event is emitted.
func With() zerolog.Context { return log.With() }
