package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger; Init replaces it
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a configured verbosity
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config is the log section of the engine configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// ParseLevel maps a configuration string to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch Level(s) {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return Level(s)
	default:
		return InfoLevel
	}
}

// Init replaces the global logger. Output defaults to stdout; without
// JSONOutput lines go through zerolog's console writer.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(string(ParseLevel(string(cfg.Level))))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithMember creates a child logger with the ensemble member index
func WithMember(iens int) zerolog.Logger {
	return Logger.With().Int("iens", iens).Logger()
}

// WithCase creates a child logger with the active case name
func WithCase(name string) zerolog.Logger {
	return Logger.With().Str("case", name).Logger()
}

// WithMinistep creates a child logger scoped to one local-analysis ministep
func WithMinistep(name string) zerolog.Logger {
	return Logger.With().Str("ministep", name).Logger()
}
