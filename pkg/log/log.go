package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field, e.g.
// "scheduler", "workdir", "guest".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRun creates a child logger scoped to one run directory (the run's
// "--id", or its generated name when none was requested).
func WithRun(runID string) zerolog.Logger {
	return Logger.With().Str("run_id", runID).Logger()
}

// WithPlan creates a child logger scoped to one plan's fully qualified name.
func WithPlan(planName string) zerolog.Logger {
	return Logger.With().Str("plan", planName).Logger()
}

// WithGuest creates a child logger scoped to one guest (role or name).
func WithGuest(guestName string) zerolog.Logger {
	return Logger.With().Str("guest", guestName).Logger()
}

// WithTest creates a child logger scoped to one test's fully qualified name.
func WithTest(testName string) zerolog.Logger {
	return Logger.With().Str("test", testName).Logger()
}

// NewFileLogger returns a logger, tagged with the given fields, that
// writes to w and to stdout (console-formatted unless JSON output is
// on). It's used for a run's log.txt; loggers from WithPlan/WithGuest/
// WithTest derive from the global Logger and do not write to w.
func NewFileLogger(w io.Writer, fields map[string]string) zerolog.Logger {
	multi := io.MultiWriter(w, consoleOrRaw())
	l := zerolog.New(multi).With().Timestamp().Logger()
	ctx := l.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}

func consoleOrRaw() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
