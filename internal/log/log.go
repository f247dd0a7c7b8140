// Package log provides the node's structured logging.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers.
var (
	Ledger  zerolog.Logger
	Account zerolog.Logger
	Chain   zerolog.Logger
	P2P     zerolog.Logger
	RPC     zerolog.Logger
	Storage zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init configures the global logger. When file is non-empty, logs go to the
// console (colored or JSON per jsonOutput) and to the file as JSON.
func Init(level string, jsonOutput bool, file string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	var console io.Writer = os.Stdout
	if !jsonOutput {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	out := console
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
	}

	SetLogger(zerolog.New(out).Level(lvl).With().Timestamp().Logger())
	return nil
}

// SetLogger replaces the global logger and rebuilds the component loggers.
func SetLogger(l zerolog.Logger) {
	Logger = l
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	lvl, _ := ParseLevel(level)
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl, _ := ParseLevel(level)
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// ParseLevel converts a level name to a zerolog level. An empty name is info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}

func initComponentLoggers() {
	Ledger = WithComponent("ledger")
	Account = WithComponent("account")
	Chain = WithComponent("chain")
	P2P = WithComponent("p2p")
	RPC = WithComponent("rpc")
	Storage = WithComponent("storage")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Benchmark returns a func that logs the elapsed time of an operation at debug level.
func Benchmark(l zerolog.Logger, name string) func() {
	start := time.Now()
	return func() {
		l.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}
