package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`
	Output      string `json:"output" yaml:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component" yaml:"component"`
	IncludeFile bool   `json:"include_file" yaml:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format" yaml:"json_format"`   // Console writer when false
}

// DefaultConfig logs info and above as JSON to stderr
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Output:     "stderr",
		Component:  "trade-signal-sim",
		JSONFormat: true,
	}
}

// ParseLevel converts a string to a zerolog level, defaulting to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "DISABLED", "OFF":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

var (
	defaultLogger zerolog.Logger
	once          sync.Once
	mu            sync.RWMutex
)

// New builds a logger from cfg. The returned closer releases a log file and
// is a no-op for stdout/stderr.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	var output io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("service", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), closer, nil
}

// Default returns the process-wide logger
func Default() zerolog.Logger {
	once.Do(func() {
		l, _, _ := New(DefaultConfig())
		mu.Lock()
		defaultLogger = l
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger
func SetDefault(l zerolog.Logger) {
	once.Do(func() {})
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
