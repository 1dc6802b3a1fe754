package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Subsystem component identifiers.
const (
	ComponentFlash    Component = "flash"
	ComponentCache    Component = "cache"
	ComponentFAT      Component = "fat"
	ComponentBlockDev Component = "blockdev"
	ComponentTick     Component = "tick"
	ComponentSCSI     Component = "scsi"
	ComponentUF2      Component = "uf2"
	ComponentCLI      Component = "cli"
)

// Components lists every component in pipeline order.
var Components = []Component{
	ComponentFlash,
	ComponentCache,
	ComponentFAT,
	ComponentBlockDev,
	ComponentTick,
	ComponentSCSI,
	ComponentUF2,
	ComponentCLI,
}

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// logState is the process-wide logging configuration.
type logState struct {
	mutex   sync.RWMutex
	logger  *slog.Logger
	output  io.Writer
	format  LogFormat
	enabled map[Component]bool // nil enables every component
}

var (
	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	state = logState{output: os.Stderr}
)

func init() {
	logLevel.Set(slog.LevelWarn)
	state.logger = newLogger(state.output, state.format)
}

func newLogger(w io.Writer, format LogFormat) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogLevel sets the minimum log level for all component logging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	return logLevel.Level()
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidParameter, s)
	}
	return level, nil
}

// SetLogFormat switches the output format, keeping the current writer.
func SetLogFormat(format LogFormat) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	state.format = format
	state.logger = newLogger(state.output, format)
}

// SetLogOutput redirects logging to w, keeping the current format.
func SetLogOutput(w io.Writer) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	state.output = w
	state.logger = newLogger(w, state.format)
}

// SetLogger replaces the logger used by every component.
func SetLogger(logger *slog.Logger) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	state.logger = logger
}

// EnableComponents restricts logging to the named components. With no
// arguments every component logs.
func EnableComponents(components ...Component) {
	state.mutex.Lock()
	defer state.mutex.Unlock()
	if len(components) == 0 {
		state.enabled = nil
		return
	}
	state.enabled = make(map[Component]bool, len(components))
	for _, c := range components {
		state.enabled[c] = true
	}
}

// ParseComponents parses a comma-separated component list.
func ParseComponents(s string) ([]Component, error) {
	var out []Component
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		found := false
		for _, c := range Components {
			if string(c) == name {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: log component %q", ErrInvalidParameter, name)
		}
	}
	return out, nil
}

// Addr formats a flash address attribute as 0xXXXXXXXX.
func Addr(key string, addr uint32) slog.Attr {
	return slog.String(key, fmt.Sprintf("0x%08X", addr))
}

// loggerFor returns the logger for component, or nil if it is filtered.
func loggerFor(component Component) *slog.Logger {
	state.mutex.RLock()
	defer state.mutex.RUnlock()
	if state.enabled != nil && !state.enabled[component] {
		return nil
	}
	return state.logger
}

func logAt(level slog.Level, component Component, msg string, args []any) {
	logger := loggerFor(component)
	if logger == nil {
		return
	}
	logger.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}
