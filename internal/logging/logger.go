package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// sinks holds the writers shared by a logger and all of its children.
type sinks struct {
	mu       sync.Mutex
	dir      string
	level    slog.Level
	rotation RotationConfig
	debug    *RotatingWriter
	files    map[string]*RotatingWriter
	text     map[string]*slog.Logger
}

// fileLogger returns a text logger bound to {dir}/{name}.log, opening the
// file on first use. The file rotates like debug.log.
func (s *sinks) fileLogger(name string) *slog.Logger {
	if s == nil || s.dir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.text[name]; ok {
		return l
	}
	f, err := NewRotatingWriter(FilePath(s.dir, name), s.rotation)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file for %s: %v\n", name, err)
		return nil
	}
	s.files[name] = f
	l := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: s.level}))
	s.text[name] = l
	return l
}

// Logger provides structured logging with context propagation.
// It is safe for concurrent use.
type Logger struct {
	logger  *slog.Logger
	console *slog.Logger
	mirror  *slog.Logger
	sinks   *sinks
	attrs   []slog.Attr
}

// NewLogger creates a Logger that writes JSON-formatted logs to
// {logDir}/debug.log using the default rotation settings.
//
// If logDir is empty, logs are written to stderr and no per-task files
// are produced.
func NewLogger(logDir string, level string) (*Logger, error) {
	return NewLoggerWithRotation(logDir, level, DefaultRotationConfig())
}

// NewLoggerWithRotation is NewLogger with explicit rotation settings.
func NewLoggerWithRotation(logDir string, level string, rotation RotationConfig) (*Logger, error) {
	s := &sinks{
		dir:      logDir,
		level:    parseLevel(level),
		rotation: rotation,
		files:    make(map[string]*RotatingWriter),
		text:     make(map[string]*slog.Logger),
	}

	var writer io.Writer = os.Stderr
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rw, err := NewRotatingWriter(filepath.Join(logDir, "debug.log"), rotation)
		if err != nil {
			return nil, err
		}
		s.debug = rw
		writer = rw
	}

	return &Logger{
		logger: slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: s.level})),
		sinks:  s,
	}, nil
}

// FilePath returns the per-task or per-phase log file for name.
func FilePath(logDir, name string) string {
	return filepath.Join(logDir, name+".log")
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithConsole returns a Logger that also writes text lines to w.
func (l *Logger) WithConsole(w io.Writer) *Logger {
	child := l.clone()
	level := slog.LevelInfo
	if l.sinks != nil {
		level = l.sinks.level
	}
	child.console = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	}))
	return child
}

// WithTask returns a child Logger tagged with task_id whose records are
// mirrored into the task's own log file.
func (l *Logger) WithTask(taskID string) *Logger {
	child := l.withAttr(slog.String("task_id", taskID))
	if m := l.sinks.fileLogger(taskID); m != nil {
		child.mirror = m
	}
	return child
}

// WithPhase returns a child Logger tagged with phase. When the logger has
// no task file attached, records are mirrored into the phase's log file.
func (l *Logger) WithPhase(phase string) *Logger {
	child := l.withAttr(slog.String("phase", phase))
	if child.mirror == nil {
		child.mirror = l.sinks.fileLogger(phase)
	}
	return child
}

// WithSession returns a child Logger tagged with the tmux session name.
func (l *Logger) WithSession(session string) *Logger {
	return l.withAttr(slog.String("session", session))
}

// With returns a new Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	child := l.clone()
	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		child.attrs = append(child.attrs, slog.Any(key, args[i+1]))
	}
	return child
}

func (l *Logger) clone() *Logger {
	attrs := make([]slog.Attr, len(l.attrs), len(l.attrs)+2)
	copy(attrs, l.attrs)
	return &Logger{
		logger:  l.logger,
		console: l.console,
		mirror:  l.mirror,
		sinks:   l.sinks,
		attrs:   attrs,
	}
}

func (l *Logger) withAttr(attr slog.Attr) *Logger {
	child := l.clone()
	child.attrs = append(child.attrs, attr)
	return child
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	allArgs := make([]any, 0, len(l.attrs)*2+len(args))
	for _, attr := range l.attrs {
		allArgs = append(allArgs, attr.Key, attr.Value.Any())
	}
	allArgs = append(allArgs, args...)

	ctx := context.Background()
	l.logger.Log(ctx, level, msg, allArgs...)
	if l.console != nil {
		l.console.Log(ctx, level, msg, allArgs...)
	}
	if l.mirror != nil {
		l.mirror.Log(ctx, level, msg, allArgs...)
	}
}

// Close flushes and closes debug.log and every per-task file.
func (l *Logger) Close() error {
	s := l.sinks
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file %s: %w", name, err)
		}
		delete(s.files, name)
		delete(s.text, name)
	}
	if s.debug != nil {
		if err := s.debug.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

// ParseLevel normalizes a level string, returning LevelInfo if unknown.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
