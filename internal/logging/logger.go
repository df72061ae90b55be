package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract shared by every
// weave component. Packages depend on this interface rather than a concrete
// logger so tests can swap in Nop() or a capture logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const (
	logFileEnvVar  = "WEAVE_LOG_FILE"
	logLevelEnvVar = "WEAVE_LOG_LEVEL"
)

var (
	sinkInstance *sink
	sinkOnce     sync.Once
)

// sink is the shared output target behind every component logger.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	file   *os.File
	level  Level
	logger *log.Logger
}

func getSink() *sink {
	sinkOnce.Do(func() {
		s := &sink{out: os.Stderr, level: LevelInfo}
		if path := strings.TrimSpace(os.Getenv(logFileEnvVar)); path != "" {
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				log.Printf("weave: cannot open log file %s: %v", path, err)
			} else {
				s.file = file
				s.out = io.MultiWriter(os.Stderr, file)
			}
		}
		if lvl := strings.TrimSpace(os.Getenv(logLevelEnvVar)); lvl != "" {
			s.level = parseLevel(lvl)
		}
		s.logger = log.New(s.out, "", 0)
		sinkInstance = s
	})
	return sinkInstance
}

func parseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func levelString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ComponentLogger is the standard logger implementation, tagged with the
// component that owns it.
type ComponentLogger struct {
	component string
	sink      *sink
}

// NewComponentLogger creates a logger for a specific component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{component: component, sink: getSink()}
}

// SetLevel adjusts the shared minimum level. It affects every component.
func SetLevel(level Level) {
	s := getSink()
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (l *ComponentLogger) log(level Level, format string, args ...any) {
	if l == nil || l.sink == nil {
		return
	}
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file, line = "???", 0
	}

	msg := fmt.Sprintf(format, args...)
	s.logger.Printf("%s [%s] [%s] %s:%d %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		levelString(level), l.component, file, line, msg)
}

func (l *ComponentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *ComponentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *ComponentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *ComponentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	return val.Kind() == reflect.Ptr && val.IsNil()
}

// OrNop returns logger when usable, otherwise a no-op logger. Callers can
// accept an optional Logger without nil checks at every call site.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}
