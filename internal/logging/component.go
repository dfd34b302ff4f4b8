package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	sinkInstance *sink
	sinkOnce     sync.Once
)

// sink owns the shared log file. All component loggers write through one sink
// so lines from concurrent components interleave whole.
type sink struct {
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	level  Level
}

func sharedSink() *sink {
	sinkOnce.Do(func() {
		sinkInstance = &sink{level: LevelDebug}
		home, err := os.UserHomeDir()
		if err != nil {
			log.Printf("logging: resolve home directory: %v", err)
			return
		}
		path := filepath.Join(home, "murmur-debug.log")
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Printf("logging: open log file: %v", err)
			return
		}
		sinkInstance.file = file
		sinkInstance.logger = log.New(file, "", 0)
	})
	return sinkInstance
}

// SetLevel sets the minimum level for all component loggers.
func SetLevel(level Level) {
	s := sharedSink()
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

func (s *sink) write(level Level, component, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if level < s.level {
		return
	}

	// Format: 2025-09-30 12:34:56 [INFO] [Component] - Message
	line := fmt.Sprintf("%s [%s] [%s] - %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		levelString(level),
		component,
		fmt.Sprintf(format, args...))

	if s.logger != nil {
		s.logger.Print(line)
	}
	fmt.Print(line)
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

type componentLogger struct {
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	if component == "" {
		component = "MURMUR"
	}
	return &componentLogger{component: component}
}

func (l *componentLogger) Debug(format string, args ...any) {
	sharedSink().write(LevelDebug, l.component, format, args...)
}

func (l *componentLogger) Info(format string, args ...any) {
	sharedSink().write(LevelInfo, l.component, format, args...)
}

func (l *componentLogger) Warn(format string, args ...any) {
	sharedSink().write(LevelWarn, l.component, format, args...)
}

func (l *componentLogger) Error(format string, args ...any) {
	sharedSink().write(LevelError, l.component, format, args...)
}
