package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// Hook receives every emitted log line. Used by the admin surface to keep a
// ring of recent entries without re-parsing stdout.
type Hook func(level, message string)

var (
	mu    sync.RWMutex
	level LogLevel = INFO
	hooks []Hook
)

// ParseLogLevel converts a string to a LogLevel
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the global log level
func SetLevel(s string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLogLevel(s)
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetDebug toggles between DEBUG and INFO levels
func SetDebug(debug bool) {
	if debug {
		SetLevel("DEBUG")
	} else {
		SetLevel("INFO")
	}
}

// AddHook registers a hook invoked for every emitted line
func AddHook(h Hook) {
	mu.Lock()
	defer mu.Unlock()
	hooks = append(hooks, h)
}

func shouldLog(l LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func emit(tag string, format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	log.Printf("[%s] %s", tag, message)

	mu.RLock()
	hs := hooks
	mu.RUnlock()
	for _, h := range hs {
		h(strings.ToLower(tag), message)
	}
}

// Debug logs debug level messages
func Debug(format string, v ...interface{}) {
	if shouldLog(DEBUG) {
		emit("DEBUG", format, v...)
	}
}

// Info logs info level messages
func Info(format string, v ...interface{}) {
	if shouldLog(INFO) {
		emit("INFO", format, v...)
	}
}

// Warn logs warning level messages
func Warn(format string, v ...interface{}) {
	if shouldLog(WARN) {
		emit("WARN", format, v...)
	}
}

// Error logs error level messages
func Error(format string, v ...interface{}) {
	if shouldLog(ERROR) {
		emit("ERROR", format, v...)
	}
}
