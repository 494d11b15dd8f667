package logger

import (
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a textual level into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// sessionColors is the palette session prefixes are picked from
var sessionColors = []color.Attribute{
	color.FgHiGreen,
	color.FgYellow,
	color.FgMagenta,
	color.FgHiBlue,
	color.FgRed,
	color.FgBlue,
	color.FgGreen,
	color.FgCyan,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithSession(sessionID string, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithSession(sessionID string, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithSession(sessionID string, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithSession(sessionID string, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                        {}
func (l *EmptyLogger) InfoWithSession(_ string, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) ErrorWithSession(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) DebugWithSession(_ string, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                      {}
func (l *EmptyLogger) NoticeWithSession(_ string, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// sessionPrefix renders the short session tag, e.g. "[sess 1a2b3c4d] "
func (l *StdLogger) sessionPrefix(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	prefix := "[sess " + short + "] "
	if !l.enableColoring {
		return prefix
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return color.New(sessionColors[h.Sum32()%uint32(len(sessionColors))]).Sprint(prefix)
}

// formatMessage formats the log message with the appropriate log level, session prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, sessionID string, format string) string {
	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + l.sessionPrefix(sessionID) + format
}

func (l *StdLogger) logf(level Level, sessionID string, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, sessionID, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, "", format, args...)
}

func (l *StdLogger) InfoWithSession(sessionID string, format string, args ...interface{}) {
	l.logf(InfoLevel, sessionID, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, "", format, args...)
}

func (l *StdLogger) ErrorWithSession(sessionID string, format string, args ...interface{}) {
	l.logf(ErrorLevel, sessionID, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, "", format, args...)
}

func (l *StdLogger) DebugWithSession(sessionID string, format string, args ...interface{}) {
	l.logf(DebugLevel, sessionID, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, "", format, args...)
}

func (l *StdLogger) NoticeWithSession(sessionID string, format string, args ...interface{}) {
	l.logf(NoticeLevel, sessionID, format, args...)
}
