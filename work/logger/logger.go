package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance. Messages are tagged by the caller
// with a "{pkg/file - Func}" prefix so they can be grepped per call site.
type Logger struct {
	level atomic.Int32
	out   *log.Logger
}

// New creates a new Logger writing to w with the specified level
func New(w io.Writer, level string) *Logger {
	l := &Logger{
		out: log.New(w, "[HLS-PROXY] ", log.LstdFlags),
	}
	l.level.Store(int32(ParseLogLevel(level)))
	return l
}

// getDefaultLogger returns the singleton default logger
func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stdout, "INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
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

func (lv LogLevel) String() string {
	switch lv {
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

// Configure replaces the output and level of the package-level logger.
// Called once from main after the config is loaded.
func Configure(w io.Writer, level string) {
	l := getDefaultLogger()
	l.out.SetOutput(w)
	l.SetLevel(level)
}

// SetLogLevel sets the global default log level (package-level)
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns current log level as string (package-level)
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetLevel sets this logger instance's level
func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLogLevel(level)))
}

// GetLevel returns this logger instance's level as string
func (l *Logger) GetLevel() string {
	return LogLevel(l.level.Load()).String()
}

func (l *Logger) shouldLog(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *Logger) logMessage(level LogLevel, format string, v ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.out.Printf("[%s] %s", level, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...interface{}) { l.logMessage(DEBUG, format, v...) }

// Info logs info level messages
func (l *Logger) Info(format string, v ...interface{}) { l.logMessage(INFO, format, v...) }

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...interface{}) { l.logMessage(WARN, format, v...) }

// Error logs error level messages
func (l *Logger) Error(format string, v ...interface{}) { l.logMessage(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }

func Info(format string, v ...interface{}) { getDefaultLogger().Info(format, v...) }

func Warn(format string, v ...interface{}) { getDefaultLogger().Warn(format, v...) }

func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
