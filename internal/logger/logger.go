package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel type
type LogLevel int32

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	currentLevel atomic.Int32
	fileMu       sync.Mutex
	logFile      *os.File
)

func init() {
	currentLevel.Store(int32(LogLevelInfo))
	log.SetFlags(log.LstdFlags)
}

// Setup directs log output to stderr, an optional log file and any extra writers
// (e.g. the websocket broadcaster). An existing log file is rotated to "<name>.old".
func Setup(logFilePath string, extra ...io.Writer) error {
	writers := []io.Writer{os.Stderr}

	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
			return fmt.Errorf("could not create log directory: %w", err)
		}
		oldLogFilePath := logFilePath + ".old"
		if _, err := os.Stat(oldLogFilePath); err == nil {
			os.Remove(oldLogFilePath)
		}
		if _, err := os.Stat(logFilePath); err == nil {
			if err := os.Rename(logFilePath, oldLogFilePath); err != nil {
				log.Printf("[WARN] Failed to rotate log file: %v", err)
			}
		}

		f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("could not open log file: %w", err)
		}
		fileMu.Lock()
		logFile = f
		fileMu.Unlock()
		writers = append(writers, f)
	}

	writers = append(writers, extra...)
	log.SetOutput(io.MultiWriter(writers...))
	log.Printf("[INFO] --- Log session started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// SetOutput replaces the log destination. Used by tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// Close flushes and closes the log file, if one was opened.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}

// SetLevelFromString updates the current level. Unknown values fall back to INFO.
func SetLevelFromString(level string) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		currentLevel.Store(int32(LogLevelDebug))
	case "WARN":
		currentLevel.Store(int32(LogLevelWarn))
	case "ERROR":
		currentLevel.Store(int32(LogLevelError))
	default:
		currentLevel.Store(int32(LogLevelInfo))
	}
}

// Level returns the current log level.
func Level() LogLevel {
	return LogLevel(currentLevel.Load())
}

func enabled(l LogLevel) bool {
	return Level() >= l
}

func Error(format string, v ...interface{}) {
	if enabled(LogLevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if enabled(LogLevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if enabled(LogLevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}

func Debug(format string, v ...interface{}) {
	if enabled(LogLevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Fatal logs the message, closes the log file and exits the process.
func Fatal(format string, v ...interface{}) {
	log.Printf("[FATAL] "+format, v...)
	Close()
	os.Exit(1)
}

// Writer returns an io.Writer that forwards each write as one log line at the given level.
// Used to route third-party access logs through the levelled logger.
func Writer(level LogLevel) io.Writer {
	return levelWriter{level: level}
}

type levelWriter struct {
	level LogLevel
}

func (lw levelWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	switch lw.level {
	case LogLevelError:
		Error("%s", line)
	case LogLevelWarn:
		Warn("%s", line)
	case LogLevelInfo:
		Info("%s", line)
	default:
		Debug("%s", line)
	}
	return len(p), nil
}
