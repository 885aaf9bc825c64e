// Package logger provides the structured, level-gated logging used across
// every TytoDB subsystem. Log level checks are lock-free (atomic), so
// disabled levels cost a single load on the hot path.
//
// Output format:
//
//	YYYY/MM/DD HH:MM:SS.ssssss [LEVEL] message (file:line)
package logger

import (
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the severity of a log message.
type Level int32

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	TRACE: "TRACE",
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	currentLevel atomic.Int32
	mu           sync.Mutex
	out          = os.Stderr
)

func init() {
	currentLevel.Store(int32(INFO))
}

// SetLevel changes the minimum level that will be emitted.
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

// GetLevel returns the current minimum emitted level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

func enabled(l Level) bool {
	return int32(l) >= currentLevel.Load()
}

func logf(l Level, format string, args ...interface{}) {
	if !enabled(l) {
		return
	}
	_, file, line, ok := runtime.Caller(2)
	loc := "?"
	if ok {
		loc = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006/01/02 15:04:05.000000")

	mu.Lock()
	fmt.Fprintf(out, "%s [%s] %s (%s)\n", ts, levelNames[l], msg, loc)
	mu.Unlock()
}

func Trace(format string, args ...interface{}) { logf(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { logf(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logf(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logf(WARN, format, args...) }
func Error(format string, args ...interface{}) { logf(ERROR, format, args...) }

// bridgeWriter is an io.Writer that redirects anything written through it
// (standard library log output) into this package's leveled logger.
type bridgeWriter struct {
	prefix string
}

func (w *bridgeWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	switch {
	case strings.Contains(msg, "TLS") || strings.Contains(msg, "tls"):
		Warn("%s: %s", w.prefix, msg)
	case strings.Contains(msg, "error") || strings.Contains(msg, "Error"):
		Error("%s: %s", w.prefix, msg)
	default:
		Info("%s: %s", w.prefix, msg)
	}
	return len(p), nil
}

// SetHTTPServerErrorLog returns a *log.Logger suitable for http.Server's
// ErrorLog field, so that connection-level errors from net/http land in this
// package's structured log instead of the process's raw stderr.
func SetHTTPServerErrorLog(prefix string) *stdlog.Logger {
	return stdlog.New(&bridgeWriter{prefix: prefix}, "", 0)
}
