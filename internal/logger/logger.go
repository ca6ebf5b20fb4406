package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	baseMu sync.RWMutex
	base   = log.NewWithOptions(os.Stdout, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Level:           log.InfoLevel,
	})
)

// Log is a lightweight handle carrying an optional error and fields.
type Log struct {
	l   *log.Logger
	err error
}

func New() *Log {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return &Log{l: base}
}

// SetLevel changes the global level. Unknown levels fall back to info.
func SetLevel(level LogLevel) {
	lvl, err := log.ParseLevel(strings.ToLower(string(level)))
	if err != nil {
		lvl = log.InfoLevel
	}
	baseMu.Lock()
	defer baseMu.Unlock()
	base.SetLevel(lvl)
}

// SetFormat switches between text, json and logfmt output.
func SetFormat(format string) {
	baseMu.Lock()
	defer baseMu.Unlock()
	switch strings.ToLower(format) {
	case "json":
		base.SetFormatter(log.JSONFormatter)
	case "logfmt":
		base.SetFormatter(log.LogfmtFormatter)
	default:
		base.SetFormatter(log.TextFormatter)
	}
}

// SetOutput replaces the base logger, keeping level and format. Used by tests.
func SetOutput(l *log.Logger) {
	baseMu.Lock()
	defer baseMu.Unlock()
	base = l
}

func (l *Log) WithError(err error) *Log {
	return &Log{l: l.l, err: err}
}

// With returns a logger carrying the given key/value pairs.
func (l *Log) With(keyvals ...interface{}) *Log {
	return &Log{l: l.l.With(keyvals...), err: l.err}
}

func (l *Log) args(keyvals []interface{}) []interface{} {
	if l.err == nil {
		return keyvals
	}
	return append(keyvals, "err", l.err)
}

func (l *Log) Debug(msg string, keyvals ...interface{}) {
	l.l.Debug(msg, l.args(keyvals)...)
}

func (l *Log) Info(msg string, keyvals ...interface{}) {
	l.l.Info(msg, l.args(keyvals)...)
}

func (l *Log) Warn(msg string, keyvals ...interface{}) {
	l.l.Warn(msg, l.args(keyvals)...)
}

func (l *Log) Error(msg string, keyvals ...interface{}) {
	l.l.Error(msg, l.args(keyvals)...)
}
