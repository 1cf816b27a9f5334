// Package logger is the resolver's structured logging layer: a thin wrapper
// over logrus that stamps every line with the component it came from, so a
// single run's output can be filtered down to one stage of the update
// pipeline (keyring, download, resolver, ...).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is the resolver's log severity.
type Level uint32

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[string]Level{
	"debug": DebugLevel,
	"info":  InfoLevel,
	"warn":  WarnLevel,
	"error": ErrorLevel,
	"fatal": FatalLevel,
}

// ParseLevel maps a level name from configuration or a CLI flag to a Level.
func ParseLevel(name string) (Level, error) {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl, nil
	}
	return InfoLevel, fmt.Errorf("logger: unknown level %q", name)
}

func (l Level) toLogrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger logs on behalf of one named component. Every entry it produces
// carries a "component" field.
type Logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

var defaultLogger = New("resolver")

// New creates a logger for the named component, writing text-formatted
// lines to stdout at info level until reconfigured.
func New(component string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	base.SetOutput(os.Stdout)
	return &Logger{
		base:  base,
		entry: base.WithField("component", component),
	}
}

// GetLogger returns the process-wide default logger.
func GetLogger() *Logger {
	return defaultLogger
}

// Component returns the component name this logger is bound to.
func (l *Logger) Component() string {
	c, _ := l.entry.Data["component"].(string)
	return c
}

// SetLevel changes the minimum severity this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(level.toLogrus())
}

// SetOutput redirects this logger's output.
func (l *Logger) SetOutput(out io.Writer) {
	l.base.SetOutput(out)
}

// SetJSONFormat switches the logger between JSON and text line output.
func (l *Logger) SetJSONFormat(json bool) {
	if json {
		l.base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// WithField returns an entry carrying one extra field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// WithFields returns an entry carrying several extra fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry.WithFields(logrus.Fields(fields))
}

// WithError returns an entry carrying err under the standard error key.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry.WithError(err)
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *Logger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// SetLevel changes the default logger's minimum severity.
func SetLevel(level Level) {
	defaultLogger.SetLevel(level)
}

// SetOutput redirects the default logger's output.
func SetOutput(out io.Writer) {
	defaultLogger.SetOutput(out)
}
