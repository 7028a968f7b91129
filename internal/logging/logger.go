// Package logging defines the small structured-logger interface shared by
// internal/replica and internal/client, backed by logrus.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logging surface used throughout the core.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	ToggleDebug(enabled bool)

	// With returns a derived Logger that annotates every subsequent
	// entry with the given field, e.g. logger.With("client_id", id).
	With(key string, value interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a Logger writing structured (text) lines to stderr,
// annotated with a component name (e.g. "replica" or "client").
func New(component string) Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: base.WithField("component", component)}
}

func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *logrusLogger) ToggleDebug(enabled bool) {
	if enabled {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
}

func (l *logrusLogger) With(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
