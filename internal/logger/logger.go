// Package logger wraps logrus with the small, consistent call shape used
// throughout this module, grounded in the teacher's own logging call sites
// (Debugf/Infof/Warnf/Errorf against a package-scoped entry).
package logger

import "github.com/sirupsen/logrus"

// Logger is a component-scoped logrus entry.
type Logger struct {
	entry *logrus.Entry
}

// New returns a Logger that tags every line with component.
func New(base *logrus.Logger, component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

// Silent returns a Logger whose output is fully suppressed, for use in
// tests that don't want log noise but still need a non-nil Logger.
func Silent() *Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return New(l, "silent")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// With returns a child Logger with an additional field attached.
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}
