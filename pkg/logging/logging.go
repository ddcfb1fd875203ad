package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is a bridging interface between logrus and the components that need
// to forward raw process output into the log stream.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// New creates the root logger. Unknown levels fall back to info.
func New(level string, out io.Writer, json bool) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(out)
	if json {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return logrus.NewEntry(log)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// Component derives a logger tagged with the given component name.
func Component(log Logger, name string) Logger {
	return log.WithField("component", name)
}
