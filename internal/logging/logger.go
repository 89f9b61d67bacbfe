// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options controls logger construction.
type Options struct {
	Level  string // panic, fatal, error, warn, info, debug, trace
	Format string // json or text
}

// New returns a logrus logger writing to stdout.
func New(opts Options) (*logrus.Logger, error) {
	return NewWithWriter(opts, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(opts Options, w io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(w)

	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	log.SetLevel(level)

	if strings.EqualFold(opts.Format, "text") {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}
	return log, nil
}

// Component tags entries with the emitting component.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	return log.WithField("component", name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
