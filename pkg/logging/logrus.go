package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Setter func(*logrus.Logger) error

var root = struct {
	logger *logrus.Logger
	mutex  *sync.Mutex
}{
	logger: func() *logrus.Logger {
		l := logrus.New()

		l.SetFormatter(&utcFormatter{&logrus.TextFormatter{
			FullTimestamp: true,
		}})

		return l
	}(),
	mutex: &sync.Mutex{},
}

type Logger interface {
	logrus.FieldLogger

	Writer() *io.PipeWriter
	WriterLevel(logrus.Level) *io.PipeWriter
}

func New(component string, setters ...Setter) Logger {
	for _, setter := range setters {
		// no errors handling for now
		_ = Set(setter)
	}
	return root.logger.WithField("component", component)
}

func Set(setter Setter) error {
	root.mutex.Lock()
	err := setter(root.logger)
	root.mutex.Unlock()
	return err
}

func Level(lvl string) Setter {
	l, err := logrus.ParseLevel(lvl)
	if err != nil {
		root.logger.WithError(err).Errorf("unable to parse provided level %q", lvl)
		l = logrus.DebugLevel
	}
	return func(r *logrus.Logger) error {
		r.SetLevel(l)
		return nil
	}
}

// Output replaces the destination of log lines. An installed hook bridge is
// kept in front of the new destination.
func Output(w io.Writer) Setter {
	return func(r *logrus.Logger) error {
		if pw, ok := r.Out.(*postWriter); ok {
			pw.setOut(w)
			return nil
		}
		r.SetOutput(w)
		return nil
	}
}

// File appends log lines to the file at path, creating it and its parent
// directory when missing.
func File(path string) Setter {
	return func(r *logrus.Logger) error {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return errors.Wrap(err, "unable to create log directory")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return errors.Wrap(err, "unable to open log file")
		}
		return Output(f)(r)
	}
}

// utcFormatter renders timestamps in UTC regardless of the host's zone.
type utcFormatter struct {
	logrus.Formatter
}

func (f *utcFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.UTC()
	return f.Formatter.Format(entry)
}
