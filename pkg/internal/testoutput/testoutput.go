package testoutput

import (
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/sirupsen/logrus"
)

// New returns a writer that writes strings (assuming lines) to the testing
// logger.
func New(t testing.TB) io.Writer {
	return &testoutput{t: t}
}

// Logger returns a component logger detached from the root logger that writes
// to the testing logger.
func Logger(t testing.TB, component string) logging.Logger {
	l, _ := Capture(t, component)
	return l
}

// Capture is Logger that additionally retains the emitted lines so tests can
// assert on warnings and errors.
func Capture(t testing.TB, component string) (logging.Logger, *Lines) {
	lines := &Lines{}
	out := &testoutput{t: t, lines: lines}
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.DebugLevel)
	return l.WithField("component", component), lines
}

// Setter may be given to logging to configure the output to be sent to the
// testing facade to be interlaced with test output. You should not use parallel
// tests with this set as they would conflict in that they'd write to the wrong
// test or write to the Revert'd output if they aren't synchronous.
func Setter(t testing.TB) func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(New(t))
		l.SetLevel(logrus.DebugLevel)
		return nil
	}
}

// Revert restores the logger output to write to stderr.
func Revert() func(*logrus.Logger) error {
	return func(l *logrus.Logger) error {
		l.SetOutput(os.Stderr)
		return nil
	}
}

// Lines holds captured log lines.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

// Contains reports whether any captured line contains substr.
func (c *Lines) Contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// Count returns the number of captured lines containing substr.
func (c *Lines) Count(substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

type testoutput struct {
	t     testing.TB
	lines *Lines
}

func (l *testoutput) Write(p []byte) (n int, err error) {
	l.t.Logf("%s", p)
	if l.lines != nil {
		l.lines.mu.Lock()
		l.lines.lines = append(l.lines.lines, string(p))
		l.lines.mu.Unlock()
	}
	return len(p), nil
}
