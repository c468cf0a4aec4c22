package logging

import (
	"io"
	"sync"

	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
	"github.com/sirupsen/logrus"
)

// Record is the view of a log entry handed to hooks.
type Record struct {
	Level   logrus.Level
	Message string
	// Phase is "main" for entries outside a phase.
	Phase  string
	Script string
	// ReturnCode is nil when the entry was not about a finished script.
	ReturnCode *int
}

// Hooker is notified before and after every emitted log entry. Entries below
// the logger's level are not emitted and reach no hook. Hookers must not log
// through this package; anything they emit belongs on their own sink.
type Hooker interface {
	LogPre(Record)
	LogPost(Record)
}

// Hooks installs h around every log entry of the root logger. The pre call
// happens before the entry is formatted, the post call once it was written.
func Hooks(h Hooker) Setter {
	return func(r *logrus.Logger) error {
		b := &hookBridge{hooker: h}
		pw, ok := r.Out.(*postWriter)
		if !ok {
			pw = &postWriter{out: r.Out}
			r.SetOutput(pw)
		}
		pw.setBridge(b)
		r.AddHook(b)
		// logrus holds its lock while writing, which is when LogPost runs.
		// postWriter serializes writes instead.
		r.SetNoLock()
		return nil
	}
}

func recordOf(entry *logrus.Entry) Record {
	rec := Record{
		Level:   entry.Level,
		Message: entry.Message,
		Phase:   phase.Main.String(),
	}
	if v, ok := entry.Data[logfields.Phase].(string); ok {
		rec.Phase = v
	}
	if v, ok := entry.Data[logfields.Script].(string); ok {
		rec.Script = v
	}
	if v, ok := entry.Data[logfields.ReturnCode].(int); ok {
		rc := v
		rec.ReturnCode = &rc
	}
	return rec
}

type hookBridge struct {
	hooker Hooker

	mu      sync.Mutex
	firing  bool
	pending *Record
}

func (b *hookBridge) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (b *hookBridge) Fire(entry *logrus.Entry) error {
	b.mu.Lock()
	if b.firing {
		// A hook logged through us; drop it instead of recursing.
		b.mu.Unlock()
		return nil
	}
	b.firing = true
	b.mu.Unlock()

	rec := recordOf(entry)
	b.hooker.LogPre(rec)

	b.mu.Lock()
	b.firing = false
	b.pending = &rec
	b.mu.Unlock()
	return nil
}

func (b *hookBridge) post() {
	b.mu.Lock()
	rec := b.pending
	b.pending = nil
	if rec == nil || b.firing {
		b.mu.Unlock()
		return
	}
	b.firing = true
	b.mu.Unlock()

	b.hooker.LogPost(*rec)

	b.mu.Lock()
	b.firing = false
	b.mu.Unlock()
}

// postWriter sits in front of the logger's output to learn when an entry has
// been written.
type postWriter struct {
	mu     sync.Mutex
	out    io.Writer
	bridge *hookBridge
}

func (w *postWriter) setOut(out io.Writer) {
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()
}

func (w *postWriter) setBridge(b *hookBridge) {
	w.mu.Lock()
	w.bridge = b
	w.mu.Unlock()
}

func (w *postWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.out.Write(p)
	bridge := w.bridge
	w.mu.Unlock()

	if bridge != nil {
		bridge.post()
	}
	return n, err
}
