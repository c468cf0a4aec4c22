// Package state persists the phase an update cycle has to resume at, so that
// progress survives process restarts and reboots.
package state

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
)

// FileName is the name of the state file below the base directory.
const FileName = "state"

// ErrCorrupt is returned by Read when the stored value is not a phase.
var ErrCorrupt = errors.New("state file holds no known phase")

// Store is the single-value phase store.
type Store interface {
	Read() (phase.Phase, error)
	Write(phase.Phase) error
	Clear() error
}

// File stores the phase as a single line of text.
type File struct {
	path string
}

var _ Store = (*File)(nil)

// NewFile stores the phase in basedir/state.
func NewFile(basedir string) *File {
	return &File{path: filepath.Join(basedir, FileName)}
}

// Path is the location of the state file.
func (f *File) Path() string {
	return f.path
}

// Read returns the stored phase, or phase.Initial when nothing is stored.
func (f *File) Read() (phase.Phase, error) {
	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return phase.Initial, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "unable to open state file")
	}
	defer fh.Close()

	line, err := bufio.NewReader(fh).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "unable to read state file")
	}
	raw := strings.TrimRight(line, "\n")
	p, err := phase.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(ErrCorrupt, "found %q", raw)
	}
	return p, nil
}

// Write replaces the stored phase. The new value is written next to the state
// file and renamed over it, so a crash leaves either the old or the new value.
func (f *File) Write(p phase.Phase) error {
	if !p.Valid() {
		return errors.Wrapf(phase.ErrUnknown, "refusing to store %q", p)
	}
	err := renameio.WriteFile(f.path, []byte(p.String()+"\n"), 0644,
		renameio.WithTempDir(filepath.Dir(f.path)),
		renameio.WithStaticPermissions(0644))
	if err != nil {
		return errors.Wrap(err, "unable to write state file")
	}
	return nil
}

// Clear removes the stored phase. A missing state file is not an error.
func (f *File) Clear() error {
	err := os.Remove(f.path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "unable to remove state file")
}
