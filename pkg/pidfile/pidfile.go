// Package pidfile keeps a second updater from running on the same host.
package pidfile

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileName is the pidfile's name below the base directory.
const FileName = "lock"

// ErrLocked is returned when another process holds the pidfile.
var ErrLocked = errors.New("another instance is running")

// File is a held pidfile.
type File struct {
	f *os.File
}

// Path is the pidfile below basedir.
func Path(basedir string) string {
	return filepath.Join(basedir, FileName)
}

// acquireAttempts bounds how often Acquire reopens a pidfile that was
// replaced while it was being locked.
const acquireAttempts = 10

// locked runs between taking the lock and checking it still covers path.
var locked = func() {}

// Acquire takes an exclusive lock on the file at path and records this
// process' pid in it. The lock is released by Release or when the process
// exits.
func Acquire(path string) (*File, error) {
	for i := 0; i < acquireAttempts; i++ {
		f, err := lock(path)
		if err != nil {
			return nil, err
		}
		// A releasing instance unlinks the file it locked. Holding that
		// inode locks nothing another instance would see.
		if !current(f, path) {
			f.Close()
			continue
		}
		if err := f.Truncate(0); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "unable to truncate pidfile")
		}
		if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "unable to write pidfile")
		}
		return &File{f: f}, nil
	}
	return nil, errors.Errorf("pidfile %s kept being replaced", path)
}

func lock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open pidfile")
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errors.Wrapf(ErrLocked, "%s", path)
		}
		return nil, errors.Wrap(err, "unable to lock pidfile")
	}
	locked()
	return f, nil
}

// current reports whether path still names the file f has open.
func current(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, named)
}

// Release removes the pidfile and gives up the lock.
func (p *File) Release() error {
	name := p.f.Name()
	// Unlink before the lock goes away with the descriptor.
	rmErr := os.Remove(name)
	if err := p.f.Close(); err != nil {
		return errors.Wrap(err, "unable to close pidfile")
	}
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return errors.Wrap(rmErr, "unable to remove pidfile")
	}
	return nil
}
