package scripts

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// FileInfo is the subset of file metadata the execution policy looks at.
type FileInfo struct {
	Regular bool
	UID     uint32
	Mode    os.FileMode
}

// Metadata answers metadata queries for candidate scripts.
type Metadata interface {
	// Stat follows symlinks, a link to a regular file is a regular file.
	Stat(path string) (FileInfo, error)
	// ReadDir lists the entry names of dir. A missing dir is reported with an
	// error satisfying os.IsNotExist.
	ReadDir(dir string) ([]string, error)
}

// OSMetadata reads metadata from the local filesystem.
type OSMetadata struct{}

var _ Metadata = OSMetadata{}

func (OSMetadata) Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return FileInfo{}, errors.Errorf("no ownership information for %q", path)
	}
	return FileInfo{
		Regular: fi.Mode().IsRegular(),
		UID:     st.Uid,
		Mode:    fi.Mode(),
	}, nil
}

func (OSMetadata) ReadDir(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}
