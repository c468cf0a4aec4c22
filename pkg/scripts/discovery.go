// Package scripts finds the scripts a phase runs and decides which of them are
// trustworthy enough to execute.
package scripts

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/sirupsen/logrus"
)

// UserScriptDir is the directory below a script user's home holding that
// user's phase directories.
const UserScriptDir = "dlm_engine_updater"

// Descriptor is a script that passed the execution policy together with the
// account it runs as.
type Descriptor struct {
	Path string
	User string
}

// Discovery lists the scripts of a phase directory.
type Discovery struct {
	log         logging.Logger
	meta        Metadata
	users       UserDB
	basedir     string
	scriptUsers []string
}

// Config locates the script directories.
type Config struct {
	// BaseDir holds the root owned phase directories.
	BaseDir string
	// ScriptUsers are the accounts whose home directories may contribute
	// scripts to phases that include user scripts.
	ScriptUsers []string
}

// New creates a Discovery. A nil meta reads the local filesystem, a nil users
// resolves accounts through the system user database.
func New(log logging.Logger, cfg Config, meta Metadata, users UserDB) *Discovery {
	if meta == nil {
		meta = OSMetadata{}
	}
	if users == nil {
		users = NewUserDB()
	}
	return &Discovery{
		log:         log,
		meta:        meta,
		users:       users,
		basedir:     cfg.BaseDir,
		scriptUsers: cfg.ScriptUsers,
	}
}

// RootUser is the account of this process, the owner of the base directory
// scripts.
func (d *Discovery) RootUser() (User, error) {
	return d.users.Current()
}

// Scripts lists the runnable scripts of the directory named name. Scripts from
// the base directory come first, followed by those of the configured script
// users when includeUsers is set. Each group is ordered by file name.
func (d *Discovery) Scripts(name string, includeUsers bool, phase string) ([]Descriptor, error) {
	root, err := d.users.Current()
	if err != nil {
		return nil, err
	}
	scripts := d.List(filepath.Join(d.basedir, name), root, phase)
	if !includeUsers {
		return scripts, nil
	}

	var userScripts []Descriptor
	for _, u := range d.resolveScriptUsers(phase) {
		dir := filepath.Join(u.Home, UserScriptDir, name)
		userScripts = append(userScripts, d.List(dir, u, phase)...)
	}
	sortByBase(userScripts)
	return append(scripts, userScripts...), nil
}

func (d *Discovery) resolveScriptUsers(phase string) []User {
	var users []User
	for _, name := range d.scriptUsers {
		u, err := d.users.Lookup(name)
		if err != nil {
			d.log.WithFields(logfields.InPhase(phase)).
				WithField(logfields.User, name).
				WithError(err).Warn("unknown script user, skipping")
			continue
		}
		users = append(users, u)
	}
	return users
}

// List returns the scripts in dir that may run as u, ordered by file name. A
// missing directory has no scripts.
func (d *Discovery) List(dir string, u User, phase string) []Descriptor {
	log := d.log.WithFields(logfields.InPhase(phase)).WithField(logfields.User, u.Name)

	names, err := d.meta.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).WithField("dir", dir).Warn("unable to list script directory")
		}
		return nil
	}

	var scripts []Descriptor
	for _, name := range names {
		path := filepath.Join(dir, name)
		flog := log.WithField("file", path)
		flog.Debug("found file")

		info, err := d.meta.Stat(path)
		if err != nil {
			flog.WithError(err).Warn("unable to stat file, skipping")
			continue
		}
		if !info.Regular {
			flog.Debug("not a regular file, skipping")
			continue
		}
		if ok, reason := IsSafeToExecute(info, u.UID); !ok {
			flog.WithFields(logrus.Fields{"reason": reason}).Warnf("file %s, skipping", reason)
			continue
		}
		scripts = append(scripts, Descriptor{Path: path, User: u.Name})
	}
	sortByBase(scripts)
	return scripts
}

func sortByBase(scripts []Descriptor) {
	sort.SliceStable(scripts, func(i, j int) bool {
		return filepath.Base(scripts[i].Path) < filepath.Base(scripts[j].Path)
	})
}
