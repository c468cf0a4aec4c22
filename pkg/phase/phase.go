// Package phase names the fixed steps an update cycle moves through and the
// order in which they are taken.
package phase

import (
	"github.com/pkg/errors"
)

// Phase is a step of the update cycle. Its string form is what gets persisted
// and what scripts see in DLM_ENGINE_UPDATER_PHASE.
type Phase string

const (
	NeedsUpdate Phase = "needs_update"
	LockGet     Phase = "lock_get"
	PreUpdate   Phase = "pre_update"
	Update      Phase = "update"
	NeedsReboot Phase = "needs_reboot"
	Reboot      Phase = "reboot"
	PostUpdate  Phase = "post_update"
	LockRelease Phase = "lock_release"

	// Main is not a step of the cycle. It labels hook invocations and log
	// entries that belong to the updater as a whole.
	Main Phase = "main"
)

// Initial is where a host without persisted progress starts.
const Initial = NeedsUpdate

// ErrUnknown is returned for values that are not a Phase of the cycle.
var ErrUnknown = errors.New("unknown phase")

var all = []Phase{
	NeedsUpdate,
	LockGet,
	PreUpdate,
	Update,
	NeedsReboot,
	Reboot,
	PostUpdate,
	LockRelease,
}

// All returns the phases of the cycle in the order a full run visits them.
func All() []Phase {
	out := make([]Phase, len(all))
	copy(out, all)
	return out
}

// Parse maps a persisted value back to its Phase.
func Parse(s string) (Phase, error) {
	for _, p := range all {
		if string(p) == s {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrUnknown, "%q", s)
}

// Valid reports whether p is a step of the cycle.
func (p Phase) Valid() bool {
	_, err := Parse(string(p))
	return err == nil
}

func (p Phase) String() string {
	return string(p)
}

// ScriptDir is the directory name, relative to a script root, holding the
// scripts of p. Phases without scripts return "".
func (p Phase) ScriptDir() string {
	switch p {
	case NeedsUpdate, PreUpdate, Update, NeedsReboot, Reboot, PostUpdate:
		return string(p) + ".d"
	}
	return ""
}

// UserScripts reports whether the per-user script directories take part in p
// in addition to the root owned one.
func (p Phase) UserScripts() bool {
	return p == PreUpdate || p == PostUpdate
}

// Side channel script directories, run around every phase.
const (
	NotifyDir    = "ext_notify.d"
	OnFailureDir = "on_failure.d"
)
