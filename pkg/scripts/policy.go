package scripts

import (
	"fmt"
)

const (
	modeUserExec   = 0100
	modeGroupWrite = 0020
	modeOtherWrite = 0002
)

// IsSafeToExecute decides whether a file with the given metadata may be run on
// behalf of the user with uid owner. When it may not, reason says why.
//
// A script is only run when its owner is the user it runs as, the owner may
// execute it, and neither group nor others may modify it.
func IsSafeToExecute(info FileInfo, owner uint32) (ok bool, reason string) {
	perm := info.Mode.Perm()
	switch {
	case !info.Regular:
		return false, "not a regular file"
	case info.UID != owner:
		return false, fmt.Sprintf("not owned by uid %d", owner)
	case perm&modeUserExec == 0:
		return false, "not executable by owner"
	case perm&modeOtherWrite != 0:
		return false, "world writeable"
	case perm&modeGroupWrite != 0:
		return false, "group writeable"
	}
	return true, ""
}
