package phase

import (
	"github.com/pkg/errors"
)

// Decision is the result a phase reports to pick among its outgoing edges.
type Decision int

const (
	// Proceed follows the phase's only edge, or the positive edge of a
	// detection phase (update needed, reboot needed).
	Proceed Decision = iota
	// Skip follows the negative edge of a detection phase.
	Skip
)

type edges struct {
	proceed Phase
	// skip is "" when leaving the phase on the negative edge ends the run.
	skip Phase
	// terminal marks edges after which the run ends.
	terminal bool
}

var nextLinear = map[Phase]edges{
	// Detection, nothing to do ends the run.
	NeedsUpdate: {proceed: LockGet},

	// Linear progression
	LockGet:   {proceed: PreUpdate},
	PreUpdate: {proceed: Update},
	Update:    {proceed: NeedsReboot},

	NeedsReboot: {proceed: Reboot, skip: PostUpdate},
	// The host goes down after reboot; the after-reboot run resumes at
	// post_update.
	Reboot:     {proceed: PostUpdate},
	PostUpdate: {proceed: LockRelease},
	// FIN. Releasing the lock completes the cycle.
	LockRelease: {terminal: true},
}

// Next calculates the phase that follows p for the given decision. done is
// true when the decision ends the run instead of moving to another phase.
func Next(p Phase, d Decision) (next Phase, done bool, err error) {
	e, ok := nextLinear[p]
	if !ok {
		return "", false, errors.Wrapf(ErrUnknown, "no next phase from %q", p)
	}
	if e.terminal {
		return "", true, nil
	}
	switch d {
	case Proceed:
		return e.proceed, false, nil
	case Skip:
		if e.skip == "" {
			return "", true, nil
		}
		return e.skip, false, nil
	}
	return "", false, errors.Errorf("invalid decision %d for %q", d, p)
}
