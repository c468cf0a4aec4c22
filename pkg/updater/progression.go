package updater

import (
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
)

// progression is what a run went through so far.
type progression struct {
	phases   []phase.Phase
	lockHeld bool
}

func (p *progression) Enter(ph phase.Phase) {
	p.phases = append(p.phases, ph)
}

func (p *progression) Phases() []phase.Phase {
	return p.phases
}

func (p *progression) SetLockHeld(held bool) {
	p.lockHeld = held
}

// LockHeld is the belief about holding the lock; the lock service is the
// authority.
func (p *progression) LockHeld() bool {
	return p.lockHeld
}

func (p *progression) Reset() {
	p.phases = nil
	p.lockHeld = false
}
