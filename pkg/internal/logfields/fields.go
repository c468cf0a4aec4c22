package logfields

import (
	"github.com/sirupsen/logrus"
)

// Keys shared between the log output and the hook records built from it.
const (
	Phase      = "phase"
	Script     = "script"
	ReturnCode = "return_code"
	User       = "user"
	Lock       = "lock"
)

// InPhase scopes an entry to the phase it was emitted in.
func InPhase(phase string) logrus.Fields {
	return logrus.Fields{
		Phase: phase,
	}
}

// ForScript scopes an entry to a script run within a phase.
func ForScript(phase, script string) logrus.Fields {
	return logrus.Fields{
		Phase:  phase,
		Script: script,
	}
}

// Result records the return code of a finished script.
func Result(phase, script string, rc int) logrus.Fields {
	return logrus.Fields{
		Phase:      phase,
		Script:     script,
		ReturnCode: rc,
	}
}
