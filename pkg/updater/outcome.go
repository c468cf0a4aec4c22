package updater

import (
	"github.com/schlitzered/DLMEngineUpdater/pkg/metrics"
)

// Kind classifies how a run ended.
type Kind int

const (
	// Done is a completed update cycle.
	Done Kind = iota
	// Halt is a run that ended early without anything being wrong: no update
	// was needed, the date did not match or the reboot was not ours.
	Halt
	// Reboot is a run that handed the host to the reboot.
	Reboot
	// Fatal is a run that failed. Any held lock and the persisted phase are
	// kept for an operator to look at.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Done:
		return metrics.OutcomeDone
	case Halt:
		return metrics.OutcomeHalt
	case Reboot:
		return metrics.OutcomeReboot
	case Fatal:
		return metrics.OutcomeFatal
	}
	return "unknown"
}

// Outcome is the result of a run.
type Outcome struct {
	Kind   Kind
	Reason string
	Err    error
}

// ExitCode is the process exit status for o.
func (o Outcome) ExitCode() int {
	if o.Kind == Fatal {
		return 1
	}
	return 0
}

func done(reason string) Outcome {
	return Outcome{Kind: Done, Reason: reason}
}

func halt(reason string) Outcome {
	return Outcome{Kind: Halt, Reason: reason}
}

func fatal(err error, reason string) Outcome {
	return Outcome{Kind: Fatal, Reason: reason, Err: err}
}
