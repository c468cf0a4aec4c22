// Package runner executes the scripts of a phase and the notification and
// failure scripts that accompany them.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin"
	"github.com/schlitzered/DLMEngineUpdater/pkg/scripts"
)

// Environment handed to every script.
const (
	EnvLockName = "DLM_ENGINE_UPDATER_LOCK_NAME"
	EnvPhase    = "DLM_ENGINE_UPDATER_PHASE"
)

// ErrRejected is returned when a phase hook rejected a phase.
var ErrRejected = errors.New("rejected by plugin")

// ScriptError reports the script that made a phase fail.
type ScriptError struct {
	Phase      phase.Phase
	Script     string
	ReturnCode int
	// Err is set when the script could not be run at all.
	Err error
}

func (e *ScriptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: script %s: %v", e.Phase, e.Script, e.Err)
	}
	return fmt.Sprintf("%s: script %s exited with %d", e.Phase, e.Script, e.ReturnCode)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Lister finds the scripts of a script directory.
type Lister interface {
	Scripts(name string, includeUsers bool, phase string) ([]scripts.Descriptor, error)
}

// PhaseHooks is consulted around the phases that allow plugins to veto them.
type PhaseHooks interface {
	RunPhasePre(ctx context.Context, pc plugin.Context) bool
	RunPhasePost(ctx context.Context, pc plugin.Context) bool
}

// Config holds what the runner hands to every script.
type Config struct {
	LockName string
}

// Runner runs scripts one at a time on the calling goroutine.
type Runner struct {
	log      logging.Logger
	lister   Lister
	users    scripts.UserDB
	hooks    PhaseHooks
	lockName string

	current      phase.Phase
	lockAcquired bool

	command func(name string, args ...string) *exec.Cmd
}

// New creates a Runner. hooks may be nil when no plugins are configured.
func New(log logging.Logger, cfg Config, lister Lister, users scripts.UserDB, hooks PhaseHooks) *Runner {
	return &Runner{
		log:      log,
		lister:   lister,
		users:    users,
		hooks:    hooks,
		lockName: cfg.LockName,
		current:  phase.Initial,
		command:  exec.Command,
	}
}

// Enter records the phase the updater is in, handed to scripts through the
// environment.
func (r *Runner) Enter(p phase.Phase) {
	r.current = p
}

// SetLockAcquired records whether the updater believes to hold the lock.
func (r *Runner) SetLockAcquired(held bool) {
	r.lockAcquired = held
}

// LockAcquired reports the updater's belief about holding the lock.
func (r *Runner) LockAcquired() bool {
	return r.lockAcquired
}

// Notice is what the notification and failure scripts are told about.
type Notice struct {
	// Phase is a phase name or "main" for the updater itself.
	Phase      string
	Script     string
	ReturnCode int
	// UpdaterRunning is false once the updater is done with this run.
	UpdaterRunning bool
}

func (r *Runner) noticeArgs(n Notice) []string {
	return []string{
		r.lockName,
		pyBool(r.lockAcquired),
		pyBool(n.UpdaterRunning),
		n.Phase,
		n.Script,
		strconv.Itoa(n.ReturnCode),
	}
}

// pyBool renders booleans the way existing notification scripts expect them.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Notify runs the notification scripts. Their outcome is logged and
// otherwise ignored.
func (r *Runner) Notify(ctx context.Context, n Notice) {
	r.sideChannel(ctx, phase.NotifyDir, "running ext notify script", n, n.Script)
}

// OnFailure runs the failure scripts. Their outcome is logged and otherwise
// ignored.
func (r *Runner) OnFailure(ctx context.Context, n Notice) {
	r.sideChannel(ctx, phase.OnFailureDir, "running on failure script", n, "")
}

func (r *Runner) sideChannel(ctx context.Context, dir, msg string, n Notice, logScript string) {
	log := r.log.WithFields(logfields.InPhase(n.Phase))
	list, err := r.lister.Scripts(dir, false, n.Phase)
	if err != nil {
		log.WithError(err).Errorf("unable to list %s", dir)
		return
	}
	args := r.noticeArgs(n)
	for _, s := range list {
		log.Infof("%s: %s", msg, s.Path)
		rc, err := r.Exec(ctx, Invocation{Script: s, Args: args, Phase: n.Phase, LogScript: logScript})
		if err != nil {
			log.WithError(err).WithField("file", s.Path).Error("unable to run script")
			continue
		}
		if rc != 0 {
			log.WithField("file", s.Path).WithField(logfields.ReturnCode, rc).Warn("script exited non-zero")
		}
	}
}

// Detect runs the scripts of p until one exits non-zero, which means found.
// ran is the number of scripts that were run. A script that cannot be run
// is an error.
func (r *Runner) Detect(ctx context.Context, p phase.Phase) (found bool, ran int, err error) {
	log := r.log.WithFields(logfields.InPhase(p.String()))
	list, err := r.lister.Scripts(p.ScriptDir(), false, p.String())
	if err != nil {
		return false, 0, errors.Wrapf(err, "unable to list %s scripts", p)
	}
	for _, s := range list {
		log.Infof("running: %s", s.Path)
		rc, err := r.Exec(ctx, Invocation{Script: s, Phase: p.String(), LogScript: s.Path})
		ran++
		if err != nil {
			return false, ran, &ScriptError{Phase: p, Script: s.Path, ReturnCode: rc, Err: err}
		}
		r.log.WithFields(logfields.Result(p.String(), s.Path, rc)).Infof("running: %s done", s.Path)
		r.Notify(ctx, Notice{Phase: p.String(), Script: s.Path, ReturnCode: rc, UpdaterRunning: true})
		if rc != 0 {
			return true, ran, nil
		}
	}
	return false, ran, nil
}

// RunAll runs every script of p and stops at the first failure, which runs
// the failure scripts and is returned as a *ScriptError. The pre_update and
// post_update phases are additionally subject to the phase hooks.
func (r *Runner) RunAll(ctx context.Context, p phase.Phase) error {
	log := r.log.WithFields(logfields.InPhase(p.String()))
	pc := plugin.Context{Phase: p, LockName: r.lockName, LockAcquired: r.lockAcquired}
	hooked := r.hooks != nil && p.UserScripts()

	if hooked && !r.hooks.RunPhasePre(ctx, pc) {
		log.Errorf("%s plugin failed, stopping", p)
		return errors.Wrapf(ErrRejected, "before %s", p)
	}

	list, err := r.lister.Scripts(p.ScriptDir(), p.UserScripts(), p.String())
	if err != nil {
		return errors.Wrapf(err, "unable to list %s scripts", p)
	}
	for _, s := range list {
		log.Infof("running: %s", s.Path)
		rc, err := r.Exec(ctx, Invocation{Script: s, Phase: p.String(), LogScript: s.Path})
		if err != nil || rc != 0 {
			flog := r.log.WithFields(logfields.Result(p.String(), s.Path, rc))
			if err != nil {
				flog = flog.WithError(err)
			}
			flog.Error("script failed, stopping, keeping lock")
			r.OnFailure(ctx, Notice{Phase: p.String(), Script: s.Path, ReturnCode: rc, UpdaterRunning: true})
			return &ScriptError{Phase: p, Script: s.Path, ReturnCode: rc, Err: err}
		}
		r.Notify(ctx, Notice{Phase: p.String(), Script: s.Path, ReturnCode: rc, UpdaterRunning: true})
		r.log.WithFields(logfields.Result(p.String(), s.Path, rc)).Infof("running: %s done", s.Path)
	}

	if hooked && !r.hooks.RunPhasePost(ctx, pc) {
		log.Errorf("%s plugin failed, stopping", p)
		return errors.Wrapf(ErrRejected, "after %s", p)
	}
	return nil
}
