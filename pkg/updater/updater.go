// Package updater drives the update cycle of a host through its phases,
// persisting the phase to resume at after every step.
package updater

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/metrics"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
	"github.com/schlitzered/DLMEngineUpdater/pkg/pidfile"
	"github.com/schlitzered/DLMEngineUpdater/pkg/platform"
	"github.com/schlitzered/DLMEngineUpdater/pkg/runner"
	"github.com/schlitzered/DLMEngineUpdater/pkg/schedule"
	"github.com/schlitzered/DLMEngineUpdater/pkg/state"
)

// Lock is the distributed lock serializing updates across the fleet.
type Lock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	LockName() string
	// Waited is the accounted time the last Acquire spent waiting.
	Waited() int
}

// PhaseRunner runs the scripts of a phase.
type PhaseRunner interface {
	Enter(p phase.Phase)
	SetLockAcquired(held bool)
	Detect(ctx context.Context, p phase.Phase) (found bool, ran int, err error)
	RunAll(ctx context.Context, p phase.Phase) error
	Notify(ctx context.Context, n runner.Notice)
}

var _ PhaseRunner = (*runner.Runner)(nil)

// Options are the per-invocation settings.
type Options struct {
	// AfterReboot marks the run started while the host boots. It only
	// continues a cycle whose reboot this updater requested.
	AfterReboot bool
	// Constraints gate the run to some days of the month.
	Constraints schedule.Constraints
	// RandomSleep is the upper bound in seconds of a delay before the cycle
	// starts.
	RandomSleep int
	// PidFile keeps a second instance from running, none when empty.
	PidFile string
	// User is the account running the updater.
	User string
}

// Updater is the orchestrator of the update cycle.
type Updater struct {
	log      logging.Logger
	store    state.Store
	lock     Lock
	runner   PhaseRunner
	rebooter platform.Rebooter
	metrics  *metrics.Recorder
	opts     Options

	progress progression

	now   func() time.Time
	intn  func(int) int
	sleep func(context.Context, time.Duration) error
}

// New creates an Updater. A nil rebooter leaves rebooting to the reboot
// scripts and continues with post_update in the same run, as does
// platform.None.
func New(log logging.Logger, store state.Store, lock Lock, run PhaseRunner, rebooter platform.Rebooter, rec *metrics.Recorder, opts Options) *Updater {
	return &Updater{
		log:      log,
		store:    store,
		lock:     lock,
		runner:   run,
		rebooter: rebooter,
		metrics:  rec,
		opts:     opts,
		now:      time.Now,
		intn:     rand.Intn,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run performs one invocation: the checks gating the cycle and then the
// phases until the run ends.
func (u *Updater) Run(ctx context.Context) Outcome {
	u.progress.Reset()
	out := u.run(ctx)

	log := u.log.WithField("outcome", out.Kind.String()).WithField("phases", u.progress.Phases())
	if out.Kind == Fatal {
		log = log.WithField("lock_held", u.progress.LockHeld())
	}
	if out.Err != nil {
		log = log.WithError(out.Err)
	}
	if out.Kind == Fatal {
		log.Error(out.Reason)
	} else {
		log.Info(out.Reason)
	}

	u.metrics.Outcome(out.Kind.String(), u.now())
	if err := u.metrics.Write(); err != nil {
		u.log.WithError(err).Warn("unable to write metrics")
	}
	return out
}

func (u *Updater) run(ctx context.Context) Outcome {
	u.log.Infof("running dlm engine updater as %s", u.opts.User)

	if len(u.opts.Constraints) == 0 {
		u.log.Info("no date constraint set")
	} else {
		now := u.now()
		u.log.WithField("constraints", u.opts.Constraints.String()).Info("checking date constraints")
		if !u.opts.Constraints.Matches(now) {
			return halt("no date constraint matched")
		}
		u.log.Infof("today matches %s, running", u.opts.Constraints)
	}

	if u.opts.PidFile != "" {
		pid, err := pidfile.Acquire(u.opts.PidFile)
		if err != nil {
			return fatal(err, "unable to acquire pidfile")
		}
		defer func() {
			if err := pid.Release(); err != nil {
				u.log.WithError(err).Warn("unable to release pidfile")
			}
		}()
	}

	if u.opts.AfterReboot {
		current, err := u.store.Read()
		if err != nil && errors.Cause(err) != state.ErrCorrupt {
			return fatal(err, "unable to read state")
		}
		if err != nil || current != phase.PostUpdate {
			return halt("reboot was not triggered by dlm_engine_updater, exiting")
		}
		u.log.Info("reboot was triggered by dlm_engine_updater, picking up remaining tasks")
	}

	if u.opts.RandomSleep > 0 {
		secs := u.intn(u.opts.RandomSleep + 1)
		u.log.Infof("sleeping %d seconds", secs)
		if err := u.sleep(ctx, time.Duration(secs)*time.Second); err != nil {
			return fatal(err, "interrupted while sleeping")
		}
		u.log.Infof("sleeping %d seconds, done", secs)
	}

	return u.loop(ctx)
}

func (u *Updater) loop(ctx context.Context) Outcome {
	for {
		if err := ctx.Err(); err != nil {
			return fatal(context.Cause(ctx), "interrupted")
		}
		current, err := u.store.Read()
		if err != nil {
			if errors.Cause(err) != state.ErrCorrupt {
				return fatal(err, "unable to read state")
			}
			u.log.WithError(err).Error("found garbage in status file")
			u.clearState()
			return fatal(err, "corrupt state cleared")
		}

		u.progress.Enter(current)
		u.runner.Enter(current)
		u.metrics.Phase(current)

		next, out := u.step(ctx, current)
		if out != nil {
			return *out
		}
		if err := u.setPhase(next); err != nil {
			return fatal(err, "could not set state")
		}
	}
}

// step performs current's action. It returns either the phase to continue
// with or the outcome ending the run.
func (u *Updater) step(ctx context.Context, current phase.Phase) (phase.Phase, *Outcome) {
	var (
		decision = phase.Proceed
		err      error
	)
	switch current {
	case phase.NeedsUpdate:
		decision, err = u.needsUpdate(ctx)
	case phase.LockGet:
		err = u.lockGet(ctx)
	case phase.PreUpdate, phase.Update:
		err = u.runner.RunAll(ctx, current)
	case phase.NeedsReboot:
		decision, err = u.needsReboot(ctx)
	case phase.Reboot:
		var out *Outcome
		out, err = u.reboot(ctx)
		if out != nil {
			u.metrics.PhaseResult(current, nil)
			return "", out
		}
	case phase.PostUpdate:
		u.progress.SetLockHeld(true)
		u.runner.SetLockAcquired(true)
		err = u.runner.RunAll(ctx, current)
	case phase.LockRelease:
		err = u.lockRelease(ctx)
	}
	u.metrics.PhaseResult(current, err)
	if err != nil {
		out := fatal(err, current.String()+" failed, stopping")
		return "", &out
	}

	next, finished, err := phase.Next(current, decision)
	if err != nil {
		out := fatal(err, "no transition")
		return "", &out
	}
	if finished {
		var out Outcome
		if current == phase.LockRelease {
			out = done("update cycle complete")
		} else {
			out = halt("no updates available")
		}
		return "", &out
	}
	return next, nil
}

func (u *Updater) needsUpdate(ctx context.Context) (phase.Decision, error) {
	log := u.log.WithFields(logfields.InPhase(phase.NeedsUpdate.String()))
	log.Info("checking if updates are available")
	found, _, err := u.runner.Detect(ctx, phase.NeedsUpdate)
	if err != nil {
		return phase.Skip, err
	}
	if !found {
		log.Info("no updates available")
		u.runner.Notify(ctx, runner.Notice{Phase: phase.Main.String(), Script: "none", UpdaterRunning: false})
		return phase.Skip, nil
	}
	log.Info("updates are available")
	return phase.Proceed, nil
}

func (u *Updater) lockGet(ctx context.Context) error {
	err := u.lock.Acquire(ctx)
	u.metrics.LockWait(u.lock.Waited())
	if err != nil {
		return err
	}
	u.progress.SetLockHeld(true)
	u.runner.SetLockAcquired(true)
	u.runner.Notify(ctx, runner.Notice{Phase: phase.Main.String(), Script: "none", UpdaterRunning: true})
	return nil
}

func (u *Updater) needsReboot(ctx context.Context) (phase.Decision, error) {
	log := u.log.WithFields(logfields.InPhase(phase.NeedsReboot.String()))
	log.Info("running needs reboot scripts")
	found, ran, err := u.runner.Detect(ctx, phase.NeedsReboot)
	if err != nil {
		return phase.Skip, err
	}
	switch {
	case ran == 0:
		// Unlike needs_update, no scripts means yes.
		log.Info("no needs_reboot scripts found, defaulting to reboot")
		return phase.Proceed, nil
	case found:
		log.Info("reboot required")
		return phase.Proceed, nil
	}
	log.Info("no reboot required")
	return phase.Skip, nil
}

// reboot persists post_update before anything else, the scripts may restart
// the host themselves.
func (u *Updater) reboot(ctx context.Context) (*Outcome, error) {
	u.log.WithFields(logfields.InPhase(phase.Reboot.String())).Info("rebooting")
	if err := u.setPhase(phase.PostUpdate); err != nil {
		return nil, err
	}
	if err := u.runner.RunAll(ctx, phase.Reboot); err != nil {
		return nil, err
	}
	if u.rebooter == nil {
		return nil, nil
	}
	if _, none := u.rebooter.(platform.None); none {
		return nil, nil
	}
	if err := u.rebooter.Reboot(ctx); err != nil {
		return nil, errors.WithMessage(err, "unable to reboot")
	}
	out := Outcome{Kind: Reboot, Reason: "reboot requested, resuming at post_update after reboot"}
	return &out, nil
}

func (u *Updater) lockRelease(ctx context.Context) error {
	u.log.WithFields(logfields.InPhase(phase.LockRelease.String())).Info("releasing lock")
	if err := u.lock.Release(ctx); err != nil {
		return err
	}
	u.progress.SetLockHeld(false)
	u.runner.SetLockAcquired(false)
	u.runner.Notify(ctx, runner.Notice{Phase: phase.Main.String(), Script: "none", UpdaterRunning: false})
	u.clearState()
	return nil
}

func (u *Updater) setPhase(p phase.Phase) error {
	u.log.Infof("setting task to %s", p)
	return u.store.Write(p)
}

// clearState removes the persisted phase. A failure is only logged, the next
// run may then resume at the stale phase.
func (u *Updater) clearState() {
	if err := u.store.Clear(); err != nil {
		u.log.WithError(err).Error("could not remove state file")
	}
}
