package plugin

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
)

// Manager fans hook calls out to the configured plugins. A misbehaving
// plugin is contained: panics are recovered and never reach the caller.
type Manager struct {
	log     logging.Logger
	plugins []Plugin
}

var _ logging.Hooker = (*Manager)(nil)

func NewManager(log logging.Logger, plugins []Plugin) *Manager {
	return &Manager{log: log, plugins: plugins}
}

// Plugins returns the managed plugins in call order.
func (m *Manager) Plugins() []Plugin {
	return m.plugins
}

// Init initializes every plugin, stopping at the first failure.
func (m *Manager) Init() error {
	for _, p := range m.plugins {
		log := m.log.WithField("plugin", p.Name())
		log.Info("initializing plugin")
		if err := m.initOne(p); err != nil {
			log.WithError(err).Error("plugin failed to initialize")
			return errors.WithMessagef(err, "plugin %q", p.Name())
		}
		log.Info("plugin initialized")
	}
	return nil
}

func (m *Manager) initOne(p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return p.Init(m.log.WithField("plugin", p.Name()))
}

// RunPhasePre asks every PhaseHook whether pc.Phase may start. The phase may
// start only if no hook rejects it.
func (m *Manager) RunPhasePre(ctx context.Context, pc Context) bool {
	return m.runPhase(ctx, pc, "phase_pre", PhaseHook.PhasePre, "prevented phase %s execution")
}

// RunPhasePost asks every PhaseHook whether pc.Phase completed acceptably.
func (m *Manager) RunPhasePost(ctx context.Context, pc Context) bool {
	return m.runPhase(ctx, pc, "phase_post", PhaseHook.PhasePost, "failed phase %s execution")
}

func (m *Manager) runPhase(ctx context.Context, pc Context, hook string,
	call func(PhaseHook, context.Context, Context) bool, rejectMsg string) bool {
	allow := true
	for _, p := range m.plugins {
		h, ok := p.(PhaseHook)
		if !ok {
			continue
		}
		log := m.log.WithFields(logfields.InPhase(pc.Phase.String())).WithField("plugin", p.Name())
		ok, err := safePhase(func() bool { return call(h, ctx, pc) })
		if err != nil {
			log.WithError(err).Errorf("error in plugin %s", hook)
			continue
		}
		if !ok {
			log.Warnf(rejectMsg, pc.Phase)
			allow = false
		}
	}
	return allow
}

func safePhase(fn func() bool) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(), nil
}

// LogPre implements logging.Hooker.
func (m *Manager) LogPre(rec logging.Record) {
	for _, p := range m.plugins {
		if h, ok := p.(LoggerHook); ok {
			safeLog(h.LogPre, rec)
		}
	}
}

// LogPost implements logging.Hooker.
func (m *Manager) LogPost(rec logging.Record) {
	for _, p := range m.plugins {
		if h, ok := p.(LoggerHook); ok {
			safeLog(h.LogPost, rec)
		}
	}
}

func safeLog(fn func(logging.Record), rec logging.Record) {
	// Nothing can be reported from here without recursing into the logger.
	defer func() { _ = recover() }()
	fn(rec)
}
