package plugin

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/testoutput"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

// testPlugin has hook functions that may be set per test.
type testPlugin struct {
	name      string
	init      func(logging.Logger) error
	phasePre  func(Context) bool
	phasePost func(Context) bool
	logPre    func(logging.Record)
	logPost   func(logging.Record)
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Init(log logging.Logger) error {
	if p.init != nil {
		return p.init(log)
	}
	return nil
}

func (p *testPlugin) PhasePre(_ context.Context, pc Context) bool {
	if p.phasePre != nil {
		return p.phasePre(pc)
	}
	return true
}

func (p *testPlugin) PhasePost(_ context.Context, pc Context) bool {
	if p.phasePost != nil {
		return p.phasePost(pc)
	}
	return true
}

func (p *testPlugin) LogPre(r logging.Record) {
	if p.logPre != nil {
		p.logPre(r)
	}
}

func (p *testPlugin) LogPost(r logging.Record) {
	if p.logPost != nil {
		p.logPost(r)
	}
}

// logOnly implements only LoggerHook.
type logOnly struct {
	seen int
}

func (*logOnly) Name() string              { return "log-only" }
func (*logOnly) Init(logging.Logger) error { return nil }
func (l *logOnly) LogPre(logging.Record)   { l.seen++ }
func (l *logOnly) LogPost(logging.Record)  {}

var preUpdate = Context{Phase: phase.PreUpdate, LockName: "patchday", LockAcquired: true}

func TestPhaseHooksAllAllow(t *testing.T) {
	var calls []string
	m := NewManager(testoutput.Logger(t, "plugin"), []Plugin{
		&testPlugin{name: "a", phasePre: func(pc Context) bool { calls = append(calls, "a:"+pc.Phase.String()); return true }},
		&logOnly{},
		&testPlugin{name: "b", phasePre: func(pc Context) bool { calls = append(calls, "b:"+pc.Phase.String()); return true }},
	})
	assert.Check(t, m.RunPhasePre(context.Background(), preUpdate))
	assert.DeepEqual(t, calls, []string{"a:pre_update", "b:pre_update"})
}

func TestPhaseHookRejectStillAsksOthers(t *testing.T) {
	log, lines := testoutput.Capture(t, "plugin")
	askedB := false
	m := NewManager(log, []Plugin{
		&testPlugin{name: "a", phasePost: func(Context) bool { return false }},
		&testPlugin{name: "b", phasePost: func(Context) bool { askedB = true; return true }},
	})
	assert.Check(t, !m.RunPhasePost(context.Background(), Context{Phase: phase.PostUpdate}))
	assert.Check(t, askedB)
	assert.Check(t, lines.Contains("failed phase post_update execution"))
}

func TestPhaseHookPanicIsContained(t *testing.T) {
	log, lines := testoutput.Capture(t, "plugin")
	m := NewManager(log, []Plugin{
		&testPlugin{name: "broken", phasePre: func(Context) bool { panic("boom") }},
	})
	// A crashing hook neither rejects nor crashes the caller.
	assert.Check(t, m.RunPhasePre(context.Background(), preUpdate))
	assert.Check(t, lines.Contains("error in plugin phase_pre"))
	assert.Check(t, lines.Contains("boom"))
}

func TestLogHooksContained(t *testing.T) {
	var got []string
	m := NewManager(testoutput.Logger(t, "plugin"), []Plugin{
		&testPlugin{name: "broken", logPre: func(logging.Record) { panic("boom") }},
		&testPlugin{name: "ok", logPre: func(r logging.Record) { got = append(got, r.Message) }},
	})
	m.LogPre(logging.Record{Message: "hello"})
	m.LogPost(logging.Record{Message: "hello"})
	assert.DeepEqual(t, got, []string{"hello"})
}

func TestInitStopsAtFailure(t *testing.T) {
	initialized := false
	m := NewManager(testoutput.Logger(t, "plugin"), []Plugin{
		&testPlugin{name: "bad", init: func(logging.Logger) error { return errors.New("no config") }},
		&testPlugin{name: "good", init: func(logging.Logger) error { initialized = true; return nil }},
	})
	err := m.Init()
	assert.Check(t, is.ErrorContains(err, `plugin "bad": no config`))
	assert.Check(t, !initialized)
}

func TestInitPanic(t *testing.T) {
	m := NewManager(testoutput.Logger(t, "plugin"), []Plugin{
		&testPlugin{name: "bad", init: func(logging.Logger) error { panic("nil map") }},
	})
	assert.Check(t, is.ErrorContains(m.Init(), "panic: nil map"))
}

// A hook that logs through the logger it observes must not recurse.
func TestManagerAsLoggerHooks(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	log := l.WithField("component", "test")

	var pre, post int
	p := &testPlugin{name: "noisy"}
	p.logPre = func(logging.Record) {
		pre++
		log.Info("from inside the hook")
	}
	p.logPost = func(logging.Record) {
		post++
		log.Info("after the fact")
	}
	m := NewManager(log, []Plugin{p})
	assert.NilError(t, logging.Hooks(m)(l))

	log.Info("one")
	log.Warn("two")
	assert.Equal(t, pre, 2)
	assert.Equal(t, post, 2)
}

func TestRegistry(t *testing.T) {
	r := Default()
	r.Register("test", func(Config, io.Writer) (Plugin, error) { return &logOnly{}, nil })
	assert.DeepEqual(t, r.Names(), []string{"dummy", "test"})

	plugins, err := r.BuildAll([]Selection{{Name: "test"}, {Name: "dummy"}}, &bytes.Buffer{})
	assert.NilError(t, err)
	assert.Equal(t, len(plugins), 2)
	assert.Equal(t, plugins[1].Name(), DummyName)

	_, err = r.Build("ansible", nil, nil)
	assert.Check(t, errors.Cause(err) == ErrUnknown)
	assert.Check(t, is.ErrorContains(err, `"ansible"`))
}

func TestDummy(t *testing.T) {
	var sink bytes.Buffer
	p, err := NewDummy(Config{"reject": []interface{}{"post_update"}}, &sink)
	assert.NilError(t, err)
	d := p.(*Dummy)
	assert.NilError(t, d.Init(testoutput.Logger(t, "dummy")))

	d.LogPre(logging.Record{Level: logrus.InfoLevel, Phase: "update", Message: "running"})
	assert.Equal(t, sink.String(), "PRE INFO update running\n")

	ctx := context.Background()
	assert.Check(t, d.PhasePre(ctx, preUpdate))
	assert.Check(t, !d.PhasePost(ctx, Context{Phase: phase.PostUpdate}))

	_, err = NewDummy(Config{"reject": []string{"rebooting"}}, &sink)
	assert.Check(t, errors.Cause(err) == phase.ErrUnknown)
}
