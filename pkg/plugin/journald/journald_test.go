package journald

import (
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/testoutput"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin"
	"github.com/sirupsen/logrus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type sent struct {
	message  string
	priority journal.Priority
	vars     map[string]string
}

func testPlugin(t *testing.T, cfg plugin.Config) (*Plugin, *[]sent) {
	p, err := New(cfg, nil)
	assert.NilError(t, err)
	jp := p.(*Plugin)
	var out []sent
	jp.enabled = func() bool { return true }
	jp.send = func(m string, pri journal.Priority, vars map[string]string) error {
		out = append(out, sent{m, pri, vars})
		return nil
	}
	return jp, &out
}

func TestLogPostFields(t *testing.T) {
	p, out := testPlugin(t, nil)
	rc := 3
	p.LogPost(logging.Record{
		Level:      logrus.ErrorLevel,
		Message:    "script failed",
		Phase:      "update",
		Script:     "/etc/dlm_engine_updater/update.d/10-yum",
		ReturnCode: &rc,
	})
	assert.Assert(t, is.Len(*out, 1))
	got := (*out)[0]
	assert.Equal(t, got.message, "script failed")
	assert.Equal(t, got.priority, journal.PriErr)
	assert.DeepEqual(t, got.vars, map[string]string{
		"SYSLOG_IDENTIFIER": defaultIdentifier,
		"PHASE":             "update",
		"SCRIPT":            "/etc/dlm_engine_updater/update.d/10-yum",
		"RETURN_CODE":       "3",
	})
}

func TestLogPostLevelFilter(t *testing.T) {
	p, out := testPlugin(t, plugin.Config{"level": "warning", "identifier": "patchday"})
	p.LogPost(logging.Record{Level: logrus.DebugLevel, Message: "noise"})
	p.LogPost(logging.Record{Level: logrus.InfoLevel, Message: "noise"})
	p.LogPost(logging.Record{Level: logrus.WarnLevel, Message: "file world writeable, skipping"})
	assert.Assert(t, is.Len(*out, 1))
	assert.Equal(t, (*out)[0].priority, journal.PriWarning)
	assert.Equal(t, (*out)[0].vars["SYSLOG_IDENTIFIER"], "patchday")
	_, hasPhase := (*out)[0].vars["PHASE"]
	assert.Check(t, !hasPhase)
}

func TestLogPreIsSilent(t *testing.T) {
	p, out := testPlugin(t, nil)
	p.LogPre(logging.Record{Level: logrus.InfoLevel, Message: "hello"})
	assert.Check(t, is.Len(*out, 0))
}

func TestInvalidLevel(t *testing.T) {
	_, err := New(plugin.Config{"level": "loud"}, nil)
	assert.Check(t, is.ErrorContains(err, "invalid level"))
}

func TestInitWithoutJournal(t *testing.T) {
	p, _ := testPlugin(t, nil)
	p.enabled = func() bool { return false }
	err := p.Init(testoutput.Logger(t, "journald"))
	assert.Equal(t, err, ErrUnavailable)
}

func TestPriorityMapping(t *testing.T) {
	for lvl, want := range map[logrus.Level]journal.Priority{
		logrus.PanicLevel: journal.PriEmerg,
		logrus.FatalLevel: journal.PriCrit,
		logrus.ErrorLevel: journal.PriErr,
		logrus.WarnLevel:  journal.PriWarning,
		logrus.InfoLevel:  journal.PriInfo,
		logrus.DebugLevel: journal.PriDebug,
		logrus.TraceLevel: journal.PriDebug,
	} {
		assert.Check(t, is.Equal(priority(lvl), want), lvl.String())
	}
}
