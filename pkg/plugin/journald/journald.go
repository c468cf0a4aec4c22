// Package journald forwards the updater's log entries to the systemd journal
// with the phase, script and return code as structured fields.
package journald

import (
	"io"
	"strconv"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin"
	"github.com/sirupsen/logrus"
)

const (
	Name = "journald"

	defaultIdentifier = "dlm_engine_updater"
)

// ErrUnavailable is returned from Init when journald is not listening.
var ErrUnavailable = errors.New("journald socket not available")

type sendFunc func(message string, priority journal.Priority, vars map[string]string) error

// Plugin implements plugin.LoggerHook.
type Plugin struct {
	identifier string
	minLevel   logrus.Level

	enabled func() bool
	send    sendFunc
}

var _ plugin.LoggerHook = (*Plugin)(nil)

// New is the plugin.Factory for journald. Recognized options are
// "identifier" (SYSLOG_IDENTIFIER) and "level", the least severe level
// forwarded.
func New(cfg plugin.Config, _ io.Writer) (plugin.Plugin, error) {
	p := &Plugin{
		identifier: defaultIdentifier,
		minLevel:   logrus.DebugLevel,
		enabled:    journal.Enabled,
		send:       journal.Send,
	}
	if id, ok := cfg.String("identifier"); ok && id != "" {
		p.identifier = id
	}
	if lvl, ok := cfg.String("level"); ok {
		l, err := logrus.ParseLevel(lvl)
		if err != nil {
			return nil, errors.Wrap(err, "invalid level")
		}
		p.minLevel = l
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(log logging.Logger) error {
	if !p.enabled() {
		return ErrUnavailable
	}
	log.WithField("identifier", p.identifier).Debug("forwarding log entries to journald")
	return nil
}

func (p *Plugin) LogPre(logging.Record) {}

// LogPost sends rec once it made it to the regular log.
func (p *Plugin) LogPost(rec logging.Record) {
	if rec.Level > p.minLevel {
		return
	}
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": p.identifier,
	}
	if rec.Phase != "" {
		vars["PHASE"] = rec.Phase
	}
	if rec.Script != "" {
		vars["SCRIPT"] = rec.Script
	}
	if rec.ReturnCode != nil {
		vars["RETURN_CODE"] = strconv.Itoa(*rec.ReturnCode)
	}
	// Delivery failures have nowhere to be reported.
	_ = p.send(rec.Message, priority(rec.Level), vars)
}

func priority(l logrus.Level) journal.Priority {
	switch l {
	case logrus.PanicLevel:
		return journal.PriEmerg
	case logrus.FatalLevel:
		return journal.PriCrit
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
