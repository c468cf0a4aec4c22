package plugin

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
)

const DummyName = "dummy"

// Dummy echoes log entries to its sink and allows every phase, unless told
// to reject some with the "reject" option.
type Dummy struct {
	sink   io.Writer
	log    logging.Logger
	reject map[phase.Phase]bool
}

// NewDummy is the Factory of the dummy plugin.
func NewDummy(cfg Config, sink io.Writer) (Plugin, error) {
	d := &Dummy{sink: sink, reject: map[phase.Phase]bool{}}
	for _, name := range cfg.Strings("reject") {
		p, err := phase.Parse(name)
		if err != nil {
			return nil, err
		}
		d.reject[p] = true
	}
	return d, nil
}

func (d *Dummy) Name() string { return DummyName }

func (d *Dummy) Init(log logging.Logger) error {
	d.log = log
	log.Info("initializing plugin")
	return nil
}

func (d *Dummy) LogPre(rec logging.Record) {
	fmt.Fprintf(d.sink, "PRE %s %s %s\n", strings.ToUpper(rec.Level.String()), rec.Phase, rec.Message)
}

func (d *Dummy) LogPost(logging.Record) {}

func (d *Dummy) PhasePre(_ context.Context, pc Context) bool {
	d.log.WithFields(logfields.InPhase(pc.Phase.String())).Infof("dummy plugin phase_pre_hook %s", pc.Phase)
	return !d.reject[pc.Phase]
}

func (d *Dummy) PhasePost(_ context.Context, pc Context) bool {
	d.log.WithFields(logfields.InPhase(pc.Phase.String())).Infof("dummy plugin phase_post_hook %s", pc.Phase)
	return !d.reject[pc.Phase]
}
