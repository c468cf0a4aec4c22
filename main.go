package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/schlitzered/DLMEngineUpdater/pkg/config"
	"github.com/schlitzered/DLMEngineUpdater/pkg/dlm"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/metrics"
	"github.com/schlitzered/DLMEngineUpdater/pkg/pidfile"
	"github.com/schlitzered/DLMEngineUpdater/pkg/platform"
	"github.com/schlitzered/DLMEngineUpdater/pkg/platform/systemd"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin/journald"
	"github.com/schlitzered/DLMEngineUpdater/pkg/runner"
	"github.com/schlitzered/DLMEngineUpdater/pkg/schedule"
	"github.com/schlitzered/DLMEngineUpdater/pkg/scripts"
	"github.com/schlitzered/DLMEngineUpdater/pkg/sigcontext"
	"github.com/schlitzered/DLMEngineUpdater/pkg/state"
	"github.com/schlitzered/DLMEngineUpdater/pkg/updater"
	"github.com/urfave/cli/v2"
)

func main() {
	os.Exit(_main(os.Args))
}

func _main(args []string) int {
	code := 0
	app := &cli.App{
		Name:  "dlm_engine_updater",
		Usage: "run this host's part of a fleet wide update under a distributed lock",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "cfg",
				Value: config.DefaultPath,
				Usage: "full path to configuration",
			},
			&cli.BoolFlag{
				Name:  "after_reboot",
				Usage: "has to be used from init systems, to indicate that the updater was started while booting",
			},
			&cli.StringFlag{
				Name:  "date_constraint",
				Usage: "exit unless today matches one of the comma separated constraints, 3:Fri only runs on the 3rd Friday of a month",
			},
			&cli.IntFlag{
				Name:  "random_sleep",
				Usage: "sleep up to this many seconds before doing anything",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level regardless of configuration",
			},
		},
		Action: func(c *cli.Context) error {
			code = run(c)
			return nil
		},
	}
	if err := app.Run(args); err != nil {
		logging.New("main").WithError(err).Error("invalid arguments")
		return 1
	}
	return code
}

func run(c *cli.Context) int {
	if c.Bool("debug") {
		logging.Set(logging.Level("debug"))
	}
	log := logging.New("main")

	// "debuggable" builds at runtime produce extensive logging output compared
	// to release builds with the debug flag enabled.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable produces large volumes of logs")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
	}

	constraints, err := schedule.Parse(c.String("date_constraint"))
	if err != nil {
		log.WithError(err).Error("invalid date constraint")
		return 1
	}

	cfg, err := config.Load(c.String("cfg"))
	if err != nil {
		log.WithError(err).Error("unable to load configuration")
		return 1
	}
	if !c.Bool("debug") {
		logging.Set(logging.Level(cfg.Main.Log.Level))
	}
	if err := logging.Set(logging.File(cfg.Main.Log.File)); err != nil {
		log.WithError(err).Error("unable to set up logging")
		return 1
	}

	registry := plugin.Default()
	registry.Register(journald.Name, journald.New)
	plugins, err := registry.BuildAll(cfg.Plugins(), os.Stdout)
	if err != nil {
		log.WithError(err).Error("unable to set up plugins")
		return 1
	}
	hooks := plugin.NewManager(logging.New("plugin"), plugins)
	logging.Set(logging.Hooks(hooks))
	if err := hooks.Init(); err != nil {
		log.WithError(err).Error("unable to initialize plugins")
		return 1
	}

	users := scripts.NewUserDB()
	discovery := scripts.New(logging.New("scripts"), cfg.Scripts(), nil, users)
	self, err := discovery.RootUser()
	if err != nil {
		log.WithError(err).Error("unable to resolve the running user")
		return 1
	}
	if !self.Root() {
		log.Warn("running as non-root user, some features may be limited")
	}

	lock, err := dlm.New(logging.New("dlm"), cfg.Lock())
	if err != nil {
		log.WithError(err).Error("unable to set up lock client")
		return 1
	}

	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rebooter platform.Rebooter = platform.None{}
	if cfg.Main.Reboot.Method == config.RebootSystemd {
		rebooter = systemd.New(logging.New("systemd"), cfg.Main.Reboot.Socket)
	}
	if err := platform.Ping(ctx, rebooter); err != nil {
		log.WithError(err).Warn("rebooting will fail unless fixed")
	}

	scriptRunner := runner.New(logging.New("runner"), runner.Config{LockName: lock.LockName()}, discovery, users, hooks)
	u := updater.New(logging.New("updater"),
		state.NewFile(cfg.Main.BaseDir),
		lock,
		scriptRunner,
		rebooter,
		metrics.New(logging.New("metrics"), cfg.Main.Metrics.Textfile),
		updater.Options{
			AfterReboot: c.Bool("after_reboot"),
			Constraints: constraints,
			RandomSleep: c.Int("random_sleep"),
			PidFile:     pidfile.Path(cfg.Main.BaseDir),
			User:        self.Name,
		})

	out := u.Run(ctx)
	if sigcontext.Signaled(ctx) {
		log.WithError(context.Cause(ctx)).Warn("stopped by signal")
	}
	return out.ExitCode()
}
