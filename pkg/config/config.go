// Package config loads the updater's TOML configuration file.
package config

import (
	"io/ioutil"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/dlm"
	"github.com/schlitzered/DLMEngineUpdater/pkg/plugin"
	"github.com/schlitzered/DLMEngineUpdater/pkg/scripts"
	"github.com/sirupsen/logrus"
)

// Defaults.
const (
	DefaultPath    = "/etc/dlm_engine_updater/config.toml"
	DefaultBaseDir = "/etc/dlm_engine_updater"
	DefaultWaitMax = 3600
	DefaultLevel   = "debug"
	DefaultLogFile = "/var/log/dlm_engine_updater/dlm_engine_updater.log"

	RebootSystemd = "systemd"
	RebootNone    = "none"
)

// ErrInvalid is returned for configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Main Main `toml:"main"`
	// Plugin selects plugins by their registered name.
	Plugin map[string]Plugin `toml:"plugin"`
}

type Main struct {
	BaseDir string `toml:"basedir" validate:"required"`
	// Wait keeps retrying to acquire the lock for up to WaitMax seconds.
	Wait    bool `toml:"wait"`
	WaitMax int  `toml:"waitmax" validate:"gte=0"`
	// UserScriptUsers contribute scripts from their home directories to the
	// pre_update and post_update phases.
	UserScriptUsers []string `toml:"userscriptusers"`
	// Hostname overrides the identity the lock is held under.
	Hostname string `toml:"hostname"`

	API     API     `toml:"api"`
	Log     Log     `toml:"log"`
	Reboot  Reboot  `toml:"reboot"`
	Metrics Metrics `toml:"metrics"`
}

type API struct {
	Noop     bool   `toml:"noop"`
	CA       string `toml:"ca"`
	Endpoint string `toml:"endpoint" validate:"required_if=Noop false,omitempty,url"`
	LockName string `toml:"lockname" validate:"required"`
	Secret   string `toml:"secret" validate:"required_if=Noop false"`
	SecretID string `toml:"secretid" validate:"required_if=Noop false"`
}

type Log struct {
	Level string `toml:"level" validate:"loglevel"`
	File  string `toml:"file"`
}

type Reboot struct {
	Method string `toml:"method" validate:"oneof=systemd none"`
	// Socket is the systemd manager socket used by the systemd method.
	Socket string `toml:"socket"`
}

type Metrics struct {
	// Textfile is where metrics are written for the node exporter, no
	// metrics are written when empty.
	Textfile string `toml:"textfile"`
}

type Plugin struct {
	// Enabled defaults to true.
	Enabled *bool                  `toml:"enabled"`
	Config  map[string]interface{} `toml:"config"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration")
	}
	return Parse(raw)
}

// Parse decodes and validates a configuration document.
func Parse(raw []byte) (*Config, error) {
	tree, err := toml.LoadBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse configuration")
	}
	cfg := &Config{}
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}
	cfg.applyDefaults(tree)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(cfg.Main.API.Endpoint, "/") && cfg.Main.API.Endpoint != "" {
		cfg.Main.API.Endpoint += "/"
	}
	return cfg, nil
}

func (c *Config) applyDefaults(tree *toml.Tree) {
	if c.Main.BaseDir == "" {
		c.Main.BaseDir = DefaultBaseDir
	}
	if !tree.Has("main.waitmax") {
		c.Main.WaitMax = DefaultWaitMax
	}
	if c.Main.Log.Level == "" {
		c.Main.Log.Level = DefaultLevel
	}
	if c.Main.Log.File == "" {
		c.Main.Log.File = DefaultLogFile
	}
	if c.Main.Reboot.Method == "" {
		c.Main.Reboot.Method = RebootSystemd
	}
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := logrus.ParseLevel(fl.Field().String())
		return err == nil
	})
	return v
}()

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "unable to validate configuration")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.Wrap(ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.Index(key, "."); i >= 0 {
		key = key[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "url":
		return key + " must be a URL"
	case "oneof":
		return key + " must be one of: " + fe.Param()
	case "loglevel":
		return key + " is not a log level"
	}
	return key + " is invalid (" + fe.Tag() + ")"
}

// Lock is the distributed lock client's configuration.
func (c *Config) Lock() dlm.Config {
	return dlm.Config{
		Endpoint: c.Main.API.Endpoint,
		LockName: c.Main.API.LockName,
		SecretID: c.Main.API.SecretID,
		Secret:   c.Main.API.Secret,
		CA:       c.Main.API.CA,
		Wait:     c.Main.Wait,
		WaitMax:  c.Main.WaitMax,
		Noop:     c.Main.API.Noop,
		Identity: c.Main.Hostname,
	}
}

// Scripts is the script discovery's configuration.
func (c *Config) Scripts() scripts.Config {
	return scripts.Config{
		BaseDir:     c.Main.BaseDir,
		ScriptUsers: c.Main.UserScriptUsers,
	}
}

// Plugins lists the enabled plugins ordered by name.
func (c *Config) Plugins() []plugin.Selection {
	names := make([]string, 0, len(c.Plugin))
	for name, p := range c.Plugin {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	selected := make([]plugin.Selection, 0, len(names))
	for _, name := range names {
		selected = append(selected, plugin.Selection{Name: name, Config: c.Plugin[name].Config})
	}
	return selected
}
