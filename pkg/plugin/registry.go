package plugin

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ErrUnknown is returned when configuration names a plugin nobody registered.
var ErrUnknown = errors.New("unknown plugin")

// Registry maps plugin names to their factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Default returns a registry holding the builtin plugins.
func Default() *Registry {
	r := NewRegistry()
	r.Register(DummyName, NewDummy)
	return r
}

// Register adds f under name, replacing an earlier registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names lists the registered plugin names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build creates the plugin registered under name.
func (r *Registry) Build(name string, cfg Config, sink io.Writer) (Plugin, error) {
	r.mu.Lock()
	f, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknown, "%q", name)
	}
	p, err := f(cfg, sink)
	if err != nil {
		return nil, errors.WithMessagef(err, "plugin %q", name)
	}
	return p, nil
}

// Selection is one configured plugin.
type Selection struct {
	Name   string
	Config Config
}

// BuildAll creates the selected plugins in the given order.
func (r *Registry) BuildAll(selected []Selection, sink io.Writer) ([]Plugin, error) {
	plugins := make([]Plugin, 0, len(selected))
	for _, s := range selected {
		p, err := r.Build(s.Name, s.Config, sink)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}
