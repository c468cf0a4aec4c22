// Package plugin composes the extensions selected by configuration around
// the updater's phases and log output.
package plugin

import (
	"context"
	"io"

	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
)

// Context describes the phase a PhaseHook is consulted for.
type Context struct {
	Phase    phase.Phase
	LockName string
	// LockAcquired is the updater's belief about holding the lock, it is not
	// authoritative.
	LockAcquired bool
}

// PhaseHook is consulted before and after the pre_update and post_update
// phases. Returning false rejects the phase.
type PhaseHook interface {
	PhasePre(ctx context.Context, pc Context) bool
	PhasePost(ctx context.Context, pc Context) bool
}

// LoggerHook observes every log entry. Implementations must write to the sink
// they were created with and never log through the updater's logger.
type LoggerHook interface {
	logging.Hooker
}

// Plugin is an extension implementing PhaseHook, LoggerHook or both.
type Plugin interface {
	Name() string
	// Init is called once after all plugins were built and the log hooks are
	// in place.
	Init(log logging.Logger) error
}

// Config is the free-form table given to a plugin in its configuration
// section.
type Config map[string]interface{}

// String returns the value of key when it is a string.
func (c Config) String(key string) (string, bool) {
	v, ok := c[key].(string)
	return v, ok
}

// Strings returns the value of key when it is a list of strings.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Factory builds a plugin from its configuration. sink is where the plugin's
// log hooks may write.
type Factory func(cfg Config, sink io.Writer) (Plugin, error)
