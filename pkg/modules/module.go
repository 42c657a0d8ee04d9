// Package modules implements the config modules run during the init,
// config and final stages, and the runner that gates them on semaphores.
package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/instance"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
)

// ErrUnknownModule is reported for module names with no implementation.
var ErrUnknownModule = errors.New("unknown module")

// Module is one unit of configuration work.
type Module interface {
	Name() string
	Frequency() semaphore.Frequency
	// ActivateByKeys lists config keys of which at least one must be
	// present for the module to run. Empty means always active.
	ActivateByKeys() []string
	Handle(ctx context.Context, c *Cloud, cfg config.Config) error
}

// Cloud is what modules can see and use.
type Cloud struct {
	Paths    *paths.Paths
	Data     *datasource.Data
	Config   config.Config
	Exec     subp.Executor
	Identity instance.Identity
	BootID   string
	Started  time.Time
	Version  string
	// Out receives user-facing messages such as the final message.
	Out io.Writer
}

// InstanceID returns the current instance id, or "" before one is known.
func (c *Cloud) InstanceID() string {
	if c.Identity.InstanceID != "" {
		return c.Identity.InstanceID
	}
	if c.Data != nil {
		return c.Data.InstanceID
	}
	return ""
}

// InstanceDir returns the state directory of the current instance.
func (c *Cloud) InstanceDir() string {
	return c.Paths.InstanceDir(c.InstanceID())
}

// Live reports whether cinit manages the running system rather than a
// directory tree below another root.
func (c *Cloud) Live() bool {
	return c.Paths.Root == "/"
}

// env returns the environment passed to user commands.
func (c *Cloud) env() []string {
	return []string{"INSTANCE_ID=" + c.InstanceID()}
}

// ModuleError wraps the failure of one module.
type ModuleError struct {
	Name string
	Err  error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s failed: %v", e.Name, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// Registry maps normalized module names to implementations.
type Registry struct {
	modules map[string]Module
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// DefaultRegistry returns a registry with every built-in module.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range []Module{
		bootcmd{},
		writeFiles{},
		writeFiles{deferred: true},
		setHostname{},
		updateEtcHosts{},
		runcmd{},
		scriptsDir{kind: paths.ScriptsPerOnce, freq: semaphore.PerOnce},
		scriptsDir{kind: paths.ScriptsPerBoot, freq: semaphore.PerAlways},
		scriptsDir{kind: paths.ScriptsPerInstance, freq: semaphore.PerInstance},
		scriptsUser{},
		scriptsVendor{},
		finalMessage{},
	} {
		r.Register(m)
	}
	return r
}

// Register adds m, replacing any module with the same name.
func (r *Registry) Register(m Module) {
	r.modules[NormalizeName(m.Name())] = m
}

// Lookup finds a module by name. Names are normalized first.
func (r *Registry) Lookup(name string) (Module, bool) {
	m, ok := r.modules[NormalizeName(name)]
	return m, ok
}

// Names returns the sorted module names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.modules))
	for n := range r.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NormalizeName strips a "cc_" prefix and turns dashes into underscores.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, "-", "_")
	return strings.TrimPrefix(name, "cc_")
}

// Entry is one item of a module list.
type Entry struct {
	Name string
	// Frequency overrides the module default when set.
	Frequency semaphore.Frequency
}

// ParseList reads the module list under key. Items are a module name or a
// [name, frequency] pair.
func ParseList(cfg config.Config, key string) ([]Entry, error) {
	raw := cfg.List(key)
	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		switch v := item.(type) {
		case string:
			entries = append(entries, Entry{Name: NormalizeName(v)})
		case []any:
			if len(v) == 0 {
				return nil, fmt.Errorf("%s[%d]: empty module entry", key, i)
			}
			name, ok := v[0].(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: module name must be a string", key, i)
			}
			e := Entry{Name: NormalizeName(name)}
			if len(v) > 1 {
				s, ok := v[1].(string)
				if !ok {
					return nil, fmt.Errorf("%s[%d]: frequency must be a string", key, i)
				}
				freq, err := semaphore.ParseFrequency(s)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
				}
				e.Frequency = freq
			}
			entries = append(entries, e)
		default:
			return nil, fmt.Errorf("%s[%d]: unexpected module entry %v", key, i, item)
		}
	}
	return entries, nil
}
