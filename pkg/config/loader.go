package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/cmdline"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
)

// RuntimeConfigName is the file in the runtime directory written by the
// generator stage.
const RuntimeConfigName = "cloud.cfg"

//go:embed defaults.yaml
var defaultsYAML []byte

// Defaults returns the built-in configuration.
func Defaults() Config {
	cfg, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded defaults: %v", err))
	}
	return cfg
}

// ReadFile reads a YAML config file. A missing file returns os.ErrNotExist.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Loader assembles the system configuration.
type Loader struct {
	Paths      *paths.Paths
	ExtraFiles []string
	Cmdline    cmdline.Cmdline
}

// NewLoader creates a Loader for the given paths and kernel command line.
func NewLoader(p *paths.Paths, cmd cmdline.Cmdline, extraFiles ...string) *Loader {
	return &Loader{Paths: p, Cmdline: cmd, ExtraFiles: extraFiles}
}

// Sources returns the config files consulted by LoadSystem, lowest priority
// first. Files in the config directory are sorted lexically.
func (l *Loader) Sources() []string {
	sources := []string{l.Paths.ConfigFile}

	matches, err := filepath.Glob(filepath.Join(l.Paths.ConfigDir, "*.cfg"))
	if err == nil {
		sort.Strings(matches)
		sources = append(sources, matches...)
	}

	sources = append(sources, l.ExtraFiles...)
	sources = append(sources, l.Paths.RunFile(RuntimeConfigName))
	return sources
}

// LoadSystem merges defaults, cloud.cfg, cloud.cfg.d/*.cfg, extra files,
// the runtime config and kernel command line cloud-config, in that order.
func (l *Loader) LoadSystem() (Config, error) {
	cfg := Defaults()

	for _, path := range l.Sources() {
		fileCfg, err := ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		slog.Debug("loaded config", slog.String("path", path))
		cfg = Merge(cfg, fileCfg, MergeHow{})
	}

	if cc := l.Cmdline.CloudConfig(); strings.TrimSpace(cc) != "" {
		cmdCfg, err := Parse([]byte(cc))
		if err != nil {
			return nil, fmt.Errorf("failed to parse kernel command line config: %w", err)
		}
		cfg = Merge(cfg, cmdCfg, MergeHow{})
	}

	return cfg, nil
}

// LoadMerged layers datasource, vendor and user config over the system
// config. Vendor data is ignored when vendor_data.enabled is false in any
// layer other than vendor data itself.
func LoadMerged(system, ds, vendor, user Config) Config {
	cfg := Merge(system, ds, MergeHow{})
	if MergeAll(cfg, user).Bool("vendor_data.enabled", true) {
		cfg = Merge(cfg, vendor, MergeHow{})
	}
	return Merge(cfg, user, MergeHow{})
}
