// Package clean removes cinit state so the next boot behaves like the
// first boot of a fresh instance.
package clean

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
)

// Options selects what to remove besides the state directories.
type Options struct {
	// Logs also removes the cinit log file.
	Logs bool
	// Seed also removes the local seed directory.
	Seed bool
}

// Clean removes the contents of the state directory and the runtime
// directory. It returns the paths it removed.
func Clean(p *paths.Paths, opts Options) ([]string, error) {
	var targets []string

	entries, err := os.ReadDir(p.CloudDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", p.CloudDir, err)
	}
	for _, e := range entries {
		path := filepath.Join(p.CloudDir, e.Name())
		if path == p.SeedDir && !opts.Seed {
			continue
		}
		targets = append(targets, path)
	}
	targets = append(targets, p.RunDir)
	if opts.Logs {
		targets = append(targets, p.LogFile)
	}

	var removed []string
	var errs []error
	for _, path := range targets {
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		slog.Debug("removed", slog.String("path", path))
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
