package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// shellQuote quotes s for /bin/sh unless it only holds safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// argv converts a list entry to strings.
func argv(list []any) ([]string, error) {
	args := make([]string, 0, len(list))
	for _, a := range list {
		switch v := a.(type) {
		case string:
			args = append(args, v)
		case int, int64, float64, bool:
			args = append(args, fmt.Sprint(v))
		default:
			return nil, fmt.Errorf("unsupported argument %v", a)
		}
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}

// shellLine renders one command entry as a line of shell script.
func shellLine(entry any) (string, error) {
	switch v := entry.(type) {
	case string:
		return v, nil
	case []any:
		args, err := argv(v)
		if err != nil {
			return "", err
		}
		quoted := make([]string, len(args))
		for i, a := range args {
			quoted[i] = shellQuote(a)
		}
		return strings.Join(quoted, " "), nil
	}
	return "", fmt.Errorf("unsupported command entry %v", entry)
}

// shellScript renders a command list as a /bin/sh script.
func shellScript(entries []any) (string, error) {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for i, e := range entries {
		line, err := shellLine(e)
		if err != nil {
			return "", fmt.Errorf("entry %d: %w", i, err)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// bootcmd runs commands very early on every boot.
type bootcmd struct{}

func (bootcmd) Name() string                   { return "bootcmd" }
func (bootcmd) Frequency() semaphore.Frequency { return semaphore.PerAlways }
func (bootcmd) ActivateByKeys() []string       { return []string{"bootcmd"} }

func (bootcmd) Handle(ctx context.Context, c *Cloud, cfg config.Config) error {
	for i, entry := range cfg.List("bootcmd") {
		var cmd subp.Command
		switch v := entry.(type) {
		case string:
			cmd = subp.Command{Args: []string{v}, Shell: true}
		case []any:
			args, err := argv(v)
			if err != nil {
				return fmt.Errorf("bootcmd[%d]: %w", i, err)
			}
			cmd = subp.Command{Args: args}
		default:
			return fmt.Errorf("bootcmd[%d]: unsupported entry %v", i, entry)
		}
		cmd.Env = c.env()

		if _, err := c.Exec.Run(ctx, cmd); err != nil {
			return fmt.Errorf("bootcmd[%d]: %w", i, err)
		}
	}
	return nil
}

// runcmd writes the runcmd list as a script for scripts_user to execute.
type runcmd struct{}

func (runcmd) Name() string                   { return "runcmd" }
func (runcmd) Frequency() semaphore.Frequency { return semaphore.PerInstance }
func (runcmd) ActivateByKeys() []string       { return []string{"runcmd"} }

func (runcmd) Handle(_ context.Context, c *Cloud, cfg config.Config) error {
	script, err := shellScript(cfg.List("runcmd"))
	if err != nil {
		return fmt.Errorf("failed to render runcmd: %w", err)
	}
	path := filepath.Join(c.InstanceDir(), "scripts", "runcmd")
	return utils.WriteFileAtomic(path, []byte(script), 0700)
}

// scriptsDir runs one of the per-once, per-boot or per-instance directories.
type scriptsDir struct {
	kind string
	freq semaphore.Frequency
}

func (s scriptsDir) Name() string                   { return "scripts_" + strings.ReplaceAll(s.kind, "-", "_") }
func (s scriptsDir) Frequency() semaphore.Frequency { return s.freq }
func (scriptsDir) ActivateByKeys() []string         { return nil }

func (s scriptsDir) Handle(ctx context.Context, c *Cloud, _ config.Config) error {
	return subp.RunParts(ctx, c.Exec, c.Paths.ScriptsDir(s.kind), c.env()...)
}

// scriptsUser runs the scripts extracted from user-data, including runcmd.
type scriptsUser struct{}

func (scriptsUser) Name() string                   { return "scripts_user" }
func (scriptsUser) Frequency() semaphore.Frequency { return semaphore.PerInstance }
func (scriptsUser) ActivateByKeys() []string       { return nil }

func (scriptsUser) Handle(ctx context.Context, c *Cloud, _ config.Config) error {
	dir := filepath.Join(c.InstanceDir(), "scripts")
	if _, err := os.Stat(dir); err != nil {
		slog.Debug("no user scripts", slog.String("dir", dir))
		return nil
	}
	return subp.RunParts(ctx, c.Exec, dir, c.env()...)
}

// scriptsVendor runs the scripts extracted from vendor-data.
type scriptsVendor struct{}

func (scriptsVendor) Name() string                   { return "scripts_vendor" }
func (scriptsVendor) Frequency() semaphore.Frequency { return semaphore.PerInstance }
func (scriptsVendor) ActivateByKeys() []string       { return nil }

func (scriptsVendor) Handle(ctx context.Context, c *Cloud, cfg config.Config) error {
	if !cfg.Bool("vendor_data.enabled", true) {
		slog.Debug("vendor data disabled, not running vendor scripts")
		return nil
	}
	dir := filepath.Join(c.InstanceDir(), "scripts", "vendor")
	if _, err := os.Stat(dir); err != nil {
		slog.Debug("no vendor scripts", slog.String("dir", dir))
		return nil
	}
	return subp.RunParts(ctx, c.Exec, dir, c.env()...)
}
