// Package subp runs external commands and script directories.
package subp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Command describes one process to run.
type Command struct {
	Args []string
	// Shell runs Args joined with spaces through "sh -c".
	Shell bool
	Env   []string
	Dir   string
	Stdin []byte
}

// String renders the command for logs.
func (c Command) String() string {
	if c.Shell {
		return "sh -c " + strings.Join(c.Args, " ")
	}
	return strings.Join(c.Args, " ")
}

// Result is the output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a process exits non-zero.
type ExitError struct {
	Args   []string
	Code   int
	Stderr []byte
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Args, " "), e.Code)
	if s := strings.TrimSpace(string(e.Stderr)); s != "" {
		msg += ": " + s
	}
	return msg
}

// Executor is an interface for executing commands, allowing for testing.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	LookPath(file string) (string, error)
}

// RealExecutor is the default executor that uses the real system.
type RealExecutor struct{}

// LookPath finds the path to an executable.
func (e *RealExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes a command and captures its output.
func (e *RealExecutor) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, errors.New("empty command")
	}

	args := c.Args
	if c.Shell {
		args = []string{"sh", "-c", strings.Join(c.Args, " ")}
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	slog.Debug("running command", slog.String("cmd", c.String()))
	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Args: args, Code: res.ExitCode, Stderr: res.Stderr}
	default:
		return res, fmt.Errorf("failed to run %s: %w", args[0], err)
	}
}

// RunParts runs every executable regular file in dir in lexical order.
// Failures do not stop later scripts; they are joined into the result.
// A missing directory is not an error.
func RunParts(ctx context.Context, e Executor, dir string, env ...string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Mode().Perm()&0111 == 0 {
			slog.Debug("skipping non-executable script", slog.String("path", path))
			continue
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := e.Run(ctx, Command{Args: []string{path}, Env: env})
		if len(res.Stdout) > 0 {
			slog.Info("script output", slog.String("script", name), slog.String("stdout", string(res.Stdout)))
		}
		if err != nil {
			slog.Warn("script failed", slog.String("script", name), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of the scripts in %s failed: %w", len(errs), dir, errors.Join(errs...))
	}
	return nil
}
