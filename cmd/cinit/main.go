// Package main provides cinit, which configures a cloud instance during
// boot from its datasource, user-data and vendor-data.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// version is set via -ldflags during build
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &globalOptions{}
	rootCmd := newRootCmdWithOptions(opts)
	defer opts.closeLog()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	return 1
}

// exitError makes a command exit with a specific code. A nil err exits
// silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// recoverable reports module failures with exit code 2.
func recoverable(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &exitError{code: 2, err: fmt.Errorf("%d recoverable error(s): %w", len(errs), errors.Join(errs...))}
}
