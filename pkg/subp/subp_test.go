package subp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockExecutor records commands and returns canned results.
type MockExecutor struct {
	RunFunc func(cmd Command) (Result, error)
	Calls   []Command
}

func (m *MockExecutor) Run(_ context.Context, cmd Command) (Result, error) {
	m.Calls = append(m.Calls, cmd)
	if m.RunFunc != nil {
		return m.RunFunc(cmd)
	}
	return Result{}, nil
}

func (m *MockExecutor) LookPath(file string) (string, error) {
	return "/usr/bin/" + file, nil
}

func writeScript(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode))
	return path
}

func TestRunParts_Order(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "20-second", 0755)
	writeScript(t, dir, "10-first", 0755)
	writeScript(t, dir, "30-not-exec", 0644)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "40-dir"), 0755))

	exec := &MockExecutor{}
	err := RunParts(context.Background(), exec, dir, "INSTANCE_ID=i-1")

	require.NoError(t, err)
	require.Len(t, exec.Calls, 2)
	assert.Equal(t, filepath.Join(dir, "10-first"), exec.Calls[0].Args[0])
	assert.Equal(t, filepath.Join(dir, "20-second"), exec.Calls[1].Args[0])
	assert.Equal(t, []string{"INSTANCE_ID=i-1"}, exec.Calls[0].Env)
}

func TestRunParts_CollectsFailures(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a", 0755)
	writeScript(t, dir, "b", 0755)
	writeScript(t, dir, "c", 0755)

	exec := &MockExecutor{RunFunc: func(cmd Command) (Result, error) {
		if filepath.Base(cmd.Args[0]) == "b" {
			return Result{ExitCode: 3}, &ExitError{Args: cmd.Args, Code: 3}
		}
		return Result{}, nil
	}}
	err := RunParts(context.Background(), exec, dir)

	require.Error(t, err)
	assert.Len(t, exec.Calls, 3, "a failing script must not stop later ones")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.Contains(t, err.Error(), "1 of the scripts")
}

func TestRunParts_MissingDir(t *testing.T) {
	err := RunParts(context.Background(), &MockExecutor{}, filepath.Join(t.TempDir(), "nope"))

	assert.NoError(t, err)
}

func TestRealExecutor_Run(t *testing.T) {
	if _, err := (&RealExecutor{}).LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	e := &RealExecutor{}

	res, err := e.Run(context.Background(), Command{Args: []string{"echo $GREETING"}, Shell: true, Env: []string{"GREETING=hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Stdout))

	res, err = e.Run(context.Background(), Command{Args: []string{"echo oops >&2; exit 4"}, Shell: true})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, 4, exitErr.Code)
	assert.Contains(t, err.Error(), "oops")
}

func TestRealExecutor_Stdin(t *testing.T) {
	if _, err := (&RealExecutor{}).LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	res, err := (&RealExecutor{}).Run(context.Background(), Command{Args: []string{"cat"}, Stdin: []byte("piped")})

	require.NoError(t, err)
	assert.Equal(t, "piped", string(res.Stdout))
}

func TestRealExecutor_Empty(t *testing.T) {
	_, err := (&RealExecutor{}).Run(context.Background(), Command{})

	assert.Error(t, err)
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "sh -c echo hi", Command{Args: []string{"echo", "hi"}, Shell: true}.String())
	assert.Equal(t, "hostname web", Command{Args: []string{"hostname", "web"}}.String())
}
