// Package semaphore records which modules already ran so that per-instance,
// per-once and per-boot work is not repeated.
package semaphore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// Frequency controls how often a named piece of work may run.
type Frequency string

const (
	PerAlways   Frequency = "always"
	PerInstance Frequency = "once-per-instance"
	PerOnce     Frequency = "once"
	PerBoot     Frequency = "per-boot"
)

// ErrNoInstance is returned for per-instance work before an instance is known.
var ErrNoInstance = errors.New("per-instance semaphore requires an instance id")

// ParseFrequency accepts the canonical names and their common aliases.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "always", "per_always", "per-always":
		return PerAlways, nil
	case "once-per-instance", "instance", "per_instance", "per-instance":
		return PerInstance, nil
	case "once", "per_once", "per-once":
		return PerOnce, nil
	case "per-boot", "boot", "per_boot":
		return PerBoot, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Semaphores stores run markers below the cinit state directory.
type Semaphores struct {
	Paths      *paths.Paths
	InstanceID string
	BootID     string

	mu sync.Mutex
}

// New returns semaphores for the given instance and boot.
func New(p *paths.Paths, instanceID, bootID string) *Semaphores {
	return &Semaphores{Paths: p, InstanceID: instanceID, BootID: bootID}
}

// markerPath returns where the marker for name lives, or "" for PerAlways.
func (s *Semaphores) markerPath(name string, freq Frequency) (string, error) {
	name = paths.SanitizeID(name)
	switch freq {
	case PerAlways:
		return "", nil
	case PerInstance:
		if s.InstanceID == "" {
			return "", ErrNoInstance
		}
		return filepath.Join(s.Paths.InstanceDir(s.InstanceID), "sem", name), nil
	case PerOnce:
		return filepath.Join(s.Paths.SemDir(), name+".once"), nil
	case PerBoot:
		return filepath.Join(s.Paths.SemDir(), name+".boot"), nil
	}
	return "", fmt.Errorf("unknown frequency %q", freq)
}

// Has reports whether name already ran at the given frequency.
func (s *Semaphores) Has(name string, freq Frequency) bool {
	path, err := s.markerPath(name, freq)
	if err != nil || path == "" {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if freq == PerBoot {
		return strings.TrimSpace(string(data)) == s.BootID
	}
	return true
}

// Run executes fn unless name already ran at freq. The marker is written
// before fn runs; with clearOnFail a failing fn removes it again.
func (s *Semaphores) Run(ctx context.Context, name string, freq Frequency, fn func(context.Context) error, clearOnFail bool) (bool, error) {
	path, err := s.markerPath(name, freq)
	if err != nil {
		return false, err
	}
	if path == "" {
		return true, fn(ctx)
	}

	unlock, err := s.lock()
	if err != nil {
		return false, err
	}
	if s.Has(name, freq) {
		unlock()
		return false, nil
	}
	if err := utils.WriteFileAtomic(path, []byte(s.markerContent(freq)), 0644); err != nil {
		unlock()
		return false, fmt.Errorf("failed to write semaphore %s: %w", name, err)
	}
	unlock()

	if err := fn(ctx); err != nil {
		if clearOnFail {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				err = errors.Join(err, rmErr)
			}
		}
		return true, err
	}
	return true, nil
}

func (s *Semaphores) markerContent(freq Frequency) string {
	if freq == PerBoot {
		return s.BootID + "\n"
	}
	return fmt.Sprintf("%d\n", time.Now().Unix())
}

// lock serializes marker checks within the process and across processes.
func (s *Semaphores) lock() (func(), error) {
	s.mu.Lock()

	dir := s.Paths.SemDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create semaphore directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, ".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to open semaphore lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to lock semaphores: %w", err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		s.mu.Unlock()
	}, nil
}

// Clear removes the marker for name.
func (s *Semaphores) Clear(name string, freq Frequency) error {
	path, err := s.markerPath(name, freq)
	if err != nil || path == "" {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear semaphore %s: %w", name, err)
	}
	return nil
}

// ClearAll removes every per-once and per-boot marker.
func (s *Semaphores) ClearAll() error {
	if err := os.RemoveAll(s.Paths.SemDir()); err != nil {
		return fmt.Errorf("failed to clear semaphores: %w", err)
	}
	return nil
}
