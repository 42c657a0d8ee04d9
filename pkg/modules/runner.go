package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
)

// SemaphorePrefix is prepended to module names for their run markers.
const SemaphorePrefix = "config_"

// Report summarizes one run of a module list.
type Report struct {
	Ran     []string
	Skipped []string
	Failed  []string
	Errors  []error
}

// Err joins the module errors, or returns nil.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

func (r *Report) fail(name string, err error) {
	r.Failed = append(r.Failed, name)
	r.Errors = append(r.Errors, &ModuleError{Name: name, Err: err})
}

// Runner runs modules against a Cloud.
type Runner struct {
	Registry   *Registry
	Cloud      *Cloud
	Semaphores *semaphore.Semaphores
}

// NewRunner returns a Runner over the built-in modules.
func NewRunner(c *Cloud) *Runner {
	return &Runner{
		Registry:   DefaultRegistry(),
		Cloud:      c,
		Semaphores: semaphore.New(c.Paths, c.InstanceID(), c.BootID),
	}
}

// RunStage runs every module in the list under key, in order. A failing
// module does not stop the ones after it.
func (r *Runner) RunStage(ctx context.Context, key string) (*Report, error) {
	entries, err := ParseList(r.Cloud.Config, key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", key, err)
	}

	report := &Report{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, errors.Join(report.Err(), err)
		}

		m, ok := r.Registry.Lookup(e.Name)
		if !ok {
			slog.Warn("unknown module", slog.String("module", e.Name), slog.String("list", key))
			report.fail(e.Name, ErrUnknownModule)
			continue
		}
		if !active(m, r.Cloud) {
			slog.Debug("skipping module, no activating keys present", slog.String("module", e.Name))
			report.Skipped = append(report.Skipped, m.Name())
			continue
		}
		r.run(ctx, m, e.Frequency, report)
	}
	return report, report.Err()
}

// RunSingle runs one module by name. freq overrides the module default
// when non-empty. Activation keys are not checked.
func (r *Runner) RunSingle(ctx context.Context, name, freq string) (*Report, error) {
	m, ok := r.Registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}

	var override semaphore.Frequency
	if freq != "" {
		f, err := semaphore.ParseFrequency(freq)
		if err != nil {
			return nil, err
		}
		override = f
	}

	report := &Report{}
	r.run(ctx, m, override, report)
	return report, report.Err()
}

func (r *Runner) run(ctx context.Context, m Module, override semaphore.Frequency, report *Report) {
	freq := m.Frequency()
	if override != "" {
		freq = override
	}
	log := slog.With(slog.String("module", m.Name()), slog.String("frequency", string(freq)))

	start := time.Now()
	ran, err := r.Semaphores.Run(ctx, SemaphorePrefix+m.Name(), freq, func(ctx context.Context) error {
		log.Debug("running module")
		return m.Handle(ctx, r.Cloud, r.Cloud.Config)
	}, false)

	switch {
	case err != nil:
		log.Warn("module failed", slog.Any("error", err))
		report.fail(m.Name(), err)
	case !ran:
		log.Debug("module already ran")
		report.Skipped = append(report.Skipped, m.Name())
	default:
		log.Info("module finished", slog.Duration("took", time.Since(start)))
		report.Ran = append(report.Ran, m.Name())
	}
}

func active(m Module, c *Cloud) bool {
	keys := m.ActivateByKeys()
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if c.Config.Has(k) {
			return true
		}
	}
	return false
}
