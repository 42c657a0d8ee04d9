package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/cmdline"
	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/instance"
	"github.com/jaspreet-dot-casa/cinit/pkg/modules"
	"github.com/jaspreet-dot-casa/cinit/pkg/network"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/status"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

var (
	// ErrDisabled is returned when cinit is disabled for this boot.
	ErrDisabled = errors.New("cinit is disabled")
	// ErrOutOfOrder is returned when a stage runs before its prerequisite.
	ErrOutOfOrder = errors.New("stage run out of order")
	// ErrNoCache is returned by the module stages when no datasource has
	// been cached for the current instance.
	ErrNoCache = errors.New("no cached datasource, run \"cinit init\" first")
)

// Result is the outcome of one stage.
type Result struct {
	Stage      Stage
	Datasource string
	InstanceID string
	// NewInstance is set when this stage first saw the instance id.
	NewInstance bool
	// Recoverable holds module and network failures that did not stop
	// the stage.
	Recoverable []error
	// Disabled and Reason are set by the generator.
	Disabled bool
	Reason   string
	// Detected lists the datasources the generator identified.
	Detected []string
}

// Sequencer runs boot stages against a filesystem root.
type Sequencer struct {
	Paths      *paths.Paths
	Exec       subp.Executor
	Links      network.LinkLister
	Resolver   *datasource.Resolver
	Registry   *modules.Registry
	URL        *urlhelper.Client
	DMI        datasource.DMIReader
	Version    string
	ExtraFiles []string
	// Force skips the stage ordering check.
	Force bool
	// Out receives user-facing output from modules.
	Out io.Writer
}

// New returns a Sequencer wired to the real system.
func New(p *paths.Paths, version string) *Sequencer {
	return &Sequencer{
		Paths:    p,
		Exec:     &subp.RealExecutor{},
		Links:    network.NetlinkLister{},
		Resolver: datasource.NewResolver(),
		Registry: modules.DefaultRegistry(),
		URL:      urlhelper.NewClient(),
		DMI:      datasource.FileDMI{Dir: p.DMIDir},
		Version:  version,
		Out:      os.Stdout,
	}
}

// Enabled reports whether cinit may run, and why not.
func Enabled(p *paths.Paths, cmd cmdline.Cmdline) (bool, string) {
	if cmd.Disabled() {
		return false, "disabled by kernel command line"
	}
	if _, err := os.Stat(p.DisableFile); err == nil {
		return false, "disabled by marker file " + p.DisableFile
	}
	return true, ""
}

// boot is the per-invocation context shared by the stages.
type boot struct {
	cmdline cmdline.Cmdline
	system  config.Config
	cache   *instance.Cache
	bootID  string
	env     *datasource.Env
	started time.Time
}

func (s *Sequencer) prepare() (*boot, error) {
	cmd, err := cmdline.Read(s.Paths.Cmdline)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel command line: %w", err)
	}
	sys, err := config.NewLoader(s.Paths, cmd, s.ExtraFiles...).LoadSystem()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cache := instance.NewCache(s.Paths)
	return &boot{
		cmdline: cmd,
		system:  sys,
		cache:   cache,
		bootID:  cache.BootID(),
		env: &datasource.Env{
			Paths:   s.Paths,
			Config:  sys,
			Cmdline: cmd,
			DMI:     s.DMI,
			URL:     s.URL,
		},
		started: time.Now(),
	}, nil
}

// Run executes one stage.
func (s *Sequencer) Run(ctx context.Context, stage Stage) (*Result, error) {
	b, err := s.prepare()
	if err != nil {
		return nil, err
	}
	if stage == Generator {
		return s.generator(ctx, b)
	}

	if ok, reason := Enabled(s.Paths, b.cmdline); !ok {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, reason)
	}
	if disabled, reason := status.Disabled(s.Paths); disabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, reason)
	}

	tracker := status.NewTracker(s.Paths, b.bootID)
	if prev, ok := stage.prerequisite(); ok && !s.Force {
		st := tracker.Status()
		rec, _ := st.V1.ForStage(prev.String())
		if !rec.Done() {
			return nil, fmt.Errorf("%w: %s must finish before %s", ErrOutOfOrder, prev, stage)
		}
	}

	log := slog.With(slog.String("stage", stage.String()))
	log.Info("starting stage", slog.String("boot_id", b.bootID))
	if err := tracker.Start(stage.String()); err != nil {
		return nil, err
	}

	res := &Result{Stage: stage}
	var runErr error
	switch stage {
	case Local:
		runErr = s.local(ctx, b, tracker, res)
	case Network:
		runErr = s.network(ctx, b, tracker, res)
	case Config, Final:
		runErr = s.modules(ctx, b, stage, res)
	default:
		runErr = fmt.Errorf("unknown stage %s", stage)
	}

	var fatal []error
	if runErr != nil {
		fatal = append(fatal, runErr)
	}
	if err := tracker.Finish(stage.String(), fatal, res.Recoverable); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if stage == Final {
		if err := tracker.WriteResult(); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	if runErr != nil {
		log.Error("stage failed", slog.Any("error", runErr))
		return res, runErr
	}
	log.Info("finished stage",
		slog.Duration("took", time.Since(b.started)),
		slog.Int("recoverable_errors", len(res.Recoverable)))
	return res, nil
}
