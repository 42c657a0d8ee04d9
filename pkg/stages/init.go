package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/instance"
	"github.com/jaspreet-dot-casa/cinit/pkg/network"
	"github.com/jaspreet-dot-casa/cinit/pkg/status"
)

// local crawls filesystem-only datasources and writes network config
// before networking comes up. Finding nothing is not an error.
func (s *Sequencer) local(ctx context.Context, b *boot, tracker *status.Tracker, res *Result) error {
	data, err := s.findDatasource(ctx, b, datasource.LocalDeps)
	if errors.Is(err, datasource.ErrNotFound) {
		slog.Info("no local datasource found", slog.Any("error", err))
		data = nil
	} else if err != nil {
		return err
	}

	newInstance := true
	if data != nil {
		id, err := s.activate(b, tracker, data, res)
		if err != nil {
			return err
		}
		newInstance = id.New
	}

	if newInstance {
		if err := s.applyNetwork(b, data); err != nil {
			res.Recoverable = append(res.Recoverable, err)
		}
	} else {
		slog.Debug("same instance, keeping rendered network config")
	}
	return nil
}

// network crawls every datasource, consumes user and vendor data and runs
// the init modules.
func (s *Sequencer) network(ctx context.Context, b *boot, tracker *status.Tracker, res *Result) error {
	data, err := s.findDatasource(ctx, b, datasource.NetworkDeps)
	if err != nil {
		return err
	}
	id, err := s.activate(b, tracker, data, res)
	if err != nil {
		return err
	}

	consumed, err := s.consume(ctx, b, data)
	if err != nil {
		return err
	}
	res.Recoverable = append(res.Recoverable, consumed.errs...)

	merged := config.LoadMerged(b.system, data.Config, consumed.vendor, consumed.user)
	if err := b.cache.WriteInstanceData(data, instance.ReadSysinfo(s.Paths), merged); err != nil {
		return err
	}

	report, err := s.runModules(ctx, b, data, id, merged, Network.ModuleList())
	if report == nil && err != nil {
		return err
	}
	res.Recoverable = append(res.Recoverable, report.Errors...)
	return nil
}

// findDatasource restores the cached datasource when it is still valid,
// otherwise crawls the sources whose dependencies are met.
func (s *Sequencer) findDatasource(ctx context.Context, b *boot, deps []datasource.Dependency) (*datasource.Data, error) {
	data, err := s.Resolver.Restore(ctx, b.env, b.bootID)
	if err != nil {
		slog.Warn("ignoring unusable datasource cache", slog.Any("error", err))
	}
	if data != nil {
		return data, nil
	}

	names := b.system.Strings("datasource_list")
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: datasource_list is empty", datasource.ErrNotFound)
	}
	return s.Resolver.Find(ctx, b.env, names, deps)
}

// activate records the instance identity, caches the datasource and
// publishes instance-data.
func (s *Sequencer) activate(b *boot, tracker *status.Tracker, data *datasource.Data, res *Result) (instance.Identity, error) {
	id, err := b.cache.Update(data)
	if err != nil {
		return id, fmt.Errorf("failed to update instance identity: %w", err)
	}
	if err := datasource.SaveCache(s.Paths, data, b.bootID); err != nil {
		return id, err
	}
	merged := config.LoadMerged(b.system, data.Config, nil, nil)
	if err := b.cache.WriteInstanceData(data, instance.ReadSysinfo(s.Paths), merged); err != nil {
		return id, err
	}
	if err := tracker.SetDatasource(data.Source); err != nil {
		return id, err
	}

	res.Datasource = data.Source
	res.InstanceID = data.InstanceID
	res.NewInstance = id.New
	return id, nil
}

// applyNetwork selects and renders the network configuration.
func (s *Sequencer) applyNetwork(b *boot, data *datasource.Data) error {
	cfg, src, err := network.Select(b.system, b.cmdline, data, s.Links)
	if errors.Is(err, network.ErrDisabled) {
		slog.Info("network configuration disabled", slog.String("source", string(src)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to select network config: %w", err)
	}

	renderer, err := network.SelectRenderer(b.system.Strings("system_info.network.renderers"), s.Paths, s.Exec)
	if err != nil {
		return err
	}
	files, err := renderer.Render(s.Paths, cfg)
	if err != nil {
		return fmt.Errorf("failed to render network config with %s: %w", renderer.Name(), err)
	}

	slog.Info("rendered network config",
		slog.String("source", string(src)),
		slog.String("renderer", renderer.Name()),
		slog.Any("files", files))
	return nil
}
