package stages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/instance"
	"github.com/jaspreet-dot-casa/cinit/pkg/modules"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
)

// runModules runs the module list under key with merged as configuration.
func (s *Sequencer) runModules(ctx context.Context, b *boot, data *datasource.Data, id instance.Identity, merged config.Config, key string) (*modules.Report, error) {
	return s.runner(b, data, id, merged).RunStage(ctx, key)
}

func (s *Sequencer) runner(b *boot, data *datasource.Data, id instance.Identity, merged config.Config) *modules.Runner {
	cloud := &modules.Cloud{
		Paths:    s.Paths,
		Data:     data,
		Config:   merged,
		Exec:     s.Exec,
		Identity: id,
		BootID:   b.bootID,
		Started:  b.started,
		Version:  s.Version,
		Out:      s.Out,
	}
	return &modules.Runner{
		Registry:   s.Registry,
		Cloud:      cloud,
		Semaphores: semaphore.New(s.Paths, cloud.InstanceID(), b.bootID),
	}
}

// restored is the cached state the module stages run against.
type restored struct {
	data   *datasource.Data
	id     instance.Identity
	merged config.Config
}

// restore loads the cached datasource of the current instance along with
// the user and vendor cloud-config saved by the network stage.
func (s *Sequencer) restore(b *boot) (*restored, error) {
	cached, err := datasource.LoadCache(s.Paths)
	if err != nil {
		return nil, err
	}
	if cached == nil || cached.Data == nil {
		return nil, ErrNoCache
	}
	data := cached.Data

	id, err := b.cache.Update(data)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance identity: %w", err)
	}

	dir := s.Paths.InstanceDir(data.InstanceID)
	user, err := readOptionalConfig(filepath.Join(dir, CloudConfigFile))
	if err != nil {
		return nil, err
	}
	vendor, err := readOptionalConfig(filepath.Join(dir, VendorCloudConfigFile))
	if err != nil {
		return nil, err
	}

	return &restored{
		data:   data,
		id:     id,
		merged: config.LoadMerged(b.system, data.Config, vendor, user),
	}, nil
}

func readOptionalConfig(path string) (config.Config, error) {
	cfg, err := config.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, nil
	}
	return cfg, err
}

// modules runs the module list of the config or final stage.
func (s *Sequencer) modules(ctx context.Context, b *boot, stage Stage, res *Result) error {
	r, err := s.restore(b)
	if err != nil {
		return err
	}
	res.Datasource = r.data.Source
	res.InstanceID = r.data.InstanceID
	res.NewInstance = r.id.New

	report, err := s.runModules(ctx, b, r.data, r.id, r.merged, stage.ModuleList())
	if report == nil && err != nil {
		return err
	}
	res.Recoverable = append(res.Recoverable, report.Errors...)
	return nil
}

// RunModules runs the module list of stage against the cached datasource
// without touching status. It backs "cinit modules --mode".
func (s *Sequencer) RunModules(ctx context.Context, stage Stage) (*modules.Report, error) {
	if stage.ModuleList() == "" {
		return nil, fmt.Errorf("stage %s has no module list", stage)
	}
	b, err := s.prepare()
	if err != nil {
		return nil, err
	}
	r, err := s.restore(b)
	if err != nil {
		return nil, err
	}
	return s.runModules(ctx, b, r.data, r.id, r.merged, stage.ModuleList())
}

// RunSingle runs one module by name. freq overrides the module frequency
// when non-empty.
func (s *Sequencer) RunSingle(ctx context.Context, name, freq string) (*modules.Report, error) {
	b, err := s.prepare()
	if err != nil {
		return nil, err
	}
	r, err := s.restore(b)
	if err != nil {
		return nil, err
	}
	return s.runner(b, r.data, r.id, r.merged).RunSingle(ctx, name, freq)
}
