package stages

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
	"github.com/jaspreet-dot-casa/cinit/pkg/userdata"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// Files written into the instance directory by the network stage.
const (
	UserDataFile          = "user-data.txt"
	VendorDataFile        = "vendor-data.txt"
	CloudConfigFile       = "cloud-config.txt"
	VendorCloudConfigFile = "vendor-cloud-config.txt"
)

// consumed is the processed user and vendor data of an instance.
type consumed struct {
	user   config.Config
	vendor config.Config
	errs   []error
}

// consume processes user-data and vendor-data: cloud-config is saved for
// the later stages, scripts are extracted for scripts_user and
// scripts_vendor, and boothooks run right away.
func (s *Sequencer) consume(ctx context.Context, b *boot, data *datasource.Data) (*consumed, error) {
	dir := s.Paths.InstanceDir(data.InstanceID)
	out := &consumed{user: config.Config{}, vendor: config.Config{}}

	if err := utils.WriteFileAtomic(filepath.Join(dir, UserDataFile), data.UserData, 0600); err != nil {
		return nil, err
	}
	user, err := userdata.Process(ctx, data.UserData, s.URL)
	if err != nil {
		out.errs = append(out.errs, fmt.Errorf("failed to process user-data: %w", err))
		user = &userdata.Processed{CloudConfig: config.Config{}}
	}
	out.user = user.CloudConfig

	vendor := &userdata.Processed{CloudConfig: config.Config{}}
	if config.MergeAll(b.system, data.Config, out.user).Bool("vendor_data.enabled", true) {
		if err := utils.WriteFileAtomic(filepath.Join(dir, VendorDataFile), data.VendorData, 0600); err != nil {
			return nil, err
		}
		if vendor, err = userdata.Process(ctx, data.VendorData, s.URL); err != nil {
			out.errs = append(out.errs, fmt.Errorf("failed to process vendor-data: %w", err))
			vendor = &userdata.Processed{CloudConfig: config.Config{}}
		}
	} else {
		slog.Info("vendor data disabled, ignoring it")
	}
	out.vendor = vendor.CloudConfig

	if err := writeCloudConfig(filepath.Join(dir, CloudConfigFile), out.user); err != nil {
		return nil, err
	}
	if err := writeCloudConfig(filepath.Join(dir, VendorCloudConfigFile), out.vendor); err != nil {
		return nil, err
	}

	if err := writeParts(filepath.Join(dir, "scripts"), user.Scripts); err != nil {
		return nil, err
	}
	if err := writeParts(filepath.Join(dir, "scripts", "vendor"), vendor.Scripts); err != nil {
		return nil, err
	}

	hooks := append(append([]userdata.Part{}, vendor.Boothooks...), user.Boothooks...)
	out.errs = append(out.errs, s.runBoothooks(ctx, filepath.Join(dir, "boothooks"), data.InstanceID, hooks)...)

	if n := user.Unknown + vendor.Unknown; n > 0 {
		slog.Warn("skipped unhandled user-data parts", slog.Int("count", n))
	}
	return out, nil
}

func writeCloudConfig(path string, cfg config.Config) error {
	body, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return utils.WriteFileAtomic(path, append([]byte("#cloud-config\n"), body...), 0600)
}

func writeParts(dir string, parts []userdata.Part) error {
	for _, part := range parts {
		path := filepath.Join(dir, paths.SanitizeID(filepath.Base(part.Filename)))
		if err := utils.WriteFileAtomic(path, part.Content, 0700); err != nil {
			return err
		}
	}
	return nil
}

// runBoothooks writes and runs each boothook. Failures are returned but do
// not stop the remaining hooks.
func (s *Sequencer) runBoothooks(ctx context.Context, dir, iid string, hooks []userdata.Part) []error {
	var errs []error
	for _, hook := range hooks {
		path := filepath.Join(dir, paths.SanitizeID(filepath.Base(hook.Filename)))
		if err := utils.WriteFileAtomic(path, hook.Content, 0700); err != nil {
			errs = append(errs, err)
			continue
		}
		cmd := subp.Command{Args: []string{path}, Env: []string{"INSTANCE_ID=" + iid}}
		if _, err := s.Exec.Run(ctx, cmd); err != nil {
			slog.Warn("boothook failed", slog.String("boothook", hook.Filename), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("boothook %s: %w", hook.Filename, err))
		}
	}
	return errs
}
