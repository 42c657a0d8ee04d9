package stages

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/status"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// generator decides whether cinit runs this boot. It never touches the
// network: datasources are only identified, not crawled.
func (s *Sequencer) generator(ctx context.Context, b *boot) (*Result, error) {
	res := &Result{Stage: Generator}

	if ok, reason := Enabled(s.Paths, b.cmdline); !ok {
		return s.disable(res, reason)
	}

	names := b.system.Strings("datasource_list")
	found := s.Resolver.Identify(ctx, b.env, names)
	res.Detected = found

	var real []string
	for _, name := range found {
		if !strings.EqualFold(name, datasource.NoneName) {
			real = append(real, name)
		}
	}

	if len(real) == 0 {
		if b.system.String("datasource_identify.notfound", "disabled") == "disabled" {
			return s.disable(res, fmt.Sprintf("no datasource found among %s", strings.Join(names, ", ")))
		}
		slog.Info("no datasource identified, continuing with the full list")
		real = names
	}

	list := append([]string{}, real...)
	if !containsFold(list, datasource.NoneName) {
		list = append(list, datasource.NoneName)
	}

	runtime := config.Config{"datasource_list": toAny(list)}
	data, err := yaml.Marshal(map[string]any(runtime))
	if err != nil {
		return nil, fmt.Errorf("failed to encode runtime config: %w", err)
	}
	header := []byte("# Written by cinit generator for this boot.\n")
	if err := utils.WriteFileAtomic(s.Paths.RunFile(config.RuntimeConfigName), append(header, data...), 0644); err != nil {
		return nil, err
	}

	if err := removeIfExists(s.Paths.RunFile(status.DisabledMarker)); err != nil {
		return nil, err
	}
	if err := utils.WriteFileAtomic(s.Paths.RunFile(status.EnabledMarker), []byte("enabled\n"), 0644); err != nil {
		return nil, err
	}

	slog.Info("generator enabled cinit", slog.Any("datasource_list", list))
	return res, nil
}

func (s *Sequencer) disable(res *Result, reason string) (*Result, error) {
	res.Disabled = true
	res.Reason = reason

	if err := removeIfExists(s.Paths.RunFile(status.EnabledMarker)); err != nil {
		return nil, err
	}
	if err := utils.WriteFileAtomic(s.Paths.RunFile(status.DisabledMarker), []byte(reason+"\n"), 0644); err != nil {
		return nil, err
	}

	slog.Info("generator disabled cinit", slog.String("reason", reason))
	return res, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func toAny(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}
