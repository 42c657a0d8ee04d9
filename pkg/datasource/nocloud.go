package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

// NoCloud reads a seed from a local directory or, as NoCloudNet, from a URL.
type NoCloud struct {
	Net bool
}

func (n *NoCloud) Name() string {
	if n.Net {
		return "NoCloudNet"
	}
	return "NoCloud"
}

func (n *NoCloud) Dependencies() []Dependency {
	if n.Net {
		return NetworkDeps
	}
	return LocalDeps
}

// seed is one candidate location for the four NoCloud files.
type seed struct {
	base   string
	remote bool
}

func (s seed) file(name string) string {
	if s.remote {
		return strings.TrimSuffix(s.base, "/") + "/" + name
	}
	return filepath.Join(strings.TrimPrefix(s.base, "file://"), name)
}

func (s seed) String() string {
	if s.remote {
		return "seedfrom (" + s.base + ")"
	}
	return "seed-dir (" + strings.TrimPrefix(s.base, "file://") + ")"
}

// hinted reports whether the kernel command line names a NoCloud flavor.
func hinted(env *Env) (bool, map[string]string) {
	name, opts := env.Cmdline.DatasourceHint()
	switch name {
	case "nocloud", "nocloud-net", "nocloudnet":
		return true, opts
	}
	return false, nil
}

// seeds returns candidate seed locations in priority order.
func (n *NoCloud) seeds(env *Env) []seed {
	var out []seed

	var seedfrom []string
	if ok, opts := hinted(env); ok && opts["seedfrom"] != "" {
		seedfrom = append(seedfrom, opts["seedfrom"])
	}
	if s := env.SourceConfig(n.Name()).String("seedfrom", ""); s != "" {
		seedfrom = append(seedfrom, s)
	}
	for _, s := range seedfrom {
		remote := strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
		if remote && !n.Net {
			continue
		}
		if !remote {
			s = env.Paths.Join(strings.TrimPrefix(s, "file://"))
		}
		out = append(out, seed{base: s, remote: remote})
	}

	dirs := []string{"nocloud", "nocloud-net"}
	if n.Net {
		dirs = []string{"nocloud-net"}
	}
	for _, d := range dirs {
		out = append(out, seed{base: filepath.Join(env.Paths.SeedDir, d)})
	}
	return out
}

// Detect looks for a local meta-data file or a configured remote seed.
func (n *NoCloud) Detect(_ context.Context, env *Env) bool {
	if ok, _ := hinted(env); ok {
		return true
	}
	for _, s := range n.seeds(env) {
		if s.remote {
			return true
		}
		if _, err := os.Stat(s.file("meta-data")); err == nil {
			return true
		}
	}
	return false
}

// Crawl reads the first seed that provides meta-data.
func (n *NoCloud) Crawl(ctx context.Context, env *Env) (*Data, error) {
	var errs []error
	for _, s := range n.seeds(env) {
		data, err := n.read(ctx, env, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
			continue
		}
		return data, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("no seed location configured")
	}
	return nil, errors.Join(errs...)
}

func (n *NoCloud) read(ctx context.Context, env *Env, s seed) (*Data, error) {
	md, err := n.readMetaData(ctx, env, s)
	if err != nil {
		return nil, err
	}

	data := &Data{
		Source:        n.Name(),
		InstanceID:    md.String("instance-id", ""),
		LocalHostname: md.String("local-hostname", md.String("hostname", "")),
		Platform:      "nocloud",
		Subplatform:   s.String(),
		PublicKeys:    md.Strings("public-keys"),
		MetaData:      md,
	}
	if data.InstanceID == "" {
		return nil, ErrNoInstanceID
	}

	optional := map[string]*[]byte{
		"user-data":      &data.UserData,
		"vendor-data":    &data.VendorData,
		"network-config": &data.NetworkConfig,
	}
	for name, dst := range optional {
		body, err := readOptional(ctx, env.URL, s.file(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		*dst = body
	}

	slog.Debug("read nocloud seed", slog.String("seed", s.String()))
	return data, nil
}

// readMetaData reads and parses meta-data, applying kernel command line
// overrides.
func (n *NoCloud) readMetaData(ctx context.Context, env *Env, s seed) (config.Config, error) {
	resp, err := env.URL.Read(ctx, s.file("meta-data"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta-data: %w", err)
	}
	md, err := config.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse meta-data: %w", err)
	}

	if ok, opts := hinted(env); ok {
		for _, key := range []string{"instance-id", "local-hostname"} {
			if v := opts[key]; v != "" {
				md[key] = v
			}
		}
	}
	return md, nil
}

// CheckInstanceID re-reads meta-data and compares instance ids.
func (n *NoCloud) CheckInstanceID(ctx context.Context, env *Env, cached *Data) bool {
	for _, s := range n.seeds(env) {
		if s.remote {
			continue
		}
		md, err := n.readMetaData(ctx, env, s)
		if err != nil {
			continue
		}
		return md.String("instance-id", "") == cached.InstanceID
	}
	return false
}

// readOptional returns nil for missing files and 404s.
func readOptional(ctx context.Context, client *urlhelper.Client, url string) ([]byte, error) {
	resp, err := client.Read(ctx, url, nil)
	if errors.Is(err, fs.ErrNotExist) || urlhelper.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
