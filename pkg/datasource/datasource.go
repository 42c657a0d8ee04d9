// Package datasource detects and crawls the platform-specific providers of
// instance metadata, user-data and vendor-data.
package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/cmdline"
	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

// Dependency is a boot facility a datasource needs before it can crawl.
type Dependency string

const (
	// DepFilesystem means local filesystems are mounted.
	DepFilesystem Dependency = "FILESYSTEM"
	// DepNetwork means networking is up.
	DepNetwork Dependency = "NETWORK"
)

// Dependency sets used by the local and network stages.
var (
	LocalDeps   = []Dependency{DepFilesystem}
	NetworkDeps = []Dependency{DepFilesystem, DepNetwork}
)

var (
	// ErrNotFound is returned when no candidate datasource produced data.
	ErrNotFound = errors.New("no datasource found")
	// ErrNoInstanceID is returned by a crawl that found no instance id.
	ErrNoInstanceID = errors.New("datasource did not provide an instance-id")
)

// Source is one datasource implementation.
type Source interface {
	Name() string
	Dependencies() []Dependency
	// Detect is a cheap check that must not touch the network.
	Detect(ctx context.Context, env *Env) bool
	Crawl(ctx context.Context, env *Env) (*Data, error)
}

// InstanceChecker is implemented by sources that can confirm a cached
// instance id is still current without a full crawl.
type InstanceChecker interface {
	CheckInstanceID(ctx context.Context, env *Env, cached *Data) bool
}

// Env is what a datasource may consult.
type Env struct {
	Paths   *paths.Paths
	Config  config.Config
	Cmdline cmdline.Cmdline
	DMI     DMIReader
	URL     *urlhelper.Client
}

// SourceConfig returns the datasource.<name> section of the config.
func (e *Env) SourceConfig(name string) config.Config {
	return e.Config.Map("datasource").Map(name)
}

// Data is what a successful crawl yields.
type Data struct {
	Source           string         `json:"source"`
	InstanceID       string         `json:"instance_id"`
	LocalHostname    string         `json:"local_hostname,omitempty"`
	Platform         string         `json:"platform"`
	Subplatform      string         `json:"subplatform,omitempty"`
	Region           string         `json:"region,omitempty"`
	AvailabilityZone string         `json:"availability_zone,omitempty"`
	PublicKeys       []string       `json:"public_keys,omitempty"`
	MetaData         map[string]any `json:"meta_data,omitempty"`
	UserData         []byte         `json:"user_data,omitempty"`
	VendorData       []byte         `json:"vendor_data,omitempty"`
	NetworkConfig    []byte         `json:"network_config,omitempty"`
	Config           config.Config  `json:"config,omitempty"`
}

// DMIReader returns SMBIOS fields such as sys_vendor or product_uuid.
type DMIReader interface {
	Read(field string) string
}

// FileDMI reads DMI fields from the sysfs dmi/id directory.
type FileDMI struct {
	Dir string
}

// Read returns the trimmed field value, or "" when unavailable.
func (d FileDMI) Read(field string) string {
	data, err := os.ReadFile(filepath.Join(d.Dir, field))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Factory creates a fresh Source.
type Factory func() Source

// Registry maps datasource names to factories. Lookups ignore case.
type Registry struct {
	factories map[string]Factory
	names     map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		names:     make(map[string]string),
	}
}

// DefaultRegistry returns a registry with every built-in datasource.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("NoCloud", func() Source { return &NoCloud{} })
	r.Register("NoCloudNet", func() Source { return &NoCloud{Net: true} })
	r.Register("Ec2", func() Source { return &Ec2{} })
	r.Register("None", func() Source { return &None{} })
	return r
}

// Register adds or replaces a datasource.
func (r *Registry) Register(name string, f Factory) {
	key := strings.ToLower(name)
	r.factories[key] = f
	r.names[key] = name
}

// Lookup creates the named datasource.
func (r *Registry) Lookup(name string) (Source, bool) {
	f, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.names))
	for _, n := range r.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
