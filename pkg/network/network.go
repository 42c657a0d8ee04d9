// Package network selects a version 2 network configuration for the
// instance and renders it for netplan or systemd-networkd.
package network

import (
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/cmdline"
	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
)

var (
	// ErrUnsupportedVersion is returned for anything but version 2.
	ErrUnsupportedVersion = errors.New("unsupported network config version")
	// ErrDisabled is returned when a source sets "config: disabled".
	ErrDisabled = errors.New("network configuration disabled")
)

// Config is a netplan-style version 2 network configuration.
type Config struct {
	Version   int                 `yaml:"version" json:"version"`
	Ethernets map[string]Ethernet `yaml:"ethernets,omitempty" json:"ethernets,omitempty"`
}

// Match selects a physical interface.
type Match struct {
	MACAddress string `yaml:"macaddress,omitempty" json:"macaddress,omitempty"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
}

// Nameservers configures DNS.
type Nameservers struct {
	Addresses []string `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	Search    []string `yaml:"search,omitempty" json:"search,omitempty"`
}

// Ethernet is one physical interface.
type Ethernet struct {
	Match       Match       `yaml:"match,omitempty" json:"match,omitempty"`
	SetName     string      `yaml:"set-name,omitempty" json:"set-name,omitempty"`
	DHCP4       bool        `yaml:"dhcp4,omitempty" json:"dhcp4,omitempty"`
	DHCP6       bool        `yaml:"dhcp6,omitempty" json:"dhcp6,omitempty"`
	Addresses   []string    `yaml:"addresses,omitempty" json:"addresses,omitempty"`
	Gateway4    string      `yaml:"gateway4,omitempty" json:"gateway4,omitempty"`
	Gateway6    string      `yaml:"gateway6,omitempty" json:"gateway6,omitempty"`
	Nameservers Nameservers `yaml:"nameservers,omitempty" json:"nameservers,omitempty"`
	MTU         int         `yaml:"mtu,omitempty" json:"mtu,omitempty"`
}

// Source names where the selected configuration came from.
type Source string

const (
	SourceCmdline    Source = "cmdline"
	SourceDatasource Source = "ds"
	SourceSystem     Source = "system_cfg"
	SourceFallback   Source = "fallback"
)

// Parse decodes a network configuration. An optional top-level "network:"
// key is unwrapped. Empty input yields nil, nil.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse network config: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return fromMap(raw)
}

func fromMap(raw map[string]any) (*Config, error) {
	if inner, ok := raw["network"].(map[string]any); ok {
		raw = inner
	}
	if v, ok := raw["config"].(string); ok && v == "disabled" {
		return nil, ErrDisabled
	}

	version, _ := raw["version"].(int)
	if version != 2 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, raw["version"])
	}

	// Round-trip through YAML to decode into the typed struct.
	data, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode network config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode network config: %w", err)
	}
	return &cfg, nil
}

// candidate is one network config input in priority order.
type candidate struct {
	source Source
	load   func() (*Config, error)
}

// Select picks the network configuration by priority: kernel command line,
// datasource, system config, then a generated fallback. If any source
// disables networking configuration, ErrDisabled is returned.
func Select(sys config.Config, cmd cmdline.Cmdline, ds *datasource.Data, lister LinkLister) (*Config, Source, error) {
	candidates := []candidate{
		{SourceCmdline, func() (*Config, error) {
			data, ok := cmd.NetworkConfig()
			if !ok {
				return nil, nil
			}
			return Parse(data)
		}},
		{SourceDatasource, func() (*Config, error) {
			if ds == nil || len(ds.NetworkConfig) == 0 {
				return nil, nil
			}
			return Parse(ds.NetworkConfig)
		}},
		{SourceSystem, func() (*Config, error) {
			raw := sys.Map("network")
			if len(raw) == 0 {
				return nil, nil
			}
			return fromMap(raw)
		}},
	}

	var (
		selected *Config
		from     Source
	)
	for _, c := range candidates {
		cfg, err := c.load()
		if errors.Is(err, ErrDisabled) {
			slog.Info("network configuration disabled", slog.String("source", string(c.source)))
			return nil, c.source, ErrDisabled
		}
		if err != nil {
			slog.Warn("ignoring invalid network config",
				slog.String("source", string(c.source)), slog.Any("error", err))
			continue
		}
		if cfg != nil && selected == nil {
			selected, from = cfg, c.source
		}
	}
	if selected != nil {
		return selected, from, nil
	}

	cfg, err := Fallback(lister)
	if err != nil {
		return nil, SourceFallback, err
	}
	return cfg, SourceFallback, nil
}
