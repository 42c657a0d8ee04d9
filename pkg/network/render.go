package network

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// ErrNoRenderer is returned when none of the configured renderers is usable.
var ErrNoRenderer = errors.New("no available network renderer")

// Renderer writes a Config in the format of one network manager.
type Renderer interface {
	Name() string
	Available(p *paths.Paths, e subp.Executor) bool
	Render(p *paths.Paths, cfg *Config) ([]string, error)
}

// Renderers returns every known renderer keyed by name.
func Renderers() map[string]Renderer {
	return map[string]Renderer{
		"netplan":  Netplan{},
		"networkd": Networkd{},
	}
}

// SelectRenderer returns the first available renderer in priority order.
func SelectRenderer(priority []string, p *paths.Paths, e subp.Executor) (Renderer, error) {
	known := Renderers()
	for _, name := range priority {
		r, ok := known[name]
		if !ok {
			continue
		}
		if r.Available(p, e) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w (tried: %s)", ErrNoRenderer, strings.Join(priority, ", "))
}

// Netplan renders a single netplan YAML file.
type Netplan struct{}

// NetplanFile is where the netplan renderer writes its output.
const NetplanFile = "/etc/netplan/50-cinit.yaml"

func (Netplan) Name() string { return "netplan" }

func (Netplan) Available(_ *paths.Paths, e subp.Executor) bool {
	_, err := e.LookPath("netplan")
	return err == nil
}

func (Netplan) Render(p *paths.Paths, cfg *Config) ([]string, error) {
	doc := struct {
		Network *Config `yaml:"network"`
	}{cfg}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode netplan config: %w", err)
	}

	header := "# This file is generated by cinit from the instance network configuration.\n"
	path := p.Join(NetplanFile)
	if err := utils.WriteFileAtomic(path, append([]byte(header), data...), 0600); err != nil {
		return nil, err
	}
	return []string{path}, nil
}

// Networkd renders one systemd-networkd .network unit per ethernet.
type Networkd struct{}

// NetworkdDir is where the networkd renderer writes its units.
const NetworkdDir = "/etc/systemd/network"

func (Networkd) Name() string { return "networkd" }

func (Networkd) Available(p *paths.Paths, _ subp.Executor) bool {
	for _, bin := range []string{"/usr/lib/systemd/systemd-networkd", "/lib/systemd/systemd-networkd"} {
		if _, err := os.Stat(p.Join(bin)); err == nil {
			return true
		}
	}
	return false
}

func (Networkd) Render(p *paths.Paths, cfg *Config) ([]string, error) {
	names := make([]string, 0, len(cfg.Ethernets))
	for name := range cfg.Ethernets {
		names = append(names, name)
	}
	sort.Strings(names)

	dir := p.Join(NetworkdDir)
	written := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, "10-cinit-"+name+".network")
		if err := utils.WriteFileAtomic(path, []byte(networkdUnit(name, cfg.Ethernets[name])), 0644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func networkdUnit(name string, eth Ethernet) string {
	var b strings.Builder

	b.WriteString("[Match]\n")
	switch {
	case eth.Match.MACAddress != "":
		fmt.Fprintf(&b, "MACAddress=%s\n", eth.Match.MACAddress)
	case eth.Match.Name != "":
		fmt.Fprintf(&b, "Name=%s\n", eth.Match.Name)
	default:
		fmt.Fprintf(&b, "Name=%s\n", name)
	}

	if eth.MTU > 0 {
		fmt.Fprintf(&b, "\n[Link]\nMTUBytes=%d\n", eth.MTU)
	}

	b.WriteString("\n[Network]\n")
	fmt.Fprintf(&b, "DHCP=%s\n", dhcpMode(eth))
	for _, addr := range eth.Addresses {
		fmt.Fprintf(&b, "Address=%s\n", addr)
	}
	for _, gw := range []string{eth.Gateway4, eth.Gateway6} {
		if gw != "" {
			fmt.Fprintf(&b, "Gateway=%s\n", gw)
		}
	}
	for _, dns := range eth.Nameservers.Addresses {
		fmt.Fprintf(&b, "DNS=%s\n", dns)
	}
	if len(eth.Nameservers.Search) > 0 {
		fmt.Fprintf(&b, "Domains=%s\n", strings.Join(eth.Nameservers.Search, " "))
	}
	return b.String()
}

func dhcpMode(eth Ethernet) string {
	switch {
	case eth.DHCP4 && eth.DHCP6:
		return "yes"
	case eth.DHCP4:
		return "ipv4"
	case eth.DHCP6:
		return "ipv6"
	}
	return "no"
}
