package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

// ErrNoFallbackLink is returned when no physical interface is available.
var ErrNoFallbackLink = errors.New("no suitable interface for fallback network config")

// Link is the subset of link attributes the fallback needs.
type Link struct {
	Name     string
	MAC      string
	Type     string
	Loopback bool
}

// LinkLister enumerates network links.
type LinkLister interface {
	Links() ([]Link, error)
}

// NetlinkLister lists links of the current network namespace.
type NetlinkLister struct{}

// Links returns all links via netlink.
func (NetlinkLister) Links() ([]Link, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	out := make([]Link, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		out = append(out, Link{
			Name:     attrs.Name,
			MAC:      attrs.HardwareAddr.String(),
			Type:     l.Type(),
			Loopback: attrs.Flags&net.FlagLoopback != 0,
		})
	}
	return out, nil
}

var virtualPrefixes = []string{"veth", "docker", "br-", "virbr", "bond", "lo", "tun", "tap", "cni", "flannel"}

var physicalTypes = map[string]bool{"": true, "device": true}

func isVirtual(l Link) bool {
	if l.Loopback || !physicalTypes[l.Type] {
		return true
	}
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(l.Name, p) {
			return true
		}
	}
	return false
}

// Fallback generates a DHCP configuration for the first physical link,
// ordered by name.
func Fallback(lister LinkLister) (*Config, error) {
	if lister == nil {
		return nil, ErrNoFallbackLink
	}
	links, err := lister.Links()
	if err != nil {
		return nil, err
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })

	for _, l := range links {
		if isVirtual(l) || l.MAC == "" {
			continue
		}
		return &Config{
			Version: 2,
			Ethernets: map[string]Ethernet{
				l.Name: {
					Match:   Match{MACAddress: strings.ToLower(l.MAC)},
					SetName: l.Name,
					DHCP4:   true,
				},
			},
		}, nil
	}
	return nil, ErrNoFallbackLink
}
