package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
)

type lookPathExecutor struct {
	found map[string]bool
}

func (e lookPathExecutor) Run(context.Context, subp.Command) (subp.Result, error) {
	return subp.Result{}, nil
}

func (e lookPathExecutor) LookPath(file string) (string, error) {
	if e.found[file] {
		return "/usr/sbin/" + file, nil
	}
	return "", errors.New("not found")
}

var static = &Config{
	Version: 2,
	Ethernets: map[string]Ethernet{
		"eth0": {
			Match:       Match{MACAddress: "52:54:00:00:00:01"},
			SetName:     "eth0",
			Addresses:   []string{"10.0.0.5/24"},
			Gateway4:    "10.0.0.1",
			Nameservers: Nameservers{Addresses: []string{"10.0.0.2"}, Search: []string{"example.com", "lan"}},
			MTU:         1450,
		},
		"eth1": {DHCP4: true, DHCP6: true},
	},
}

func TestNetplan_Render(t *testing.T) {
	p := paths.New(t.TempDir())

	files, err := Netplan{}.Render(p, static)

	require.NoError(t, err)
	require.Equal(t, []string{p.Join(NetplanFile)}, files)

	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, static, back)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Contains(t, raw, "network")
}

func TestNetworkd_Render(t *testing.T) {
	p := paths.New(t.TempDir())

	files, err := Networkd{}.Render(p, static)

	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(p.Join(NetworkdDir), "10-cinit-eth0.network"), files[0])

	eth0, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, `[Match]
MACAddress=52:54:00:00:00:01

[Link]
MTUBytes=1450

[Network]
DHCP=no
Address=10.0.0.5/24
Gateway=10.0.0.1
DNS=10.0.0.2
Domains=example.com lan
`, string(eth0))

	eth1, err := os.ReadFile(files[1])
	require.NoError(t, err)
	assert.Equal(t, "[Match]\nName=eth1\n\n[Network]\nDHCP=yes\n", string(eth1))
}

func TestSelectRenderer(t *testing.T) {
	p := paths.New(t.TempDir())
	withNetplan := lookPathExecutor{found: map[string]bool{"netplan": true}}
	without := lookPathExecutor{}

	r, err := SelectRenderer([]string{"netplan", "networkd"}, p, withNetplan)
	require.NoError(t, err)
	assert.Equal(t, "netplan", r.Name())

	_, err = SelectRenderer([]string{"netplan", "networkd"}, p, without)
	assert.ErrorIs(t, err, ErrNoRenderer)

	bin := p.Join("/usr/lib/systemd/systemd-networkd")
	require.NoError(t, os.MkdirAll(filepath.Dir(bin), 0755))
	require.NoError(t, os.WriteFile(bin, nil, 0755))

	r, err = SelectRenderer([]string{"eni", "netplan", "networkd"}, p, without)
	require.NoError(t, err)
	assert.Equal(t, "networkd", r.Name())
}
