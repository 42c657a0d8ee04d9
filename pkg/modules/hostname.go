package modules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// hostnameRecord is what set_hostname last applied.
type hostnameRecord struct {
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
}

// hostnames works out the short name and fqdn from config, then the
// datasource. ok is false when nothing provides a name.
func hostnames(c *Cloud, cfg config.Config) (hostname, fqdn string, ok bool) {
	fqdn = cfg.String("fqdn", "")
	hostname = cfg.String("hostname", "")

	switch {
	case fqdn != "":
		if hostname == "" {
			hostname = utils.ShortHostname(fqdn)
		}
	case hostname != "":
		fqdn = hostname
		if !cfg.Bool("prefer_fqdn_over_hostname", false) {
			hostname = utils.ShortHostname(hostname)
		}
	case c.Data != nil && c.Data.LocalHostname != "":
		fqdn = c.Data.LocalHostname
		hostname = utils.ShortHostname(fqdn)
	default:
		return "", "", false
	}
	return hostname, strings.TrimSuffix(fqdn, "."), true
}

// setHostname writes /etc/hostname and applies the name to the running
// system.
type setHostname struct{}

func (setHostname) Name() string                   { return "set_hostname" }
func (setHostname) Frequency() semaphore.Frequency { return semaphore.PerAlways }
func (setHostname) ActivateByKeys() []string       { return nil }

func (setHostname) Handle(ctx context.Context, c *Cloud, cfg config.Config) error {
	if cfg.Bool("preserve_hostname", false) {
		slog.Debug("preserve_hostname is set, not setting hostname")
		return nil
	}

	hostname, fqdn, ok := hostnames(c, cfg)
	if !ok {
		slog.Debug("no hostname provided")
		return nil
	}
	for _, name := range []string{hostname, fqdn} {
		if err := utils.ValidateHostname(name); err != nil {
			return fmt.Errorf("invalid hostname %q: %w", name, err)
		}
	}

	want := hostnameRecord{Hostname: hostname, FQDN: fqdn}
	recordPath := filepath.Join(c.Paths.DataDir(), "set-hostname")
	var prev hostnameRecord
	err := utils.ReadJSON(recordPath, &prev)
	switch {
	case err == nil && prev == want:
		slog.Debug("hostname unchanged", slog.String("hostname", hostname))
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		slog.Warn("ignoring unreadable hostname record", slog.Any("error", err))
	}

	if err := utils.WriteFileAtomic(c.Paths.Join("/etc/hostname"), []byte(hostname+"\n"), 0644); err != nil {
		return err
	}
	if c.Live() {
		if _, err := c.Exec.Run(ctx, subp.Command{Args: []string{"hostname", hostname}}); err != nil {
			return fmt.Errorf("failed to set hostname: %w", err)
		}
	}
	if err := utils.WriteJSONAtomic(recordPath, want, 0644); err != nil {
		return err
	}

	slog.Info("set hostname", slog.String("hostname", hostname), slog.String("fqdn", fqdn))
	return nil
}

// updateEtcHosts rewrites /etc/hosts when manage_etc_hosts is enabled.
type updateEtcHosts struct{}

func (updateEtcHosts) Name() string                   { return "update_etc_hosts" }
func (updateEtcHosts) Frequency() semaphore.Frequency { return semaphore.PerAlways }
func (updateEtcHosts) ActivateByKeys() []string       { return []string{"manage_etc_hosts"} }

func (updateEtcHosts) Handle(_ context.Context, c *Cloud, cfg config.Config) error {
	manage := cfg.String("manage_etc_hosts", "false")
	switch strings.ToLower(manage) {
	case "true", "template", "yes":
	default:
		slog.Debug("not managing /etc/hosts", slog.String("manage_etc_hosts", manage))
		return nil
	}

	hostname, fqdn, ok := hostnames(c, cfg)
	if !ok {
		return errors.New("no hostname available for /etc/hosts")
	}

	names := fqdn
	if hostname != fqdn {
		names += " " + hostname
	}

	var b strings.Builder
	b.WriteString("# Generated by cinit. Changes will be overwritten on the next boot.\n")
	b.WriteString("# Set manage_etc_hosts: false in cloud-config to manage this file yourself.\n")
	b.WriteString("127.0.0.1 localhost\n")
	fmt.Fprintf(&b, "127.0.1.1 %s\n", names)
	b.WriteString("\n")
	b.WriteString("::1 localhost ip6-localhost ip6-loopback\n")
	b.WriteString("ff02::1 ip6-allnodes\n")
	b.WriteString("ff02::2 ip6-allrouters\n")

	return utils.WriteFileAtomic(c.Paths.Join("/etc/hosts"), []byte(b.String()), 0644)
}
