package instance

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/envfile"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

const (
	// DataFile is readable by everyone and has sensitive values redacted.
	DataFile = "instance-data.json"
	// SensitiveDataFile is root-only and complete.
	SensitiveDataFile = "instance-data-sensitive.json"
	// Redacted replaces sensitive values in DataFile.
	Redacted = "redacted for non-root user"
)

// sensitiveWords mark meta-data keys whose values are redacted.
var sensitiveWords = []string{"password", "passwd", "token", "secret", "private"}

// Sysinfo describes the running system.
type Sysinfo struct {
	Distro        string `json:"distro"`
	DistroRelease string `json:"distro_release"`
	DistroVersion string `json:"distro_version"`
	KernelRelease string `json:"kernel_release"`
	Machine       string `json:"machine"`
	Hostname      string `json:"system_hostname"`
}

// ReadSysinfo collects kernel details with uname(2) and distro details from
// os-release under the root.
func ReadSysinfo(p *paths.Paths) Sysinfo {
	var info Sysinfo

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.KernelRelease = unix.ByteSliceToString(uts.Release[:])
		info.Machine = unix.ByteSliceToString(uts.Machine[:])
		info.Hostname = unix.ByteSliceToString(uts.Nodename[:])
	} else {
		slog.Debug("uname failed", slog.Any("error", err))
	}

	osr, err := envfile.Parse(p.OSRelease)
	if err != nil {
		slog.Debug("failed to read os-release", slog.Any("error", err))
		return info
	}
	info.Distro = osr["ID"]
	info.DistroRelease = osr["VERSION_CODENAME"]
	info.DistroVersion = osr["VERSION_ID"]
	return info
}

// cloudName maps a platform to the name scripts usually test for.
func cloudName(platform string) string {
	if platform == "ec2" {
		return "aws"
	}
	return platform
}

// BuildInstanceData assembles the full, unredacted instance-data document.
func BuildInstanceData(data *datasource.Data, sys Sysinfo, merged config.Config) map[string]any {
	keys := data.PublicKeys
	if keys == nil {
		keys = []string{}
	}
	v1 := map[string]any{
		"cloud_name":        cloudName(data.Platform),
		"datasource":        data.Source,
		"instance_id":       data.InstanceID,
		"local_hostname":    data.LocalHostname,
		"platform":          data.Platform,
		"subplatform":       data.Subplatform,
		"region":            data.Region,
		"availability_zone": data.AvailabilityZone,
		"public_ssh_keys":   keys,
		"distro":            sys.Distro,
		"distro_release":    sys.DistroRelease,
		"distro_version":    sys.DistroVersion,
		"kernel_release":    sys.KernelRelease,
		"machine":           sys.Machine,
		"system_hostname":   sys.Hostname,
	}

	metaData := map[string]any{}
	for k, v := range data.MetaData {
		metaData[k] = v
	}

	if merged == nil {
		merged = config.Config{}
	}

	doc := map[string]any{
		"v1":         v1,
		"ds":         map[string]any{"meta_data": metaData},
		"merged_cfg": map[string]any(merged),
	}
	doc["sensitive_keys"] = sensitiveKeys(metaData)
	return doc
}

// sensitiveKeys lists slash-separated paths that must be redacted.
func sensitiveKeys(metaData map[string]any) []string {
	keys := []string{"merged_cfg"}
	for k := range metaData {
		lower := strings.ToLower(k)
		for _, w := range sensitiveWords {
			if strings.Contains(lower, w) {
				keys = append(keys, "ds/meta_data/"+k)
				break
			}
		}
	}
	sort.Strings(keys[1:])
	return keys
}

// Redact returns a copy of doc with every sensitive key replaced.
func Redact(doc map[string]any) map[string]any {
	out := config.Config(doc).Clone()
	keys, _ := doc["sensitive_keys"].([]string)
	for _, key := range keys {
		parts := strings.Split(key, "/")
		m := map[string]any(out)
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				m = nil
				break
			}
			m = next
		}
		if m == nil {
			continue
		}
		if _, ok := m[parts[len(parts)-1]]; ok {
			m[parts[len(parts)-1]] = Redacted
		}
	}
	return out
}

// WriteInstanceData writes the redacted and the sensitive instance-data
// documents to the run directory.
func (c *Cache) WriteInstanceData(data *datasource.Data, sys Sysinfo, merged config.Config) error {
	doc := BuildInstanceData(data, sys, merged)

	if err := utils.WriteJSONAtomic(c.Paths.RunFile(SensitiveDataFile), doc, 0600); err != nil {
		return fmt.Errorf("failed to write instance data: %w", err)
	}
	if err := utils.WriteJSONAtomic(c.Paths.RunFile(DataFile), Redact(doc), 0644); err != nil {
		return fmt.Errorf("failed to write instance data: %w", err)
	}
	return nil
}
