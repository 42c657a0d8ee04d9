// Package paths computes every on-disk location cinit reads or writes.
// All locations hang off a filesystem root so the whole boot pipeline can
// run against a chroot or a test directory.
package paths

import (
	"path/filepath"
	"strings"
)

const (
	// ScriptsPerBoot is the scripts subdirectory run on every boot.
	ScriptsPerBoot = "per-boot"
	// ScriptsPerInstance is the scripts subdirectory run once per instance.
	ScriptsPerInstance = "per-instance"
	// ScriptsPerOnce is the scripts subdirectory run once ever.
	ScriptsPerOnce = "per-once"
)

// Paths holds the resolved locations for a given root.
type Paths struct {
	Root        string
	CloudDir    string
	RunDir      string
	ConfigFile  string
	ConfigDir   string
	DisableFile string
	Cmdline     string
	BootIDFile  string
	LogFile     string
	SeedDir     string
	DMIDir      string
	OSRelease   string
}

// New creates Paths rooted at root. An empty root means "/".
func New(root string) *Paths {
	if root == "" {
		root = "/"
	}
	root = filepath.Clean(root)

	p := &Paths{Root: root}
	p.CloudDir = p.Join("/var/lib/cinit")
	p.RunDir = p.Join("/run/cinit")
	p.ConfigFile = p.Join("/etc/cloud/cloud.cfg")
	p.ConfigDir = p.Join("/etc/cloud/cloud.cfg.d")
	p.DisableFile = p.Join("/etc/cloud/cloud-init.disabled")
	p.Cmdline = p.Join("/proc/cmdline")
	p.BootIDFile = p.Join("/proc/sys/kernel/random/boot_id")
	p.LogFile = p.Join("/var/log/cinit.log")
	p.SeedDir = filepath.Join(p.CloudDir, "seed")
	p.DMIDir = p.Join("/sys/class/dmi/id")
	p.OSRelease = p.Join("/etc/os-release")
	return p
}

// Join places an absolute path below the root.
func (p *Paths) Join(path string) string {
	return filepath.Join(p.Root, filepath.Clean("/"+path))
}

// InstanceDir returns the directory holding state for one instance id.
func (p *Paths) InstanceDir(iid string) string {
	return filepath.Join(p.CloudDir, "instances", SanitizeID(iid))
}

// InstanceLink returns the symlink pointing at the current instance directory.
func (p *Paths) InstanceLink() string {
	return filepath.Join(p.CloudDir, "instance")
}

// DataDir returns the directory with cross-instance bookkeeping files.
func (p *Paths) DataDir() string {
	return filepath.Join(p.CloudDir, "data")
}

// SemDir returns the directory with per-once and per-boot markers.
func (p *Paths) SemDir() string {
	return filepath.Join(p.CloudDir, "sem")
}

// ScriptsDir returns one of the per-boot, per-instance or per-once script dirs.
func (p *Paths) ScriptsDir(kind string) string {
	return filepath.Join(p.CloudDir, "scripts", kind)
}

// RunFile returns a file below the runtime directory.
func (p *Paths) RunFile(name string) string {
	return filepath.Join(p.RunDir, name)
}

// SanitizeID makes an instance id safe for use as a single path element.
func SanitizeID(iid string) string {
	iid = strings.ReplaceAll(iid, "/", "_")
	if iid == "" || iid == "." || iid == ".." {
		return "_"
	}
	return iid
}
