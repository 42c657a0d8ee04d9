// Package instance tracks which instance this filesystem belongs to and
// publishes instance-data for other tools.
package instance

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// ErrNoInstance is returned when no instance has been recorded yet.
var ErrNoInstance = errors.New("no instance recorded")

// Identity describes the outcome of an instance id comparison.
type Identity struct {
	InstanceID         string `json:"instance_id"`
	PreviousID         string `json:"previous_instance_id,omitempty"`
	New                bool   `json:"new"`
	Datasource         string `json:"datasource"`
	PreviousDatasource string `json:"previous_datasource,omitempty"`
}

// Cache manages the data/ bookkeeping and the instance symlink.
type Cache struct {
	Paths *paths.Paths
}

// NewCache returns a Cache for p.
func NewCache(p *paths.Paths) *Cache {
	return &Cache{Paths: p}
}

func (c *Cache) dataFile(name string) string {
	return filepath.Join(c.Paths.DataDir(), name)
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Current returns the recorded instance id.
func (c *Cache) Current() (string, error) {
	iid, err := readTrimmed(c.dataFile("instance-id"))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && iid == "") {
		return "", ErrNoInstance
	}
	if err != nil {
		return "", fmt.Errorf("failed to read instance id: %w", err)
	}
	return iid, nil
}

// Update records data's instance id and reports whether it is new.
func (c *Cache) Update(data *datasource.Data) (Identity, error) {
	if data == nil || data.InstanceID == "" {
		return Identity{}, datasource.ErrNoInstanceID
	}

	prev, err := c.Current()
	if err != nil && !errors.Is(err, ErrNoInstance) {
		return Identity{}, err
	}
	prevDS, _ := readTrimmed(c.dataFile("datasource"))

	id := Identity{
		InstanceID:         data.InstanceID,
		PreviousID:         prev,
		New:                prev != data.InstanceID,
		Datasource:         data.Source,
		PreviousDatasource: prevDS,
	}

	dir := c.Paths.InstanceDir(data.InstanceID)
	for _, sub := range []string{"sem", "scripts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return Identity{}, fmt.Errorf("failed to create instance directory: %w", err)
		}
	}

	if id.New {
		writes := []struct {
			name, value string
		}{
			{"previous-instance-id", prev},
			{"previous-datasource", prevDS},
			{"instance-id", data.InstanceID},
			{"datasource", data.Source},
		}
		for _, w := range writes {
			if err := utils.WriteFileAtomic(c.dataFile(w.name), []byte(w.value+"\n"), 0644); err != nil {
				return Identity{}, err
			}
		}
		slog.Info("new instance",
			slog.String("instance_id", id.InstanceID),
			slog.String("previous_instance_id", id.PreviousID))
	}

	if err := c.link(dir); err != nil {
		return Identity{}, err
	}
	if err := utils.WriteFileAtomic(c.Paths.RunFile(".instance-id"), []byte(data.InstanceID+"\n"), 0644); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// link points the instance symlink at dir, replacing it atomically.
func (c *Cache) link(dir string) error {
	linkPath := c.Paths.InstanceLink()
	if target, err := os.Readlink(linkPath); err == nil && target == dir {
		return nil
	}

	tmp := linkPath + ".tmp-" + uuid.NewString()[:8]
	if err := os.Symlink(dir, tmp); err != nil {
		return fmt.Errorf("failed to create instance link: %w", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace instance link: %w", err)
	}
	return nil
}

// BootID returns the kernel boot id. When the kernel does not provide one a
// random id is generated and kept in the run directory, so every stage of
// the same boot agrees.
func (c *Cache) BootID() string {
	if id, err := readTrimmed(c.Paths.BootIDFile); err == nil && id != "" {
		return id
	}

	fallback := c.Paths.RunFile(".boot-id")
	if id, err := readTrimmed(fallback); err == nil && id != "" {
		return id
	}

	id := uuid.NewString()
	if err := utils.WriteFileAtomic(fallback, []byte(id+"\n"), 0644); err != nil {
		slog.Warn("failed to persist boot id", slog.Any("error", err))
	}
	return id
}
