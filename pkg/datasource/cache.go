package datasource

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// CacheFile is the name of the pickled datasource inside an instance dir.
const CacheFile = "obj.json"

// CachedData is the on-disk form of a crawled datasource.
type CachedData struct {
	BootID  string    `json:"boot_id"`
	SavedAt time.Time `json:"saved_at"`
	Data    *Data     `json:"data"`
}

// SaveCache writes data into the directory of its instance.
func SaveCache(p *paths.Paths, data *Data, bootID string) error {
	if data == nil || data.InstanceID == "" {
		return ErrNoInstanceID
	}
	cached := CachedData{
		BootID:  bootID,
		SavedAt: time.Now().UTC(),
		Data:    data,
	}
	path := filepath.Join(p.InstanceDir(data.InstanceID), CacheFile)
	if err := utils.WriteJSONAtomic(path, cached, 0600); err != nil {
		return fmt.Errorf("failed to save datasource cache: %w", err)
	}
	return nil
}

// LoadCache reads the cache of the current instance. It returns nil, nil
// when nothing has been cached yet.
func LoadCache(p *paths.Paths) (*CachedData, error) {
	var cached CachedData
	err := utils.ReadJSON(filepath.Join(p.InstanceLink(), CacheFile), &cached)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load datasource cache: %w", err)
	}
	return &cached, nil
}
