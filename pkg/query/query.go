// Package query reads instance-data and looks up values in it by key.
package query

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/instance"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

var (
	// ErrKeyNotFound is returned when a key is not present in instance-data.
	ErrKeyNotFound = errors.New("key not found")
	// ErrNoInstanceData is returned before the first stage wrote instance-data.
	ErrNoInstanceData = errors.New("instance-data not found, has cinit run?")
)

// Load reads instance-data. With sensitive set it reads the unredacted
// copy and adds the raw user-data and vendor-data of the current instance.
// Every v1 key is also exposed at the top level.
func Load(p *paths.Paths, sensitive bool) (map[string]any, error) {
	name := instance.DataFile
	if sensitive {
		name = instance.SensitiveDataFile
	}

	data := map[string]any{}
	err := utils.ReadJSON(p.RunFile(name), &data)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoInstanceData
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("failed to read %s, run as root for sensitive data: %w", name, err)
	}
	if err != nil {
		return nil, err
	}

	if v1, ok := data["v1"].(map[string]any); ok {
		for k, v := range v1 {
			if _, taken := data[k]; !taken {
				data[k] = v
			}
		}
	}

	if sensitive {
		for key, file := range map[string]string{"userdata": "user-data.txt", "vendordata": "vendor-data.txt"} {
			raw, err := os.ReadFile(filepath.Join(p.InstanceLink(), file))
			if err != nil {
				continue
			}
			data[key] = string(raw)
		}
	}
	return data, nil
}

// Get returns the value at a dotted key such as "v1.instance_id" or
// "ds.meta_data.local-hostname". List elements are addressed by index.
// Keys may use dashes or underscores interchangeably.
func Get(data map[string]any, key string) (any, error) {
	if key == "" {
		return data, nil
	}

	var cur any = data
	for _, part := range strings.Split(key, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := lookup(node, part)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
	}
	return cur, nil
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for _, alt := range []string{strings.ReplaceAll(key, "-", "_"), strings.ReplaceAll(key, "_", "-")} {
		if v, ok := m[alt]; ok {
			return v, true
		}
	}
	return nil, false
}

// ListKeys returns the sorted keys of the mapping at key.
func ListKeys(data map[string]any, key string) ([]string, error) {
	v, err := Get(data, key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a mapping", key)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
