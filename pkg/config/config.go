// Package config loads and merges cinit configuration from the built-in
// defaults, /etc/cloud, the runtime directory, the kernel command line and
// the instance's vendor and user data.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is a generic YAML mapping.
type Config map[string]any

// Parse decodes a YAML document into a Config. An empty document yields an
// empty Config; a document that is not a mapping is an error.
func Parse(data []byte) (Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return Config{}, nil
	}

	m, ok := Normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected a mapping, got %T", raw)
	}
	return Config(m), nil
}

// Normalize converts map[any]any values produced by YAML decoding into
// map[string]any, recursively.
func Normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case Config:
		return Normalize(map[string]any(t))
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	default:
		return v
	}
}

// Get returns the value at a dotted path such as "datasource.Ec2.timeout".
func (c Config) Get(path string) (any, bool) {
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Has reports whether a dotted path is present.
func (c Config) Has(path string) bool {
	_, ok := c.Get(path)
	return ok
}

// String returns the string at path, or def when missing or not a scalar.
func (c Config) String(path, def string) string {
	v, ok := c.Get(path)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case int, int64, float64, bool:
		return fmt.Sprint(t)
	}
	return def
}

// Bool returns the boolean at path. Strings such as "true" and "no" are
// accepted; anything else yields def.
func (c Config) Bool(path string, def bool) bool {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return def
}

// Int returns the integer at path, or def.
func (c Config) Int(path string, def int) int {
	v, ok := c.Get(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Strings returns the list of scalars at path. A single string is returned
// as a one-element list.
func (c Config) Strings(path string) []string {
	v, ok := c.Get(path)
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// List returns the raw list at path.
func (c Config) List(path string) []any {
	v, ok := c.Get(path)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

// Map returns the mapping at path, or an empty Config.
func (c Config) Map(path string) Config {
	v, ok := c.Get(path)
	if !ok {
		return Config{}
	}
	m, ok := asMap(v)
	if !ok {
		return Config{}
	}
	return Config(m)
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	return Config(deepCopy(map[string]any(c)).(map[string]any))
}

// Keys returns the top-level keys.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// YAML encodes the Config.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]any(c))
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Config:
		return map[string]any(t), true
	}
	return nil, false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case Config:
		return deepCopy(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
