// Package cmdline parses the kernel command line for cinit directives.
package cmdline

import (
	"encoding/base64"
	"os"
	"strings"
)

// Cmdline is a parsed kernel command line.
type Cmdline struct {
	raw    string
	tokens []string
}

// Read reads and parses the command line at path. A missing file yields an
// empty command line.
func Read(path string) (Cmdline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Cmdline{}, nil
		}
		return Cmdline{}, err
	}
	return Parse(string(data)), nil
}

// Parse splits s on whitespace. Double quotes group words and are removed.
func Parse(s string) Cmdline {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			if started {
				tokens = append(tokens, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if started {
		tokens = append(tokens, cur.String())
	}

	return Cmdline{raw: s, tokens: tokens}
}

// String returns the unparsed command line.
func (c Cmdline) String() string {
	return c.raw
}

// Tokens returns the parsed words.
func (c Cmdline) Tokens() []string {
	return c.tokens
}

// Get returns the value of the last key=value token for key.
func (c Cmdline) Get(key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, tok := range c.tokens {
		k, v, ok := strings.Cut(tok, "=")
		if ok && k == key {
			value, found = v, true
		}
	}
	return value, found
}

// Has reports whether key appears either bare or as key=value.
func (c Cmdline) Has(key string) bool {
	for _, tok := range c.tokens {
		k, _, _ := strings.Cut(tok, "=")
		if k == key {
			return true
		}
	}
	return false
}

// Disabled reports whether the kernel command line turns cinit off.
func (c Cmdline) Disabled() bool {
	for _, key := range []string{"cloud-init", "cinit"} {
		if v, ok := c.Get(key); ok && v == "disabled" {
			return true
		}
	}
	return false
}

// optionAliases maps the short NoCloud option names to their long forms.
var optionAliases = map[string]string{
	"s": "seedfrom",
	"i": "instance-id",
	"h": "local-hostname",
}

// DatasourceHint returns the datasource named by ds=<name>[;k=v...] or
// ci.ds=<name>. Options use their long names. The name is lowercased.
func (c Cmdline) DatasourceHint() (string, map[string]string) {
	value, ok := c.Get("ds")
	if !ok {
		value, ok = c.Get("ci.ds")
	}
	if !ok || value == "" {
		return "", nil
	}

	parts := strings.Split(value, ";")
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	opts := make(map[string]string)
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if long, ok := optionAliases[k]; ok {
			k = long
		}
		opts[k] = v
	}
	return name, opts
}

// CloudConfig returns the concatenated text of every "cc: ... end_cc"
// fragment. A literal \n inside a fragment becomes a newline.
func (c Cmdline) CloudConfig() string {
	const (
		begin = "cc:"
		end   = "end_cc"
	)

	var fragments []string
	rest := c.raw
	for {
		i := indexToken(rest, begin)
		if i < 0 {
			break
		}
		rest = rest[i+len(begin):]
		j := strings.Index(rest, end)
		frag := rest
		if j >= 0 {
			frag = rest[:j]
			rest = rest[j+len(end):]
		} else {
			rest = ""
		}
		frag = strings.TrimSpace(strings.ReplaceAll(frag, `\n`, "\n"))
		if frag != "" {
			fragments = append(fragments, frag)
		}
	}

	return strings.Join(fragments, "\n")
}

// indexToken finds begin at the start of s or after whitespace.
func indexToken(s, begin string) int {
	off := 0
	for {
		i := strings.Index(s[off:], begin)
		if i < 0 {
			return -1
		}
		pos := off + i
		if pos == 0 || s[pos-1] == ' ' || s[pos-1] == '\t' {
			return pos
		}
		off = pos + len(begin)
	}
}

// DisabledNetworkConfig is returned by NetworkConfig for network-config=disabled.
var DisabledNetworkConfig = []byte("network: {config: disabled}\n")

// NetworkConfig decodes network-config=<base64>. The value "disabled" maps to
// a config that turns network configuration off.
func (c Cmdline) NetworkConfig() ([]byte, bool) {
	value, ok := c.Get("network-config")
	if !ok || value == "" {
		return nil, false
	}
	if value == "disabled" {
		return DisabledNetworkConfig, true
	}

	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	return data, true
}
