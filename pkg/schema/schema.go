// Package schema validates cloud-config documents before they are used.
package schema

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/modules"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// Severity represents the severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found in a document. Path is the dotted location
// of the offending value, empty for document-level issues.
type Issue struct {
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Result holds all validation results.
type Result struct {
	Issues []Issue `json:"issues"`
}

// HasErrors returns true if there are any error-level issues.
func (r *Result) HasErrors() bool {
	return r.ErrorCount() > 0
}

// ErrorCount returns the number of error-level issues.
func (r *Result) ErrorCount() int {
	return r.count(SeverityError)
}

// WarningCount returns the number of warning-level issues.
func (r *Result) WarningCount() int {
	return r.count(SeverityWarning)
}

func (r *Result) count(s Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

func (r *Result) errorf(path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError})
}

func (r *Result) warnf(path, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

// Header is the first line every cloud-config document should carry.
const Header = "#cloud-config"

type checker func(r *Result, path string, v any)

// keys maps the top-level keys cinit understands to their checks.
var keys = map[string]checker{
	"bootcmd":                   commandList,
	"runcmd":                    commandList,
	"write_files":               writeFiles,
	"hostname":                  hostname,
	"fqdn":                      hostname,
	"preserve_hostname":         boolean,
	"prefer_fqdn_over_hostname": boolean,
	"manage_etc_hosts":          manageEtcHosts,
	"final_message":             str,
	"ssh_authorized_keys":       sshKeys,
	"vendor_data":               mapping,
	"merge_how":                 anything,
	"merge_type":                anything,
	"datasource_list":           stringList,
	"datasource":                mapping,
	"datasource_identify":       mapping,
	"manual_cache_clean":        boolean,
	"network":                   mapping,
	"system_info":               mapping,
	"cloud_init_modules":        moduleList,
	"cloud_config_modules":      moduleList,
	"cloud_final_modules":       moduleList,
}

// ValidateCloudConfig checks a user-supplied cloud-config document.
func ValidateCloudConfig(data []byte) *Result {
	r := &Result{Issues: []Issue{}}

	first, _, _ := bytes.Cut(data, []byte("\n"))
	if !strings.HasPrefix(strings.TrimSpace(string(first)), Header) {
		r.warnf("", "document does not start with %q and would not be treated as cloud-config", Header)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		r.errorf("", "invalid YAML: %v", err)
		return r
	}
	if doc == nil {
		return r
	}
	top, ok := config.Normalize(doc).(map[string]any)
	if !ok {
		r.errorf("", "cloud-config must be a mapping, got %s", typeName(doc))
		return r
	}

	names := make([]string, 0, len(top))
	for k := range top {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		check, known := keys[k]
		if !known {
			r.warnf(k, "unknown key, no module handles it")
			continue
		}
		check(r, k, top[k])
	}
	return r
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "mapping"
	}
	return fmt.Sprintf("%T", v)
}

func anything(*Result, string, any) {}

func str(r *Result, path string, v any) {
	if _, ok := v.(string); !ok {
		r.errorf(path, "must be a string, got %s", typeName(v))
	}
}

func boolean(r *Result, path string, v any) {
	if _, ok := v.(bool); !ok {
		r.errorf(path, "must be true or false, got %s", typeName(v))
	}
}

func mapping(r *Result, path string, v any) {
	if _, ok := v.(map[string]any); !ok {
		r.errorf(path, "must be a mapping, got %s", typeName(v))
	}
}

func stringList(r *Result, path string, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf(path, "must be a list, got %s", typeName(v))
		return
	}
	for i, item := range list {
		str(r, fmt.Sprintf("%s.%d", path, i), item)
	}
}

func hostname(r *Result, path string, v any) {
	s, ok := v.(string)
	if !ok {
		r.errorf(path, "must be a string, got %s", typeName(v))
		return
	}
	if err := utils.ValidateHostname(s); err != nil {
		r.errorf(path, "%v", err)
	}
}

func manageEtcHosts(r *Result, path string, v any) {
	switch val := v.(type) {
	case bool:
	case string:
		if val != "template" && val != "localhost" {
			r.errorf(path, "must be true, false, template or localhost, got %q", val)
		}
	default:
		r.errorf(path, "must be a boolean or string, got %s", typeName(v))
	}
}

// commandList checks bootcmd and runcmd: each entry is a shell string or
// an argv list of strings.
func commandList(r *Result, path string, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf(path, "must be a list, got %s", typeName(v))
		return
	}
	for i, entry := range list {
		p := fmt.Sprintf("%s.%d", path, i)
		switch cmd := entry.(type) {
		case string:
		case []any:
			if len(cmd) == 0 {
				r.errorf(p, "command list is empty")
			}
			for j, arg := range cmd {
				if _, ok := arg.(string); !ok {
					r.warnf(fmt.Sprintf("%s.%d", p, j), "argument is a %s and will be converted to a string", typeName(arg))
				}
			}
		default:
			r.errorf(p, "must be a string or a list, got %s", typeName(entry))
		}
	}
}

var encodings = map[string]bool{
	"": true, "text/plain": true,
	"b64": true, "base64": true,
	"gz": true, "gzip": true,
	"gz+b64": true, "gz+base64": true, "gzip+b64": true, "gzip+base64": true,
}

func writeFiles(r *Result, path string, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf(path, "must be a list, got %s", typeName(v))
		return
	}
	for i, entry := range list {
		p := fmt.Sprintf("%s.%d", path, i)
		f, ok := entry.(map[string]any)
		if !ok {
			r.errorf(p, "must be a mapping, got %s", typeName(entry))
			continue
		}
		if target, _ := f["path"].(string); strings.TrimSpace(target) == "" {
			r.errorf(p+".path", "path is required")
		}
		if enc, ok := f["encoding"]; ok {
			s, isStr := enc.(string)
			if !isStr || !encodings[strings.ToLower(strings.TrimSpace(s))] {
				r.errorf(p+".encoding", "unsupported encoding %v", enc)
			}
		}
		if perm, ok := f["permissions"]; ok {
			permissions(r, p+".permissions", perm)
		}
		for _, key := range []string{"append", "defer"} {
			if b, ok := f[key]; ok {
				boolean(r, p+"."+key, b)
			}
		}
	}
}

func permissions(r *Result, path string, v any) {
	switch perm := v.(type) {
	case int:
		if perm < 0 || perm > 07777 {
			r.errorf(path, "mode %d out of range", perm)
		}
	case string:
		if _, err := strconv.ParseUint(strings.TrimPrefix(perm, "0o"), 8, 32); err != nil {
			r.errorf(path, "must be an octal string such as '0644', got %q", perm)
		} else if !strings.HasPrefix(perm, "0") {
			r.warnf(path, "%q is read as octal, prefix it with 0 to make that explicit", perm)
		}
	default:
		r.errorf(path, "must be an octal string, got %s", typeName(v))
	}
}

// validSSHKeyPrefixes are the key types accepted in ssh_authorized_keys.
var validSSHKeyPrefixes = []string{"ssh-rsa", "ssh-ed25519", "ssh-dss", "ecdsa-sha2", "sk-ssh-ed25519", "sk-ecdsa-sha2"}

func sshKeys(r *Result, path string, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf(path, "must be a list, got %s", typeName(v))
		return
	}
	for i, entry := range list {
		p := fmt.Sprintf("%s.%d", path, i)
		key, ok := entry.(string)
		if !ok {
			r.errorf(p, "must be a string, got %s", typeName(entry))
			continue
		}
		if err := validateSSHKey(key); err != nil {
			r.errorf(p, "%v", err)
		}
	}
}

// validateSSHKey validates SSH public key format.
func validateSSHKey(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("SSH public key is empty")
	}
	for _, prefix := range validSSHKeyPrefixes {
		if strings.HasPrefix(s, prefix) {
			return nil
		}
	}
	return fmt.Errorf("invalid SSH key format: must start with ssh-rsa, ssh-ed25519 or ecdsa-sha2")
}

// moduleList checks that every entry names a known module and, when a
// frequency is given, that it parses.
func moduleList(r *Result, path string, v any) {
	list, ok := v.([]any)
	if !ok {
		r.errorf(path, "must be a list, got %s", typeName(v))
		return
	}
	registry := modules.DefaultRegistry()
	for i, entry := range list {
		p := fmt.Sprintf("%s.%d", path, i)
		var name, freq string
		switch e := entry.(type) {
		case string:
			name = e
		case []any:
			if len(e) == 0 || len(e) > 2 {
				r.errorf(p, "must be [name] or [name, frequency]")
				continue
			}
			name = fmt.Sprint(e[0])
			if len(e) == 2 {
				freq = fmt.Sprint(e[1])
			}
		default:
			r.errorf(p, "must be a module name, got %s", typeName(entry))
			continue
		}

		if _, ok := registry.Lookup(name); !ok {
			r.warnf(p, "unknown module %q", name)
		}
		if freq != "" {
			if _, err := semaphore.ParseFrequency(freq); err != nil {
				r.errorf(p, "%v", err)
			}
		}
	}
}
