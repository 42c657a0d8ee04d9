package utils

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxHostnameLength is the maximum length of a fully qualified name.
	MaxHostnameLength = 253
	// MaxLabelLength is the maximum length of one DNS label.
	MaxLabelLength = 63
)

// labelPattern matches a single RFC 1123 label.
var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

// ValidateHostname validates a hostname or fully qualified domain name.
// A single trailing dot is accepted.
func ValidateHostname(name string) error {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")

	if name == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	if len(name) > MaxHostnameLength {
		return fmt.Errorf("hostname cannot exceed %d characters", MaxHostnameLength)
	}

	for _, label := range strings.Split(name, ".") {
		if len(label) > MaxLabelLength {
			return fmt.Errorf("hostname label %q exceeds %d characters", label, MaxLabelLength)
		}
		if !labelPattern.MatchString(label) {
			return fmt.Errorf("hostname label %q contains invalid characters", label)
		}
	}

	return nil
}

// ShortHostname returns the first label of a fully qualified name.
func ShortHostname(fqdn string) string {
	if i := strings.IndexByte(fqdn, '.'); i > 0 {
		return fqdn[:i]
	}
	return fqdn
}
