// Package envfile parses shell-style KEY=VALUE files such as /etc/os-release.
package envfile

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Parse reads the env file at path.
func Parse(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses KEY=VALUE lines. Blank lines and # comments are skipped,
// single or double quotes around a value are removed, and backslash escapes
// inside double quotes are resolved.
func ParseReader(r io.Reader) (map[string]string, error) {
	envVars := make(map[string]string)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		envVars[key] = unquote(strings.TrimSpace(value))
	}

	return envVars, scanner.Err()
}

func unquote(value string) string {
	if len(value) < 2 {
		return value
	}

	switch {
	case value[0] == '\'' && value[len(value)-1] == '\'':
		return value[1 : len(value)-1]
	case value[0] == '"' && value[len(value)-1] == '"':
		inner := value[1 : len(value)-1]
		var b strings.Builder
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}

	return value
}
