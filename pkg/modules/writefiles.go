package modules

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

const defaultFileMode os.FileMode = 0644

// writeFiles writes the write_files entries. The deferred variant runs in
// the final stage and handles only entries with "defer: true".
type writeFiles struct {
	deferred bool
}

func (w writeFiles) Name() string {
	if w.deferred {
		return "write_files_deferred"
	}
	return "write_files"
}

func (writeFiles) Frequency() semaphore.Frequency { return semaphore.PerInstance }
func (writeFiles) ActivateByKeys() []string       { return []string{"write_files"} }

func (w writeFiles) Handle(_ context.Context, c *Cloud, cfg config.Config) error {
	var errs []error
	for i, item := range cfg.List("write_files") {
		var f config.Config
		switch v := item.(type) {
		case map[string]any:
			f = v
		case config.Config:
			f = v
		default:
			errs = append(errs, fmt.Errorf("write_files[%d]: expected a mapping", i))
			continue
		}
		if f.Bool("defer", false) != w.deferred {
			continue
		}
		if err := writeFile(c, f); err != nil {
			errs = append(errs, fmt.Errorf("write_files[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func writeFile(c *Cloud, f config.Config) error {
	target := f.String("path", "")
	if target == "" {
		return errors.New("missing path")
	}

	content, err := decodeContent(f.String("content", ""), f.String("encoding", ""))
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}
	mode, err := fileMode(f)
	if err != nil {
		return fmt.Errorf("%s: %w", target, err)
	}

	path := c.Paths.Join(target)
	if f.Bool("append", false) {
		err = appendFile(path, content, mode)
	} else {
		err = utils.WriteFileAtomic(path, content, mode)
	}
	if err != nil {
		return err
	}

	if owner := f.String("owner", ""); owner != "" {
		if err := chown(path, owner); err != nil {
			slog.Warn("failed to set file owner",
				slog.String("path", target), slog.String("owner", owner), slog.Any("error", err))
		}
	}
	slog.Debug("wrote file", slog.String("path", target), slog.Int("bytes", len(content)))
	return nil
}

func appendFile(path string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	return f.Close()
}

// decodeContent applies the write_files encoding.
func decodeContent(content, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "text/plain":
		return []byte(content), nil
	case "b64", "base64":
		return decodeBase64(content)
	case "gz", "gzip":
		return gunzip([]byte(content))
	case "gz+b64", "gz+base64", "gzip+b64", "gzip+base64":
		raw, err := decodeBase64(content)
		if err != nil {
			return nil, err
		}
		return gunzip(raw)
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress content: %w", err)
	}
	return out, nil
}

// fileMode reads "permissions": an octal string, or an integer that YAML
// already decoded from an unquoted octal literal.
func fileMode(f config.Config) (os.FileMode, error) {
	v, ok := f.Get("permissions")
	if !ok || v == nil {
		return defaultFileMode, nil
	}
	switch t := v.(type) {
	case int:
		return os.FileMode(t) & os.ModePerm, nil
	case string:
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(t), "0o"), 8, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid permissions %q", t)
		}
		return os.FileMode(n) & os.ModePerm, nil
	}
	return 0, fmt.Errorf("invalid permissions %v", v)
}

// chown resolves "user[:group]" and applies it.
func chown(path, owner string) error {
	name, group, _ := strings.Cut(owner, ":")
	u, err := user.Lookup(name)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return err
		}
	}
	return os.Chown(path, uid, gid)
}
