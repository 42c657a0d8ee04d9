// Package userdata splits raw user-data and vendor-data into cloud-config,
// scripts and boothooks.
package userdata

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

// Part content types.
const (
	TypeCloudConfig = "text/cloud-config"
	TypeShellScript = "text/x-shellscript"
	TypeBoothook    = "text/cloud-boothook"
	TypeInclude     = "text/x-include-url"
	TypeArchive     = "text/cloud-config-archive"
	TypePlain       = "text/plain"
	TypeMultipart   = "multipart/mixed"
)

// maxIncludeDepth bounds #include and archive recursion.
const maxIncludeDepth = 5

// ErrTooDeep is returned when includes nest deeper than allowed.
var ErrTooDeep = errors.New("user-data nesting too deep")

// Fetcher retrieves #include URLs.
type Fetcher interface {
	Read(ctx context.Context, url string, headers map[string]string) (*urlhelper.Response, error)
}

// Part is one leaf of processed user-data.
type Part struct {
	Type     string
	Filename string
	Content  []byte
	MergeHow string
}

// Processed is the result of processing one user-data blob.
type Processed struct {
	CloudConfig config.Config
	Scripts     []Part
	Boothooks   []Part
	// Unknown counts parts of unknown type or that could not be fetched.
	Unknown int
}

// Process decodes raw into parts. Fetcher may be nil, in which case
// #include parts are skipped.
func Process(ctx context.Context, raw []byte, fetcher Fetcher) (*Processed, error) {
	p := &processor{
		fetcher: fetcher,
		result:  &Processed{CloudConfig: config.Config{}},
	}
	if err := p.walk(ctx, raw, "", "", "", 0); err != nil {
		return nil, err
	}
	return p.result, nil
}

type processor struct {
	fetcher Fetcher
	result  *Processed
	count   int
}

func (p *processor) nextFilename(given string) string {
	p.count++
	if given != "" {
		return given
	}
	return fmt.Sprintf("part-%03d", p.count)
}

// walk handles one blob whose declared type may be empty (sniffed).
func (p *processor) walk(ctx context.Context, data []byte, ctype, filename, mergeHow string, depth int) error {
	if depth > maxIncludeDepth {
		return ErrTooDeep
	}

	data, err := maybeGunzip(data)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if ctype == "" || ctype == TypePlain || ctype == "text/x-not-multipart" {
		ctype = Sniff(data)
	}

	switch {
	case strings.HasPrefix(ctype, "multipart/"):
		return p.walkMIME(ctx, data, depth)
	case ctype == TypeCloudConfig:
		return p.addCloudConfig(data, p.nextFilename(filename), mergeHow)
	case ctype == TypeShellScript:
		p.result.Scripts = append(p.result.Scripts, Part{
			Type: ctype, Filename: p.nextFilename(filename), Content: data,
		})
	case ctype == TypeBoothook:
		p.result.Boothooks = append(p.result.Boothooks, Part{
			Type: ctype, Filename: p.nextFilename(filename), Content: stripBoothookHeader(data),
		})
	case ctype == TypeInclude:
		return p.walkInclude(ctx, data, depth)
	case ctype == TypeArchive:
		return p.walkArchive(ctx, data, depth)
	default:
		slog.Warn("skipping user-data part of unhandled type",
			slog.String("type", ctype), slog.String("filename", filename))
		p.result.Unknown++
	}
	return nil
}

// Sniff returns the content type implied by the first line of data.
func Sniff(data []byte) string {
	head := data
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	line := strings.TrimSpace(string(head))
	lower := strings.ToLower(line)

	switch {
	case strings.HasPrefix(line, "#cloud-config-archive"):
		return TypeArchive
	case strings.HasPrefix(line, "#cloud-config"):
		return TypeCloudConfig
	case strings.HasPrefix(line, "#cloud-boothook"):
		return TypeBoothook
	case strings.HasPrefix(line, "#include"):
		return TypeInclude
	case strings.HasPrefix(line, "#!"):
		return TypeShellScript
	case strings.HasPrefix(lower, "content-type:"), strings.HasPrefix(lower, "mime-version:"):
		return TypeMultipart
	}
	return TypePlain
}

func (p *processor) addCloudConfig(data []byte, filename, mergeHow string) error {
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse cloud-config part %s: %w", filename, err)
	}

	if mergeHow == "" {
		for _, key := range []string{"merge_how", "merge_type"} {
			if v, ok := cfg[key].(string); ok {
				mergeHow = v
			}
		}
	}
	delete(cfg, "merge_how")
	delete(cfg, "merge_type")

	how, err := config.ParseMergeHow(mergeHow)
	if err != nil {
		return fmt.Errorf("invalid merge_how in part %s: %w", filename, err)
	}

	p.result.CloudConfig = config.Merge(p.result.CloudConfig, cfg, how)
	return nil
}

func (p *processor) walkInclude(ctx context.Context, data []byte, depth int) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p.fetcher == nil {
			slog.Warn("no fetcher for #include", slog.String("url", line))
			p.result.Unknown++
			continue
		}

		resp, err := p.fetcher.Read(ctx, line, nil)
		if err != nil {
			slog.Warn("failed to fetch #include url", slog.String("url", line), slog.Any("error", err))
			p.result.Unknown++
			continue
		}
		if err := p.walk(ctx, resp.Body, "", "", "", depth+1); err != nil {
			return err
		}
	}
	return scanner.Err()
}

type archiveEntry struct {
	Type      string `yaml:"type"`
	Content   string `yaml:"content"`
	Filename  string `yaml:"filename"`
	MergeHow  string `yaml:"merge_how"`
	MergeType string `yaml:"merge_type"`
}

func (p *processor) walkArchive(ctx context.Context, data []byte, depth int) error {
	var entries []yaml.Node
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse cloud-config-archive: %w", err)
	}

	for i := range entries {
		node := &entries[i]
		var entry archiveEntry
		if node.Kind == yaml.ScalarNode {
			entry.Content = node.Value
		} else if err := node.Decode(&entry); err != nil {
			return fmt.Errorf("failed to parse cloud-config-archive entry %d: %w", i, err)
		}

		mergeHow := entry.MergeHow
		if mergeHow == "" {
			mergeHow = entry.MergeType
		}
		if err := p.walk(ctx, []byte(entry.Content), entry.Type, entry.Filename, mergeHow, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func maybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip user-data: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress user-data: %w", err)
	}
	return out, nil
}

func stripBoothookHeader(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("#cloud-boothook")) {
		return data
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return append([]byte("#!/bin/sh\n"), data[i+1:]...)
	}
	return []byte("#!/bin/sh\n")
}
