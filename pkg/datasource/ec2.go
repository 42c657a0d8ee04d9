package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

const (
	// DefaultEc2MetadataURL is the link-local instance metadata service.
	DefaultEc2MetadataURL = "http://169.254.169.254"

	ec2TokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	ec2TokenHeader    = "X-aws-ec2-metadata-token"
	ec2TokenTTL       = "21600"
	ec2APIVersion     = "latest"
)

// Ec2 reads the AWS instance metadata service, preferring IMDSv2 tokens.
type Ec2 struct{}

func (*Ec2) Name() string { return "Ec2" }

func (*Ec2) Dependencies() []Dependency { return NetworkDeps }

// Detect checks SMBIOS strings and the kernel command line hint.
func (*Ec2) Detect(_ context.Context, env *Env) bool {
	if name, _ := env.Cmdline.DatasourceHint(); name == "ec2" {
		return true
	}
	if env.DMI == nil {
		return false
	}
	if env.DMI.Read("sys_vendor") == "Amazon EC2" {
		return true
	}
	for _, field := range []string{"product_uuid", "product_serial"} {
		if strings.HasPrefix(strings.ToLower(env.DMI.Read(field)), "ec2") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(env.DMI.Read("bios_version")), "amazon")
}

// ec2Session is a metadata base URL plus the token to send with requests.
type ec2Session struct {
	client *urlhelper.Client
	base   string
	token  string
}

func (s *ec2Session) url(path string) string {
	return strings.TrimSuffix(s.base, "/") + "/" + ec2APIVersion + "/" + path
}

func (s *ec2Session) headers() map[string]string {
	if s.token == "" {
		return nil
	}
	return map[string]string{ec2TokenHeader: s.token}
}

func (s *ec2Session) get(ctx context.Context, path string) (string, error) {
	resp, err := s.client.Read(ctx, s.url(path), s.headers())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

// getOptional treats 404 as an empty value.
func (s *ec2Session) getOptional(ctx context.Context, path string) (string, error) {
	v, err := s.get(ctx, path)
	if urlhelper.IsNotFound(err) {
		return "", nil
	}
	return v, err
}

// client returns a urlhelper client tuned by datasource.Ec2 settings.
func (e *Ec2) client(env *Env) *urlhelper.Client {
	cfg := env.SourceConfig(e.Name())
	c := *env.URL
	if t := cfg.Int("timeout", 0); t > 0 {
		c.Timeout = time.Duration(t) * time.Second
	}
	if r := cfg.Int("retries", -1); r >= 0 {
		c.Retries = r
	}
	return &c
}

// session negotiates a token with the first reachable metadata URL.
func (e *Ec2) session(ctx context.Context, env *Env) (*ec2Session, error) {
	urls := env.SourceConfig(e.Name()).Strings("metadata_urls")
	if len(urls) == 0 {
		urls = []string{DefaultEc2MetadataURL}
	}
	client := e.client(env)

	var errs []error
	for _, base := range urls {
		s := &ec2Session{client: client, base: base}

		resp, err := client.Put(ctx, strings.TrimSuffix(base, "/")+"/"+ec2APIVersion+"/api/token",
			map[string]string{ec2TokenTTLHeader: ec2TokenTTL})
		if err == nil {
			s.token = strings.TrimSpace(string(resp.Body))
		} else {
			slog.Debug("imdsv2 token request failed, falling back to imdsv1",
				slog.String("url", base), slog.Any("error", err))
		}

		if _, err := s.get(ctx, "meta-data/instance-id"); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", base, err))
			continue
		}
		return s, nil
	}
	return nil, fmt.Errorf("failed to reach metadata service: %w", errors.Join(errs...))
}

// Crawl reads the metadata tree and user-data.
func (e *Ec2) Crawl(ctx context.Context, env *Env) (*Data, error) {
	s, err := e.session(ctx, env)
	if err != nil {
		return nil, err
	}

	iid, err := s.get(ctx, "meta-data/instance-id")
	if err != nil {
		return nil, fmt.Errorf("failed to read instance-id: %w", err)
	}

	data := &Data{
		Source:      e.Name(),
		InstanceID:  iid,
		Platform:    "ec2",
		Subplatform: "metadata (" + s.base + ")",
	}

	if data.LocalHostname, err = s.getOptional(ctx, "meta-data/local-hostname"); err != nil {
		return nil, fmt.Errorf("failed to read local-hostname: %w", err)
	}
	if data.AvailabilityZone, err = s.getOptional(ctx, "meta-data/placement/availability-zone"); err != nil {
		return nil, fmt.Errorf("failed to read availability-zone: %w", err)
	}
	if data.PublicKeys, err = e.publicKeys(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to read public-keys: %w", err)
	}
	data.Region = e.region(ctx, s, data.AvailabilityZone)

	ud, err := s.client.Read(ctx, s.url("user-data"), s.headers())
	switch {
	case urlhelper.IsNotFound(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read user-data: %w", err)
	default:
		data.UserData = ud.Body
	}

	data.MetaData = map[string]any{
		"instance-id":       data.InstanceID,
		"local-hostname":    data.LocalHostname,
		"availability-zone": data.AvailabilityZone,
		"region":            data.Region,
		"public-keys":       data.PublicKeys,
	}
	return data, nil
}

// publicKeys lists public-keys/ ("0=name" per line) and fetches each key.
func (e *Ec2) publicKeys(ctx context.Context, s *ec2Session) ([]string, error) {
	listing, err := s.getOptional(ctx, "meta-data/public-keys/")
	if err != nil || listing == "" {
		return nil, err
	}

	var indexes []string
	for _, line := range strings.Split(listing, "\n") {
		idx, _, _ := strings.Cut(strings.TrimSpace(line), "=")
		if idx != "" {
			indexes = append(indexes, idx)
		}
	}
	sort.Strings(indexes)

	keys := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		key, err := s.getOptional(ctx, "meta-data/public-keys/"+idx+"/openssh-key")
		if err != nil {
			return nil, err
		}
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// region reads the identity document, falling back to the zone name
// without its trailing letter.
func (e *Ec2) region(ctx context.Context, s *ec2Session, az string) string {
	doc, err := s.getOptional(ctx, "dynamic/instance-identity/document")
	if err == nil && doc != "" {
		var ident struct {
			Region string `json:"region"`
		}
		if json.Unmarshal([]byte(doc), &ident) == nil && ident.Region != "" {
			return ident.Region
		}
	}
	if len(az) > 1 {
		return az[:len(az)-1]
	}
	return ""
}
