package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
)

// fakeIMDS serves a small metadata tree. With requireToken set, requests
// without a valid token get 401 like an IMDSv2-only instance.
func fakeIMDS(t *testing.T, requireToken, tokenSupported bool) *httptest.Server {
	t.Helper()
	const token = "tok-123"

	tree := map[string]string{
		"/latest/meta-data/instance-id":                 "i-0abc",
		"/latest/meta-data/local-hostname":              "ip-10-0-0-1.ec2.internal",
		"/latest/meta-data/placement/availability-zone": "eu-west-1b",
		"/latest/meta-data/public-keys/":                "0=main\n1=backup",
		"/latest/meta-data/public-keys/0/openssh-key":   "ssh-ed25519 AAAA main",
		"/latest/meta-data/public-keys/1/openssh-key":   "ssh-ed25519 BBBB backup",
		"/latest/dynamic/instance-identity/document":    `{"region": "eu-west-1", "instanceId": "i-0abc"}`,
		"/latest/user-data":                             "#cloud-config\nhostname: web\n",
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/latest/api/token" {
			if !tokenSupported {
				http.NotFound(w, r)
				return
			}
			if r.Method != http.MethodPut || r.Header.Get("X-aws-ec2-metadata-token-ttl-seconds") != "21600" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(token))
			return
		}
		if requireToken && r.Header.Get("X-aws-ec2-metadata-token") != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := tree[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
}

func ec2Env(t *testing.T, urls ...string) *Env {
	env := newTestEnv(t, "")
	list := make([]any, len(urls))
	for i, u := range urls {
		list[i] = u
	}
	env.Config = config.Config{"datasource": map[string]any{
		"Ec2": map[string]any{"metadata_urls": list, "retries": 0},
	}}
	return env
}

func TestEc2_Detect(t *testing.T) {
	tests := []struct {
		name string
		dmi  fakeDMI
		cmd  string
		want bool
	}{
		{"sys vendor", fakeDMI{"sys_vendor": "Amazon EC2"}, "", true},
		{"product uuid", fakeDMI{"product_uuid": "EC2E1916-9099-7CAF-FD21-012345ABCDEF"}, "", true},
		{"bios version", fakeDMI{"bios_version": "4.11.amazon"}, "", true},
		{"kernel hint", fakeDMI{}, "ds=ec2", true},
		{"other cloud", fakeDMI{"sys_vendor": "QEMU"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.cmd)
			env.DMI = tt.dmi
			assert.Equal(t, tt.want, (&Ec2{}).Detect(context.Background(), env))
		})
	}
}

func TestEc2_CrawlIMDSv2(t *testing.T) {
	srv := fakeIMDS(t, true, true)
	defer srv.Close()

	data, err := (&Ec2{}).Crawl(context.Background(), ec2Env(t, srv.URL))

	require.NoError(t, err)
	assert.Equal(t, "Ec2", data.Source)
	assert.Equal(t, "i-0abc", data.InstanceID)
	assert.Equal(t, "ip-10-0-0-1.ec2.internal", data.LocalHostname)
	assert.Equal(t, "eu-west-1b", data.AvailabilityZone)
	assert.Equal(t, "eu-west-1", data.Region)
	assert.Equal(t, []string{"ssh-ed25519 AAAA main", "ssh-ed25519 BBBB backup"}, data.PublicKeys)
	assert.Equal(t, "#cloud-config\nhostname: web\n", string(data.UserData))
	assert.Equal(t, "i-0abc", data.MetaData["instance-id"])
}

func TestEc2_FallsBackToIMDSv1(t *testing.T) {
	srv := fakeIMDS(t, false, false)
	defer srv.Close()

	data, err := (&Ec2{}).Crawl(context.Background(), ec2Env(t, srv.URL))

	require.NoError(t, err)
	assert.Equal(t, "i-0abc", data.InstanceID)
}

func TestEc2_TriesNextMetadataURL(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer dead.Close()
	srv := fakeIMDS(t, true, true)
	defer srv.Close()

	data, err := (&Ec2{}).Crawl(context.Background(), ec2Env(t, dead.URL, srv.URL))

	require.NoError(t, err)
	assert.True(t, strings.Contains(data.Subplatform, srv.URL))
}

func TestEc2_MissingUserDataAndRegionFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest/meta-data/instance-id":
			_, _ = w.Write([]byte("i-min"))
		case "/latest/meta-data/placement/availability-zone":
			_, _ = w.Write([]byte("us-east-2c"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	data, err := (&Ec2{}).Crawl(context.Background(), ec2Env(t, srv.URL))

	require.NoError(t, err)
	assert.Equal(t, "i-min", data.InstanceID)
	assert.Equal(t, "us-east-2", data.Region)
	assert.Empty(t, data.UserData)
	assert.Empty(t, data.PublicKeys)
}

func TestEc2_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := (&Ec2{}).Crawl(context.Background(), ec2Env(t, srv.URL))

	assert.Error(t, err)
}
