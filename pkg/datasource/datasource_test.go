package datasource

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jaspreet-dot-casa/cinit/pkg/cmdline"
	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type fakeDMI map[string]string

func (f fakeDMI) Read(field string) string { return f[field] }

type fakeSource struct {
	name     string
	deps     []Dependency
	detect   bool
	data     *Data
	err      error
	delay    time.Duration
	crawled  *atomic.Int32
	checkIID bool
}

func (f *fakeSource) Name() string               { return f.name }
func (f *fakeSource) Dependencies() []Dependency { return f.deps }

func (f *fakeSource) Detect(ctx context.Context, _ *Env) bool {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false
		}
	}
	return f.detect
}

func (f *fakeSource) Crawl(context.Context, *Env) (*Data, error) {
	if f.crawled != nil {
		f.crawled.Add(1)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeSource) CheckInstanceID(context.Context, *Env, *Data) bool { return f.checkIID }

func newTestEnv(t *testing.T, cmd string) *Env {
	t.Helper()
	client := urlhelper.NewClient()
	client.HTTP = &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	client.Retries = 0
	client.Timeout = 2 * time.Second
	client.Backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	return &Env{
		Paths:   paths.New(t.TempDir()),
		Config:  config.Config{},
		Cmdline: cmdline.Parse(cmd),
		DMI:     fakeDMI{},
		URL:     client,
	}
}

func registryWith(sources ...*fakeSource) *Registry {
	r := NewRegistry()
	for _, s := range sources {
		r.Register(s.name, func() Source { return s })
	}
	return r
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"Ec2", "NoCloud", "NoCloudNet", "None"}, r.Names())

	src, ok := r.Lookup("nocloud")
	require.True(t, ok)
	assert.Equal(t, "NoCloud", src.Name())

	src, ok = r.Lookup("NOCLOUDNET")
	require.True(t, ok)
	assert.Equal(t, "NoCloudNet", src.Name())
	assert.Equal(t, NetworkDeps, src.Dependencies())

	_, ok = r.Lookup("Azure")
	assert.False(t, ok)
}

func TestIdentify_PreservesListOrder(t *testing.T) {
	r := &Resolver{Registry: registryWith(
		&fakeSource{name: "Slow", detect: true, delay: 50 * time.Millisecond},
		&fakeSource{name: "Fast", detect: true},
		&fakeSource{name: "Absent", detect: false},
		&fakeSource{name: NoneName, detect: true},
	)}
	env := newTestEnv(t, "")

	got := r.Identify(context.Background(), env, []string{NoneName, "Slow", "Absent", "Unknown", "Fast"})

	assert.Equal(t, []string{"Slow", "Fast", NoneName}, got)
}

func TestIdentify_Empty(t *testing.T) {
	r := &Resolver{Registry: registryWith(&fakeSource{name: "A"})}

	got := r.Identify(context.Background(), newTestEnv(t, ""), []string{"A"})

	assert.Empty(t, got)
}

func TestFind(t *testing.T) {
	local := &fakeSource{name: "Local", deps: LocalDeps, detect: true,
		data: &Data{InstanceID: "i-local"}}
	remote := &fakeSource{name: "Remote", deps: NetworkDeps, detect: true,
		data: &Data{InstanceID: "i-remote"}}
	broken := &fakeSource{name: "Broken", deps: LocalDeps, detect: true,
		err: errors.New("boom")}
	blank := &fakeSource{name: "Blank", deps: LocalDeps, detect: true, data: &Data{}}
	hidden := &fakeSource{name: "Hidden", deps: LocalDeps, detect: false,
		data: &Data{InstanceID: "i-hidden"}}

	r := &Resolver{Registry: registryWith(local, remote, broken, blank, hidden)}
	env := newTestEnv(t, "")

	tests := []struct {
		name    string
		names   []string
		deps    []Dependency
		wantIID string
		wantSrc string
	}{
		{"first in list wins", []string{"Local", "Remote"}, NetworkDeps, "i-local", "Local"},
		{"network source needs network", []string{"Remote", "Local"}, LocalDeps, "i-local", "Local"},
		{"network stage sees both", []string{"Remote", "Local"}, NetworkDeps, "i-remote", "Remote"},
		{"crawl error tries next", []string{"Broken", "Local"}, LocalDeps, "i-local", "Local"},
		{"missing instance id tries next", []string{"Blank", "Local"}, LocalDeps, "i-local", "Local"},
		{"undetected skipped", []string{"Hidden", "Local"}, LocalDeps, "i-local", "Local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := r.Find(context.Background(), env, tt.names, tt.deps)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIID, data.InstanceID)
			assert.Equal(t, tt.wantSrc, data.Source)
		})
	}
}

func TestFind_NotFound(t *testing.T) {
	r := &Resolver{Registry: registryWith(
		&fakeSource{name: "Remote", deps: NetworkDeps, detect: true, data: &Data{InstanceID: "x"}},
		&fakeSource{name: "Broken", deps: LocalDeps, detect: true, err: errors.New("boom")},
	)}

	_, err := r.Find(context.Background(), newTestEnv(t, ""), []string{"Remote", "Broken", "Nope"}, LocalDeps)

	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Broken")
	assert.NotContains(t, err.Error(), "Remote")
}

func TestFind_StopsAfterFirstSuccess(t *testing.T) {
	var crawls atomic.Int32
	first := &fakeSource{name: "First", deps: LocalDeps, detect: true,
		data: &Data{InstanceID: "a"}, crawled: &crawls}
	second := &fakeSource{name: "Second", deps: LocalDeps, detect: true,
		data: &Data{InstanceID: "b"}, crawled: &crawls}
	r := &Resolver{Registry: registryWith(first, second)}

	_, err := r.Find(context.Background(), newTestEnv(t, ""), []string{"First", "Second"}, LocalDeps)

	require.NoError(t, err)
	assert.Equal(t, int32(1), crawls.Load())
}

func TestFind_ContextCanceled(t *testing.T) {
	r := &Resolver{Registry: registryWith(&fakeSource{name: "A", detect: true, data: &Data{InstanceID: "a"}})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Find(ctx, newTestEnv(t, ""), []string{"A"}, NetworkDeps)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNone(t *testing.T) {
	env := newTestEnv(t, "")
	env.Config = config.Config{"datasource": map[string]any{
		"None": map[string]any{"userdata_raw": "#cloud-config\n{}\n"},
	}}

	data, err := (&None{}).Crawl(context.Background(), env)

	require.NoError(t, err)
	assert.Equal(t, NoneInstanceID, data.InstanceID)
	assert.Equal(t, "localhost", data.LocalHostname)
	assert.Equal(t, "#cloud-config\n{}\n", string(data.UserData))
}

func TestFileDMI(t *testing.T) {
	env := newTestEnv(t, "")
	writeFile(t, env.Paths.DMIDir+"/sys_vendor", "Amazon EC2\n")

	dmi := FileDMI{Dir: env.Paths.DMIDir}

	assert.Equal(t, "Amazon EC2", dmi.Read("sys_vendor"))
	assert.Equal(t, "", dmi.Read("product_uuid"))
}
