package clean

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/paths"
)

func populate(t *testing.T) *paths.Paths {
	t.Helper()
	p := paths.New(t.TempDir())
	for _, f := range []string{
		filepath.Join(p.InstanceDir("iid-1"), "obj.json"),
		filepath.Join(p.DataDir(), "instance-id"),
		filepath.Join(p.SeedDir, "nocloud", "meta-data"),
		p.RunFile("status.json"),
		p.LogFile,
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(f), 0755))
		require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
	}
	require.NoError(t, os.Symlink(p.InstanceDir("iid-1"), p.InstanceLink()))
	return p
}

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		opts     Options
		wantSeed bool
		wantLog  bool
	}{
		{name: "defaults", opts: Options{}, wantSeed: true, wantLog: true},
		{name: "logs", opts: Options{Logs: true}, wantSeed: true, wantLog: false},
		{name: "seed", opts: Options{Seed: true}, wantSeed: false, wantLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := populate(t)

			removed, err := Clean(p, tt.opts)
			require.NoError(t, err)

			assert.Contains(t, removed, p.RunDir)
			assert.NoDirExists(t, filepath.Join(p.CloudDir, "instances"))
			assert.NoDirExists(t, p.DataDir())
			assert.NoDirExists(t, p.RunDir)
			_, err = os.Lstat(p.InstanceLink())
			assert.True(t, os.IsNotExist(err))

			_, err = os.Stat(p.SeedDir)
			assert.Equal(t, tt.wantSeed, err == nil)
			_, err = os.Stat(p.LogFile)
			assert.Equal(t, tt.wantLog, err == nil)
		})
	}
}

func TestClean_NothingToDo(t *testing.T) {
	removed, err := Clean(paths.New(t.TempDir()), Options{Logs: true, Seed: true})

	require.NoError(t, err)
	assert.Empty(t, removed)
}
