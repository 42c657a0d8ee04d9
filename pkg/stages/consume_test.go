package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/subp"
)

const multipartUserData = `Content-Type: multipart/mixed; boundary="XX"
MIME-Version: 1.0

--XX
Content-Type: text/cloud-config

hostname: from-user
--XX
Content-Type: text/x-shellscript; charset="us-ascii"
Content-Disposition: attachment; filename="hello.sh"

#!/bin/sh
echo hello
--XX
Content-Type: text/cloud-boothook

#!/bin/sh
echo early
--XX--
`

func TestConsume(t *testing.T) {
	s, exec, _ := newTestSequencer(t)
	b, err := s.prepare()
	require.NoError(t, err)
	data := &datasource.Data{
		Source:     "NoCloud",
		InstanceID: "iid-1",
		UserData:   []byte(multipartUserData),
		VendorData: []byte("#!/bin/sh\necho vendor\n"),
	}

	got, err := s.consume(context.Background(), b, data)
	require.NoError(t, err)

	assert.Empty(t, got.errs)
	assert.Equal(t, "from-user", got.user.String("hostname", ""))

	dir := s.Paths.InstanceDir("iid-1")
	assert.FileExists(t, filepath.Join(dir, "scripts", "hello.sh"))
	assert.FileExists(t, filepath.Join(dir, "scripts", "vendor", "part-001"))

	saved, err := config.ReadFile(filepath.Join(dir, CloudConfigFile))
	require.NoError(t, err)
	assert.Equal(t, "from-user", saved.String("hostname", ""))

	info, err := os.Stat(filepath.Join(dir, UserDataFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.Len(t, exec.Calls, 1)
	assert.Equal(t, filepath.Join(dir, "boothooks"), filepath.Dir(exec.Calls[0].Args[0]))
	assert.Equal(t, []string{"INSTANCE_ID=iid-1"}, exec.Calls[0].Env)
}

func TestConsume_VendorDataDisabled(t *testing.T) {
	s, _, _ := newTestSequencer(t)
	b, err := s.prepare()
	require.NoError(t, err)
	data := &datasource.Data{
		InstanceID: "iid-1",
		UserData:   []byte("#cloud-config\nvendor_data:\n  enabled: false\n"),
		VendorData: []byte("#cloud-config\nruncmd: [reboot]\n"),
	}

	got, err := s.consume(context.Background(), b, data)
	require.NoError(t, err)

	assert.Empty(t, got.vendor)
	assert.NoFileExists(t, filepath.Join(s.Paths.InstanceDir("iid-1"), VendorDataFile))
}

func TestConsume_BoothookFailureIsRecoverable(t *testing.T) {
	s, exec, _ := newTestSequencer(t)
	exec.RunFunc = func(subp.Command) (subp.Result, error) {
		return subp.Result{ExitCode: 3}, errors.New("exit status 3")
	}
	b, err := s.prepare()
	require.NoError(t, err)
	data := &datasource.Data{
		InstanceID: "iid-1",
		UserData:   []byte("#cloud-boothook\n#!/bin/sh\nexit 3\n"),
	}

	got, err := s.consume(context.Background(), b, data)

	require.NoError(t, err)
	require.Len(t, got.errs, 1)
	assert.Contains(t, got.errs[0].Error(), "boothook")
}
