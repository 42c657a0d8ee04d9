package userdata

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaspreet-dot-casa/cinit/pkg/urlhelper"
)

type mapFetcher map[string]string

func (m mapFetcher) Read(_ context.Context, url string, _ map[string]string) (*urlhelper.Response, error) {
	body, ok := m[url]
	if !ok {
		return nil, &urlhelper.HTTPError{URL: url, Code: 404}
	}
	return &urlhelper.Response{URL: url, Code: 200, Body: []byte(body)}, nil
}

func TestSniff(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"#cloud-config\nhostname: x", TypeCloudConfig},
		{"#cloud-config-archive\n- a", TypeArchive},
		{"#!/bin/bash\necho", TypeShellScript},
		{"#cloud-boothook\necho", TypeBoothook},
		{"#include\nhttp://x", TypeInclude},
		{"Content-Type: multipart/mixed", TypeMultipart},
		{"MIME-Version: 1.0\n", TypeMultipart},
		{"hello", TypePlain},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff([]byte(tt.in)))
		})
	}
}

func TestProcess_Empty(t *testing.T) {
	got, err := Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got.CloudConfig)
	assert.Empty(t, got.Scripts)
}

func TestProcess_CloudConfig(t *testing.T) {
	got, err := Process(context.Background(), []byte("#cloud-config\nhostname: web\nruncmd: [ls]\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "web", got.CloudConfig.String("hostname", ""))
	assert.Equal(t, []string{"ls"}, got.CloudConfig.Strings("runcmd"))
}

func TestProcess_Script(t *testing.T) {
	got, err := Process(context.Background(), []byte("#!/bin/sh\necho hi\n"), nil)
	require.NoError(t, err)

	require.Len(t, got.Scripts, 1)
	assert.Equal(t, "part-001", got.Scripts[0].Filename)
	assert.Equal(t, TypeShellScript, got.Scripts[0].Type)
}

func TestProcess_Boothook(t *testing.T) {
	got, err := Process(context.Background(), []byte("#cloud-boothook\necho early\n"), nil)
	require.NoError(t, err)

	require.Len(t, got.Boothooks, 1)
	assert.Equal(t, "#!/bin/sh\necho early\n", string(got.Boothooks[0].Content))
}

func TestProcess_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("#cloud-config\nhostname: zipped\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	got, err := Process(context.Background(), buf.Bytes(), nil)
	require.NoError(t, err)
	assert.Equal(t, "zipped", got.CloudConfig.String("hostname", ""))
}

func TestProcess_Unknown(t *testing.T) {
	got, err := Process(context.Background(), []byte("just some text"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Unknown)
}

func TestProcess_BadCloudConfig(t *testing.T) {
	_, err := Process(context.Background(), []byte("#cloud-config\n- not\n- a map\n"), nil)
	assert.Error(t, err)
}

const multipartUserData = "Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
	"MIME-Version: 1.0\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/cloud-config; charset=\"us-ascii\"\r\n" +
	"\r\n" +
	"#cloud-config\r\n" +
	"runcmd: [first]\r\n" +
	"hostname: one\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/cloud-config\r\n" +
	"Merge-Type: list(append)+dict(recurse_array)\r\n" +
	"\r\n" +
	"#cloud-config\r\n" +
	"runcmd: [second]\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/x-shellscript\r\n" +
	"Content-Disposition: attachment; filename=\"setup.sh\"\r\n" +
	"\r\n" +
	"#!/bin/sh\r\n" +
	"echo setup\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"IyEvYmluL3NoCmVjaG8gcGxhaW4K\r\n" +
	"--BOUNDARY--\r\n"

func TestProcess_Multipart(t *testing.T) {
	got, err := Process(context.Background(), []byte(multipartUserData), nil)
	require.NoError(t, err)

	assert.Equal(t, "one", got.CloudConfig.String("hostname", ""))
	assert.Equal(t, []string{"first", "second"}, got.CloudConfig.Strings("runcmd"))

	require.Len(t, got.Scripts, 2)
	assert.Equal(t, "setup.sh", got.Scripts[0].Filename)
	assert.Equal(t, "part-004", got.Scripts[1].Filename)
	assert.Equal(t, "#!/bin/sh\necho plain\n", string(got.Scripts[1].Content))
}

func TestProcess_MultipartMissingBoundary(t *testing.T) {
	_, err := Process(context.Background(), []byte("Content-Type: multipart/mixed\r\n\r\nbody"), nil)
	assert.Error(t, err)
}

func TestProcess_Archive(t *testing.T) {
	script := "#!/bin/sh\necho archived\n"
	raw := "#cloud-config-archive\n" +
		"- type: text/cloud-config\n" +
		"  content: |\n" +
		"    packages: [a]\n" +
		"- content: |\n" +
		"    #cloud-config\n" +
		"    packages: [b]\n" +
		"  merge_how: list(append)\n" +
		"- |\n" +
		"  " + base64.StdEncoding.EncodeToString([]byte("unused")) + "\n" +
		"- type: text/x-shellscript\n" +
		"  filename: archived.sh\n" +
		"  content: " + "\"" + "#!/bin/sh\\necho archived\\n" + "\"\n"

	got, err := Process(context.Background(), []byte(raw), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, got.CloudConfig.Strings("packages"))
	assert.Equal(t, 1, got.Unknown)
	require.Len(t, got.Scripts, 1)
	assert.Equal(t, "archived.sh", got.Scripts[0].Filename)
	assert.Equal(t, script, string(got.Scripts[0].Content))
}

func TestProcess_Include(t *testing.T) {
	fetcher := mapFetcher{
		"http://seed/a": "#cloud-config\nhostname: included\n",
		"http://seed/b": "#!/bin/sh\necho b\n",
	}
	raw := "#include\n# comment\nhttp://seed/a\n\nhttp://seed/b\nhttp://seed/missing\n"

	got, err := Process(context.Background(), []byte(raw), fetcher)
	require.NoError(t, err)

	assert.Equal(t, "included", got.CloudConfig.String("hostname", ""))
	assert.Len(t, got.Scripts, 1)
	assert.Equal(t, 1, got.Unknown)
}

func TestProcess_IncludeLoop(t *testing.T) {
	fetcher := mapFetcher{"http://loop": "#include\nhttp://loop\n"}

	_, err := Process(context.Background(), []byte("#include\nhttp://loop\n"), fetcher)
	assert.True(t, errors.Is(err, ErrTooDeep))
}

func TestProcess_CloudConfigMergeKey(t *testing.T) {
	raw := "#cloud-config-archive\n" +
		"- \"#cloud-config\\nruncmd: [a]\\n\"\n" +
		"- \"#cloud-config\\nmerge_how: list(prepend)\\nruncmd: [b]\\n\"\n"

	got, err := Process(context.Background(), []byte(raw), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, got.CloudConfig.Strings("runcmd"))
	assert.NotContains(t, got.CloudConfig, "merge_how")
}
