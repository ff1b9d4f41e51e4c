package installer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawURL(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{
			"https://github.com/abshkbh/arrakis-images/blob/main/busybox",
			"https://raw.githubusercontent.com/abshkbh/arrakis-images/main/busybox",
		},
		{
			"https://github.com/cloud-hypervisor/cloud-hypervisor/releases/download/v44.0/cloud-hypervisor-static",
			"https://github.com/cloud-hypervisor/cloud-hypervisor/releases/download/v44.0/cloud-hypervisor-static",
		},
		{
			"https://example.com/file.bin",
			"https://example.com/file.bin",
		},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.out, RawURL(tc.in))
	}
}

func TestInstall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kernel":
			w.Write([]byte("kernel-bytes"))
		case "/tool":
			w.Write([]byte("tool-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "bin")
	ins := New(server.Client())

	err := ins.Install(context.Background(), dir, []Artifact{
		{Name: "vmlinux.bin", URL: server.URL + "/kernel"},
		{Name: "tool", URL: server.URL + "/tool", Executable: true},
	})
	require.NoError(t, err)

	kernel, err := os.ReadFile(filepath.Join(dir, "vmlinux.bin"))
	require.NoError(t, err)
	assert.Equal(t, "kernel-bytes", string(kernel))

	info, err := os.Stat(filepath.Join(dir, "tool"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "tool should be executable")

	kernelInfo, err := os.Stat(filepath.Join(dir, "vmlinux.bin"))
	require.NoError(t, err)
	assert.Zero(t, kernelInfo.Mode()&0o111, "kernel should not be executable")
}

func TestInstallHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer server.Close()

	ins := New(server.Client())
	err := ins.Install(context.Background(), t.TempDir(), []Artifact{
		{Name: "missing", URL: server.URL + "/missing"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestInstallCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ins := New(server.Client())
	err := ins.Install(ctx, t.TempDir(), []Artifact{
		{Name: "slow", URL: server.URL + "/slow"},
	})
	require.Error(t, err)
}

func TestDefaultArtifacts(t *testing.T) {
	artifacts := DefaultArtifacts()
	require.Len(t, artifacts, 3)

	names := map[string]bool{}
	for _, a := range artifacts {
		names[a.Name] = a.Executable
	}
	assert.Contains(t, names, "vmlinux.bin")
	assert.True(t, names["cloud-hypervisor"])
	assert.True(t, names["busybox"])
	assert.False(t, names["vmlinux.bin"])
}
