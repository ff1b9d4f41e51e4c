// Package installer downloads the binary artifacts a MicroVM deployment
// needs (guest kernel, hypervisor, busybox) into a local directory. It is
// pure I/O plumbing with no protocol logic.
package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Artifact is one file to fetch.
type Artifact struct {
	Name       string
	URL        string
	Executable bool
}

// DefaultArtifacts is the standard set required to run guests.
func DefaultArtifacts() []Artifact {
	return []Artifact{
		{
			Name: "vmlinux.bin",
			URL:  "https://github.com/abshkbh/arrakis-images/blob/main/guest/kernel/vmlinux.bin",
		},
		{
			Name:       "cloud-hypervisor",
			URL:        "https://github.com/cloud-hypervisor/cloud-hypervisor/releases/download/v44.0/cloud-hypervisor-static",
			Executable: true,
		},
		{
			Name:       "busybox",
			URL:        "https://github.com/abshkbh/arrakis-images/blob/main/busybox",
			Executable: true,
		},
	}
}

// Installer downloads artifacts over HTTP.
type Installer struct {
	client *http.Client
}

// New creates an installer. client may be nil to use http.DefaultClient.
func New(client *http.Client) *Installer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Installer{client: client}
}

// Install fetches every artifact into dir, creating it if needed. It stops
// at the first failure.
func (ins *Installer) Install(ctx context.Context, dir string, artifacts []Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, artifact := range artifacts {
		dest := filepath.Join(dir, artifact.Name)
		if err := ins.download(ctx, artifact, dest); err != nil {
			return fmt.Errorf("download %s: %w", artifact.Name, err)
		}

		info, err := os.Stat(dest)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"artifact": artifact.Name,
			"dest":     dest,
			"bytes":    info.Size(),
		}).Info("Artifact installed")
	}
	return nil
}

func (ins *Installer) download(ctx context.Context, artifact Artifact, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, RawURL(artifact.URL), nil)
	if err != nil {
		return err
	}

	resp, err := ins.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	mode := os.FileMode(0o644)
	if artifact.Executable {
		mode = 0o755
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Close()
}

// RawURL rewrites a GitHub blob page URL into its raw-content equivalent.
// Other URLs pass through unchanged.
func RawURL(url string) string {
	if strings.Contains(url, "/blob/") {
		url = strings.Replace(url, "github.com", "raw.githubusercontent.com", 1)
		url = strings.Replace(url, "/blob/", "/", 1)
	}
	return url
}
