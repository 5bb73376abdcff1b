// Package fetch downloads the interpreter module.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// Result describes a completed download.
type Result struct {
	Path    string
	Size    uint64
	SHA256  string
	Skipped bool // the file already existed
}

func (r Result) String() string {
	if r.Skipped {
		return fmt.Sprintf("%s already present", r.Path)
	}
	return fmt.Sprintf("%s (%s, sha256 %s)", r.Path, humanize.IBytes(r.Size), r.SHA256[:12])
}

// File downloads url to dest. An existing dest is kept unless force is
// set. When sum is not empty the download must match that hex SHA-256.
// The file is written to a temporary name and renamed into place.
func File(ctx context.Context, client *http.Client, url, dest, sum string, force bool) (Result, error) {
	if !force {
		if info, err := os.Stat(dest); err == nil && !info.IsDir() {
			return Result{Path: dest, Size: uint64(info.Size()), Skipped: true}, nil
		}
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("download failed: %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Result{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{}, err
	}

	got := hex.EncodeToString(h.Sum(nil))
	if sum != "" && !strings.EqualFold(got, sum) {
		return Result{}, fmt.Errorf("checksum mismatch: got %s, want %s", got, sum)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return Result{}, err
	}
	return Result{Path: dest, Size: uint64(n), SHA256: got}, nil
}
