package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var payload = []byte("\x00asm\x01\x00\x00\x00")

func server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rustpython.wasm" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFile(t *testing.T) {
	srv := server(t)
	ctx := context.Background()
	dest := filepath.Join(t.TempDir(), "cache", "rustpython.wasm")
	sum := sha256.Sum256(payload)
	want := hex.EncodeToString(sum[:])

	res, err := File(ctx, srv.Client(), srv.URL+"/rustpython.wasm", dest, strings.ToUpper(want), false)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if res.Skipped || res.Size != uint64(len(payload)) || res.SHA256 != want {
		t.Errorf("result = %+v", res)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != string(payload) {
		t.Fatalf("dest = %q, %v", data, err)
	}

	res, err = File(ctx, srv.Client(), srv.URL+"/rustpython.wasm", dest, "", false)
	if err != nil || !res.Skipped {
		t.Errorf("second fetch = %+v, %v", res, err)
	}
	if !strings.Contains(res.String(), "already present") {
		t.Errorf("String = %q", res.String())
	}
}

func TestFileErrors(t *testing.T) {
	srv := server(t)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		sum  string
		want string
	}{
		{"not found", "/missing.wasm", "", "404"},
		{"checksum", "/rustpython.wasm", "deadbeef", "checksum mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			dest := filepath.Join(dir, "out.wasm")
			_, err := File(ctx, srv.Client(), srv.URL+tt.path, dest, tt.sum, true)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Error("failed download left a file behind")
			}
			entries, _ := os.ReadDir(dir)
			if len(entries) != 0 {
				t.Errorf("temporary files left: %v", entries)
			}
		})
	}
}
