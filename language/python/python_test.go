package python

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "python.wasm")
	if err := os.WriteFile(path, []byte("\x00asm"), 0o644); err != nil {
		t.Fatal(err)
	}

	lang, err := New(WithModulePath(path))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if string(lang.Module()) != "\x00asm" || lang.Path() != path {
		t.Errorf("module = %q from %q", lang.Module(), lang.Path())
	}
}

func TestNewFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "python.wasm")
	if err := os.WriteFile(path, []byte("wasm"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ModuleEnv, path)

	lang, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if lang.Path() != path {
		t.Errorf("Path = %q", lang.Path())
	}
}

func TestNewMissingModule(t *testing.T) {
	_, err := New(WithModulePath(filepath.Join(t.TempDir(), "missing.wasm")))
	if err == nil || !strings.Contains(err.Error(), ModuleEnv) {
		t.Errorf("err = %v", err)
	}
}

func TestBridgeEmbedded(t *testing.T) {
	lang, _ := New(WithModule([]byte("wasm")))
	support := lang.Support()

	tests := []struct {
		file  string
		wants []string
	}{
		{"_pyhost.py", []string{"def serve()", "class HostError", "\"find_class\"", "_PREFIX = \"\\x00PYHOST:\""}},
		{"pyhost.py", []string{"find_host_class", "call", "HostObject"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := fs.ReadFile(support, tt.file)
			if err != nil {
				t.Fatalf("read %s: %v", tt.file, err)
			}
			for _, want := range tt.wants {
				if !strings.Contains(string(data), want) {
					t.Errorf("%s missing %q", tt.file, want)
				}
			}
		})
	}
}

func TestArgs(t *testing.T) {
	lang, _ := New(WithModule([]byte("wasm")))
	args := lang.Args()
	if len(args) != 3 || args[0] != "python" || args[1] != "-c" {
		t.Fatalf("Args = %q", args)
	}
	if !strings.Contains(args[2], "/pyhost") || !strings.Contains(args[2], "serve()") {
		t.Errorf("launcher = %q", args[2])
	}
	if lang.Name() != "python" {
		t.Errorf("Name = %q", lang.Name())
	}
}
