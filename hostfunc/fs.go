package hostfunc

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/tetratelabs/wazero"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows read, write and create operations.
	MountReadWrite
)

func (m MountMode) String() string {
	if m == MountReadWrite {
		return "rw"
	}
	return "ro"
}

// Mount maps a host directory into the guest filesystem.
type Mount struct {
	VirtualPath string    // Path as seen by Python (e.g., "/data")
	HostPath    string    // Actual directory on the host
	Mode        MountMode // Permission level
}

// NormalizeMounts cleans virtual paths, resolves host paths to absolute
// directories and rejects duplicates or any virtual path in reserved.
func NormalizeMounts(mounts []Mount, reserved ...string) ([]Mount, error) {
	out := make([]Mount, 0, len(mounts))
	seen := make(map[string]bool, len(mounts))
	for _, m := range mounts {
		vp := path.Clean("/" + m.VirtualPath)
		if vp == "/" {
			return nil, fmt.Errorf("mount %q: cannot mount over the guest root", m.HostPath)
		}
		if seen[vp] || slices.Contains(reserved, vp) {
			return nil, fmt.Errorf("mount %q: virtual path already in use", vp)
		}
		seen[vp] = true

		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", vp, err)
		}
		info, err := os.Stat(hp)
		if err != nil {
			return nil, fmt.Errorf("mount %q: %w", vp, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("mount %q: %s is not a directory", vp, hp)
		}
		out = append(out, Mount{VirtualPath: vp, HostPath: hp, Mode: m.Mode})
	}
	return out, nil
}

// ApplyMounts adds the mounts to a wazero filesystem configuration.
func ApplyMounts(cfg wazero.FSConfig, mounts []Mount) wazero.FSConfig {
	for _, m := range mounts {
		if m.Mode == MountReadWrite {
			cfg = cfg.WithDirMount(m.HostPath, m.VirtualPath)
		} else {
			cfg = cfg.WithReadOnlyDirMount(m.HostPath, m.VirtualPath)
		}
	}
	return cfg
}
