package blockdev

import "github.com/dsyntax/diskfsd/internal/fsops"

// Enumerate lists every block device the host currently exposes, each
// probed read-only for size and sector geometry (the `list` command's
// data source). A candidate that fails to open (permission denied, or
// it disappeared between enumeration and open) is skipped rather than
// failing the whole call.
func Enumerate() ([]fsops.Device, error) {
	paths, err := candidateDevicePaths()
	if err != nil {
		return nil, err
	}

	devices := make([]fsops.Device, 0, len(paths))
	for _, path := range paths {
		h, err := Open(path, OpenOptions{Mode: fsops.ReadOnly})
		if err != nil {
			continue
		}
		devices = append(devices, fsops.Device{
			ID:           path,
			Name:         path,
			SizeBytes:    h.Size(),
			SectorSize:   h.SectorSize(),
			Removable:    isRemovable(path),
			MountedPaths: mountedPaths(path),
		})
		h.Close()
	}
	return devices, nil
}

// MountedPaths reports where path is currently mounted, for callers (the
// format safety gate) that only have a path, not a fully enumerated
// Device.
func MountedPaths(path string) []string {
	return mountedPaths(path)
}
