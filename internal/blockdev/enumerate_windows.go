//go:build windows

package blockdev

import "fmt"

// candidateDevicePaths probes \\.\PhysicalDrive0..31; Open itself filters
// out indices with nothing attached, so over-generating here is harmless.
func candidateDevicePaths() ([]string, error) {
	paths := make([]string, 0, 32)
	for i := 0; i < 32; i++ {
		paths = append(paths, fmt.Sprintf(`\\.\PhysicalDrive%d`, i))
	}
	return paths, nil
}

// isRemovable has no cheap equivalent of /sys/class/block's removable
// flag wired up yet; reported conservatively as false rather than guessed.
func isRemovable(path string) bool { return false }

// mountedPaths has no /proc/mounts equivalent wired up on Windows yet.
func mountedPaths(path string) []string { return nil }
