//go:build linux
// +build linux

package mountfs

import "bazil.org/fuse"

// Unmount detaches whatever is mounted at mountpoint, for the `unmount`
// command — a separate process from the one blocked inside Mount's
// waitForUmount, so it drives the kernel unmount directly rather than
// sending a signal to a process it has no handle on.
func Unmount(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
