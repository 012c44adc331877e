//go:build !linux
// +build !linux

package mountfs

import "github.com/dsyntax/diskfsd/internal/fsops"

// Unmount has no FUSE unmount syscall wired up outside Linux yet.
func Unmount(mountpoint string) error {
	return fsops.New(fsops.KindUnsupported, "mountfs.Unmount", mountpoint)
}
