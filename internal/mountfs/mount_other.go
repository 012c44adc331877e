//go:build !linux
// +build !linux

package mountfs

import (
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// Mount has no FUSE backend wired up outside Linux yet.
func Mount(mountpoint string, ops fsops.FilesystemOps, readOnly bool) error {
	return fsops.New(fsops.KindUnsupported, "mountfs.Mount", mountpoint)
}
