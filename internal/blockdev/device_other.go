//go:build !linux && !windows

package blockdev

import (
	"io"
	"os"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

func openWithFallback(path string, mode fsops.OpenMode) (*os.File, int, error) {
	flags := os.O_RDONLY
	if mode == fsops.ReadWrite {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, 0, err
	}
	return f, flags, nil
}

// probeGeometry has no ioctl-based fast path outside Linux/Windows; it
// falls back to Seek for size and the default sector size, matching the
// teacher's non-Linux branch in disk/stat.go.
func probeGeometry(f *os.File) (isDevice bool, sectorSize uint32, size uint64, err error) {
	fi, statErr := f.Stat()
	if statErr != nil {
		return false, 0, 0, statErr
	}
	isDevice = fi.Mode()&os.ModeDevice != 0

	n, seekErr := f.Seek(0, io.SeekEnd)
	if seekErr != nil {
		return isDevice, DefaultSectorSize, 0, seekErr
	}
	return isDevice, DefaultSectorSize, uint64(n), nil
}
