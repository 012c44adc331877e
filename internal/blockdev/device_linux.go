//go:build linux

package blockdev

import (
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// openWithFallback attempts exclusive read-write access first, retrying
// without O_EXCL on EBUSY before falling back to read-only.
func openWithFallback(path string, mode fsops.OpenMode) (*os.File, int, error) {
	if mode == fsops.ReadWrite {
		flags := os.O_RDWR | unix.O_EXCL
		f, err := os.OpenFile(path, flags, 0)
		if err == nil {
			return f, flags, nil
		}
		if os.IsPermission(err) {
			return nil, 0, err
		}
		flags = os.O_RDWR
		f, err = os.OpenFile(path, flags, 0)
		if err == nil {
			return f, flags, nil
		}
		// fall through to read-only attempt
	}

	flags := os.O_RDONLY
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, 0, err
	}
	return f, flags, nil
}

// probeGeometry reports whether path is a block device and its sector
// size / total capacity, via BLKSSZGET/BLKGETSIZE64 on devices and
// os.Stat/Seek on regular files.
func probeGeometry(f *os.File) (isDevice bool, sectorSize uint32, size uint64, err error) {
	fi, statErr := f.Stat()
	if statErr != nil {
		return false, 0, 0, statErr
	}
	isDevice = fi.Mode()&os.ModeDevice != 0

	if !isDevice {
		n, seekErr := f.Seek(0, io.SeekEnd)
		if seekErr != nil {
			return false, 0, 0, seekErr
		}
		return false, DefaultSectorSize, uint64(n), nil
	}

	ss, ssErr := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if ssErr != nil {
		ss = DefaultSectorSize
	}

	sz, szErr := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if szErr != nil {
		n, seekErr := f.Seek(0, io.SeekEnd)
		if seekErr != nil {
			return true, uint32(ss), 0, seekErr
		}
		sz = uint64(n)
	}
	return true, uint32(ss), sz, nil
}
