//go:build windows

package blockdev

import (
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

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

type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

const ioctlDiskGetDriveGeometry = 0x70000

// probeGeometry uses IOCTL_DISK_GET_DRIVE_GEOMETRY for raw volumes/drives
// and falls back to Seek for regular image files.
func probeGeometry(f *os.File) (isDevice bool, sectorSize uint32, size uint64, err error) {
	handle := windows.Handle(f.Fd())
	var geometry diskGeometry
	var bytesReturned uint32

	ioctlErr := windows.DeviceIoControl(
		handle,
		ioctlDiskGetDriveGeometry,
		nil,
		0,
		(*byte)(unsafe.Pointer(&geometry)),
		uint32(unsafe.Sizeof(geometry)),
		&bytesReturned,
		nil,
	)
	if ioctlErr != nil {
		n, seekErr := f.Seek(0, io.SeekEnd)
		if seekErr != nil {
			return false, DefaultSectorSize, 0, seekErr
		}
		return false, DefaultSectorSize, uint64(n), nil
	}

	total := geometry.Cylinders * int64(geometry.TracksPerCylinder) * int64(geometry.SectorsPerTrack) * int64(geometry.BytesPerSector)
	return true, geometry.BytesPerSector, uint64(total), nil
}
