package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// memDevice is a fixed-size in-memory fsops.BlockDevice used to exercise
// the engine without a real block device.
type memDevice struct {
	buf []byte
}

func newMemDevice(size int) *memDevice {
	return &memDevice{buf: make([]byte, size)}
}

func (d *memDevice) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if offset+uint64(len(buf)) > uint64(len(d.buf)) {
		return 0, fsops.New(fsops.KindIo, "memDevice.ReadAt", "")
	}
	copy(buf, d.buf[offset:offset+uint64(len(buf))])
	return len(buf), nil
}

func (d *memDevice) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if offset+uint64(len(buf)) > uint64(len(d.buf)) {
		return 0, fsops.New(fsops.KindIo, "memDevice.WriteAt", "")
	}
	copy(d.buf[offset:offset+uint64(len(buf))], buf)
	return len(buf), nil
}

func (d *memDevice) Flush(ctx context.Context) error { return nil }
func (d *memDevice) SectorSize() uint32              { return 512 }
func (d *memDevice) Size() uint64                    { return uint64(len(d.buf)) }
