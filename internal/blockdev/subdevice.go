package blockdev

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// SubDevice is a byte-range view over a parent fsops.BlockDevice,
// translating every access by a fixed offset. This resolves a `/dev/sdX`
// + partition index into the byte range a filesystem engine can probe
// and open directly, without the engine itself knowing it's not reading
// from byte zero of a physical device.
type SubDevice struct {
	parent fsops.BlockDevice
	offset uint64
	size   uint64
}

// Sub returns a view over parent starting at offset, size bytes long.
func Sub(parent fsops.BlockDevice, offset, size uint64) *SubDevice {
	return &SubDevice{parent: parent, offset: offset, size: size}
}

func (s *SubDevice) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	return s.parent.ReadAt(ctx, s.offset+offset, buf)
}

func (s *SubDevice) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	return s.parent.WriteAt(ctx, s.offset+offset, buf)
}

func (s *SubDevice) Flush(ctx context.Context) error { return s.parent.Flush(ctx) }
func (s *SubDevice) SectorSize() uint32              { return s.parent.SectorSize() }
func (s *SubDevice) Size() uint64                    { return s.size }
