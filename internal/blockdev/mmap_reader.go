//go:build !windows

package blockdev

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/mmap"
)

// MappedReader is a read-only fsops.BlockDevice backed by a memory-mapped
// region of an image file, used as a fast path for probe/read-heavy
// workloads (repeated superblock/MFT-record reads during probing) where a
// regular ReadAt would otherwise re-enter the kernel each call.
type MappedReader struct {
	m          *mmap.MmapFile
	sectorSize uint32
}

// NewMappedReader maps path read-only. It is only suitable for image
// files, never block-special devices (the host page cache already serves
// that role there, and mmap over a raw device is not portable).
func NewMappedReader(path string, sectorSize uint32) (*MappedReader, error) {
	m, err := mmap.NewMmapFile(path)
	if err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "mmap", path, err)
	}
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	return &MappedReader{m: m, sectorSize: sectorSize}, nil
}

func (r *MappedReader) SectorSize() uint32 { return r.sectorSize }
func (r *MappedReader) Size() uint64       { return uint64(r.m.FileSize) }

func (r *MappedReader) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	end := offset + uint64(len(buf))
	if end > uint64(len(r.m.Data)) {
		return 0, fsops.New(fsops.KindIo, "read", "mapped region out of bounds")
	}
	return copy(buf, r.m.Data[offset:end]), nil
}

func (r *MappedReader) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	return 0, fsops.New(fsops.KindReadOnly, "write", "mapped reader is read-only")
}

func (r *MappedReader) Flush(ctx context.Context) error { return nil }

func (r *MappedReader) Close() error {
	return r.m.Close()
}
