// Package blockdev implements sector-aligned read/write against a raw
// block device or an image file (C1): the sole layer every filesystem
// engine and the formatter pipeline perform I/O through.
package blockdev

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// OpenOptions configures how a Handle attaches to a device or image file.
type OpenOptions struct {
	// Mode selects read-only vs. read-write access.
	Mode fsops.OpenMode
	// Direct requests O_DIRECT-equivalent access, bypassing the host
	// page cache, where the platform supports it. Best-effort.
	Direct bool
	Logger *logger.Logger
}

// Handle is an open block device or image file, satisfying
// fsops.BlockDevice. offset and len(buf) are validated against the
// device's sector size on every ReadAt/WriteAt.
type Handle struct {
	path       string
	file       *os.File
	sectorSize uint32
	size       uint64
	mode       fsops.OpenMode
	log        *logger.Logger

	mu sync.RWMutex
}

// Open attaches to path: a block-special device path (e.g. /dev/sda,
// \\.\PhysicalDrive0) opens the raw device; a regular file path opens the
// image directly. Opening for write requests exclusive access first
// (O_EXCL), falling back without it on EBUSY.
func Open(path string, opts OpenOptions) (*Handle, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New(os.Stderr, logger.ErrorLevel)
	}

	file, flags, err := openWithFallback(path, opts.Mode)
	if err != nil {
		return nil, fsops.Wrap(fsops.KindAccessDenied, "open", path, err)
	}

	h := &Handle{path: path, file: file, mode: opts.Mode, log: log}

	isDev, sectorSize, size, err := probeGeometry(file)
	if err != nil {
		file.Close()
		return nil, fsops.Wrap(fsops.KindIo, "open", path, err)
	}
	h.sectorSize = sectorSize
	h.size = size

	log.Debugf("blockdev: opened %s (device=%v sector=%d size=%d flags=0x%x)",
		path, isDev, h.sectorSize, h.size, flags)
	return h, nil
}

// SectorSize returns the device's logical sector size in bytes.
func (h *Handle) SectorSize() uint32 { return h.sectorSize }

// Size returns the device's total capacity in bytes.
func (h *Handle) Size() uint64 { return h.size }

func (h *Handle) checkAlignment(op string, offset uint64, length int) error {
	ss := uint64(h.sectorSize)
	if ss == 0 {
		return nil
	}
	if offset%ss != 0 || uint64(length)%ss != 0 {
		return fsops.New(fsops.KindIo, op,
			fmt.Sprintf("%s: offset/length not sector-aligned (sector=%d offset=%d length=%d)", h.path, ss, offset, length))
	}
	return nil
}

// ReadAt reads len(buf) bytes at offset; both MUST be sector-size
// multiples.
func (h *Handle) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if err := h.checkAlignment("read", offset, len(buf)); err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	n, err := h.file.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return n, fsops.Wrap(fsops.KindIo, "read", h.path, err)
	}
	return n, nil
}

// WriteAt writes len(buf) bytes at offset; both MUST be sector-size
// multiples. Returns ErrReadOnly if the handle was opened read-only.
func (h *Handle) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if h.mode != fsops.ReadWrite {
		return 0, fsops.New(fsops.KindReadOnly, "write", h.path)
	}
	if err := h.checkAlignment("write", offset, len(buf)); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.file.WriteAt(buf, int64(offset))
	if err != nil {
		return n, fsops.Wrap(fsops.KindIo, "write", h.path, err)
	}
	return n, nil
}

// Flush commits pending writes to the underlying device.
func (h *Handle) Flush(ctx context.Context) error {
	if h.mode != fsops.ReadWrite {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Sync(); err != nil {
		return fsops.Wrap(fsops.KindIo, "flush", h.path, err)
	}
	return nil
}

// Close releases the device handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// AlignedBuffer allocates a buffer whose backing array is aligned to the
// device's sector size, for hosts (Windows raw volumes, O_DIRECT) that
// require it.
func (h *Handle) AlignedBuffer(size int) *checksum.AlignedBuffer {
	align := int(h.sectorSize)
	if align == 0 {
		align = 512
	}
	return checksum.NewAlignedBuffer(size, align)
}
