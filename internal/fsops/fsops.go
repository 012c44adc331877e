// Package fsops defines the uniform capability contract every on-disk
// filesystem engine implements (C7) and that the mount adapter and
// formatter pipeline consume: a closed set of operations, a closed set of
// error kinds, and the stat/directory-entry/filesystem-info value types
// shared across ext, NTFS, FAT and exFAT.
package fsops

import "context"

// CancelToken is polled by long-running operations; a token that reports
// Cancelled() true makes the poller return ErrCancelled. The format
// pipeline polls it once, before handing the device to an engine's
// Format; nothing polls it between an engine's metadata-region writes,
// so a format that has started writing runs to completion or failure.
type CancelToken interface {
	Cancelled() bool
}

// noCancel never cancels; used where a caller has no token to offer.
type noCancel struct{}

func (noCancel) Cancelled() bool { return false }

// NoCancel is the zero-value CancelToken for callers with nothing to poll.
var NoCancel CancelToken = noCancel{}

// FilesystemOps is the capability contract every engine implements
// (ext2/3/4, NTFS, FAT12/16/32, exFAT) and the sole surface the mount
// adapter (C9) and the elevated-worker transport are driven through.
// Implementations are single-threaded-cooperative per instance: the
// embedding engine is responsible for its own readers-writer lock:
// concurrent stat/readdir/read, exclusive write family.
type FilesystemOps interface {
	// Info returns the descriptor derived from the instance's on-disk
	// superblock/boot sector at open time.
	Info(ctx context.Context) (FilesystemInfo, error)

	// Stat resolves path to its attributes. Returns ErrNotFound if no
	// such path exists, ErrCorruption if a structural invariant failed
	// while resolving it.
	Stat(ctx context.Context, path string) (FileAttributes, error)

	// Readdir lists path's children in the order the engine finds them:
	// on-disk entry order for ext, FAT and exFAT, index order for NTFS.
	// No engine reorders entries by a case-folded key.
	// Returns ErrNotFound if path doesn't exist or isn't a directory.
	Readdir(ctx context.Context, path string) ([]DirEntry, error)

	// Read copies into buf starting at offset, returning the number of
	// bytes copied (which may be less than len(buf) at EOF).
	Read(ctx context.Context, path string, offset uint64, buf []byte) (int, error)

	// Write writes buf at offset, extending the file if necessary.
	// Returns ErrReadOnly if the instance was opened read-only.
	Write(ctx context.Context, path string, offset uint64, buf []byte) (int, error)

	// Create makes a new regular file (or special node) at path.
	Create(ctx context.Context, path string, kind FileKind, mode uint32) error

	// Mkdir makes a new directory at path.
	Mkdir(ctx context.Context, path string, mode uint32) error

	// Unlink removes the file or empty directory at path.
	Unlink(ctx context.Context, path string) error

	// Rename moves the entry at from to to, both within this instance.
	Rename(ctx context.Context, from, to string) error

	// Sync flushes pending metadata and data writes, invalidating and
	// re-coherencing in-memory caches (inode, block-group, MFT-record).
	Sync(ctx context.Context) error

	// Close releases the underlying device handle. A ReadWrite instance
	// MUST force a Sync before releasing: going from Opened(ReadWrite) to
	// Closed without Syncing first is a bug.
	Close(ctx context.Context) error
}

// Prober is implemented by each engine package's entry point: Probe
// inspects a device's leading sectors without mutating state and reports
// whether this engine recognizes it, and Init opens a recognized device
// as a FilesystemOps instance.
type Prober interface {
	Probe(ctx context.Context, dev BlockDevice) (bool, error)
	Init(ctx context.Context, dev BlockDevice, mode OpenMode) (FilesystemOps, error)
}

// BlockDevice is the minimal surface (C1) every engine reads and writes
// through; internal/blockdev.Handle satisfies it. Kept here, rather than
// imported from internal/blockdev, so fsops has no dependency on the
// concrete device implementation — engines depend on both packages, never
// the other way around.
type BlockDevice interface {
	ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error)
	WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error)
	Flush(ctx context.Context) error
	SectorSize() uint32
	Size() uint64
}
