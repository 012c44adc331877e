package fatfs

import (
	"context"
	"sync"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// Filesystem is an opened FAT12/16/32 instance: the device, its decoded
// boot sector, an in-memory copy of FAT#0, and the readers-writer lock
// guarding mutation under the engine's single readers-writer-lock
// scheduling model, the same shape as ext4's and NTFS's Filesystem. It
// implements fsops.FilesystemOps.
type Filesystem struct {
	dev    fsops.BlockDevice
	bs     *BootSector
	family fsops.Family
	mode   fsops.OpenMode
	log    *logger.Logger

	mu       sync.RWMutex
	poisoned bool

	fat []byte // in-memory copy of FAT#0, flushed to all NumFATs mirrors on Sync

	fatOffset     uint64
	fatBytes      uint64
	rootDirOffset uint64 // FAT12/16 only; 0 on FAT32
	rootDirBytes  uint64 // FAT12/16 only
	dataOffset    uint64 // byte offset of cluster 2
	clusterSize   uint64
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Open reads and decodes the boot sector, loads FAT#0 into memory, and
// returns an opened instance.
func Open(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode, log *logger.Logger) (*Filesystem, error) {
	if log == nil {
		log = logger.New(noopWriter{}, logger.ErrorLevel)
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.Open", "", err)
	}
	bs, err := DecodeBootSector(buf)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{dev: dev, bs: bs, mode: mode, log: log}
	fs.family = bs.Family()
	fs.clusterSize = uint64(bs.BytesPerSector) * uint64(bs.SectorsPerCluster)
	fs.fatOffset = uint64(bs.ReservedSectors) * uint64(bs.BytesPerSector)
	fs.fatBytes = bs.FATSize() * uint64(bs.BytesPerSector)

	fatSectors := uint64(bs.NumFATs) * bs.FATSize()
	if fs.family != fsops.FamilyFAT32 {
		fs.rootDirOffset = fs.fatOffset + fatSectors*uint64(bs.BytesPerSector)
		fs.rootDirBytes = bs.RootDirSectors() * uint64(bs.BytesPerSector)
		fs.dataOffset = fs.rootDirOffset + fs.rootDirBytes
	} else {
		fs.dataOffset = fs.fatOffset + fatSectors*uint64(bs.BytesPerSector)
	}

	fat := make([]byte, fs.fatBytes)
	if _, err := dev.ReadAt(ctx, fs.fatOffset, fat); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.Open", "", err)
	}
	fs.fat = fat

	return fs, nil
}

func (fs *Filesystem) checkPoisoned(op string) error {
	if fs.poisoned {
		return fsops.New(fsops.KindCorruption, op, "instance poisoned by a prior corruption error")
	}
	return nil
}

func (fs *Filesystem) poison() {
	fs.poisoned = true
}

func (fs *Filesystem) clusterToOffset(cluster uint32) uint64 {
	return fs.dataOffset + uint64(cluster-2)*fs.clusterSize
}

func (fs *Filesystem) readCluster(ctx context.Context, cluster uint32) ([]byte, error) {
	buf := make([]byte, fs.clusterSize)
	if _, err := fs.dev.ReadAt(ctx, fs.clusterToOffset(cluster), buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.readCluster", "", err)
	}
	return buf, nil
}

func (fs *Filesystem) writeCluster(ctx context.Context, cluster uint32, buf []byte) error {
	if uint64(len(buf)) != fs.clusterSize {
		padded := make([]byte, fs.clusterSize)
		copy(padded, buf)
		buf = padded
	}
	if _, err := fs.dev.WriteAt(ctx, fs.clusterToOffset(cluster), buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "fatfs.writeCluster", "", err)
	}
	return nil
}

// flushFAT writes the in-memory FAT#0 buffer to every FAT mirror: the
// on-disk format keeps NumFATs identical copies.
func (fs *Filesystem) flushFAT(ctx context.Context) error {
	for i := uint8(0); i < fs.bs.NumFATs; i++ {
		off := fs.fatOffset + uint64(i)*fs.fatBytes
		if _, err := fs.dev.WriteAt(ctx, off, fs.fat); err != nil {
			return fsops.Wrap(fsops.KindIo, "fatfs.flushFAT", "", err)
		}
	}
	return nil
}

// readDirRegion reads the whole contents of a directory: the fixed-size
// root area for FAT12/16 (firstCluster == 0 && family != FAT32) or the
// root's cluster chain on FAT32, otherwise the entry's own cluster chain.
func (fs *Filesystem) readDirRegion(ctx context.Context, firstCluster uint32) ([]byte, []uint32, error) {
	if firstCluster == 0 && fs.family != fsops.FamilyFAT32 {
		buf := make([]byte, fs.rootDirBytes)
		if _, err := fs.dev.ReadAt(ctx, fs.rootDirOffset, buf); err != nil {
			return nil, nil, fsops.Wrap(fsops.KindIo, "fatfs.readDirRegion", "", err)
		}
		return buf, nil, nil
	}

	start := firstCluster
	if start == 0 {
		start = fs.bs.RootCluster
	}
	chain, err := fs.clusterChain(start)
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, 0, uint64(len(chain))*fs.clusterSize)
	for _, c := range chain {
		cb, err := fs.readCluster(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		buf = append(buf, cb...)
	}
	return buf, chain, nil
}

// writeDirRegion writes buf back over the same region readDirRegion
// produced it from: the fixed root area, or cluster-by-cluster over chain.
func (fs *Filesystem) writeDirRegion(ctx context.Context, firstCluster uint32, chain []uint32, buf []byte) error {
	if firstCluster == 0 && fs.family != fsops.FamilyFAT32 {
		if _, err := fs.dev.WriteAt(ctx, fs.rootDirOffset, buf); err != nil {
			return fsops.Wrap(fsops.KindIo, "fatfs.writeDirRegion", "", err)
		}
		return nil
	}
	for i, c := range chain {
		start := uint64(i) * fs.clusterSize
		end := start + fs.clusterSize
		if end > uint64(len(buf)) {
			end = uint64(len(buf))
		}
		if err := fs.writeCluster(ctx, c, buf[start:end]); err != nil {
			return err
		}
	}
	return nil
}
