package ext4

import (
	"context"
	"sync"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// Filesystem is an opened ext2/3/4 instance: the device, its superblock,
// group descriptors, and the readers-writer lock guarding mutation (spec
// §5's "single readers-writer lock" scheduling model). It implements
// fsops.FilesystemOps.
type Filesystem struct {
	dev    fsops.BlockDevice
	sb     *Superblock
	groups []GroupDesc
	mode   fsops.OpenMode
	log    *logger.Logger

	mu       sync.RWMutex
	poisoned bool

	inodeCache map[uint32]*Inode
}

// Open reads the superblock and group-descriptor table from dev and
// returns an opened instance, moving the engine from Unopened to Opened.
func Open(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode, log *logger.Logger) (*Filesystem, error) {
	if log == nil {
		log = logger.New(noopWriter{}, logger.ErrorLevel)
	}
	buf := make([]byte, SuperblockSize)
	if _, err := dev.ReadAt(ctx, SuperblockOffset, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "ext4.Open", "", err)
	}
	sb, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{dev: dev, sb: sb, mode: mode, log: log, inodeCache: make(map[uint32]*Inode)}

	if mode == fsops.ReadWrite && sb.HasJournal() {
		log.Warnf("ext4: journal present but unjournaled; downgrading to read-only")
		fs.mode = fsops.ReadOnly
	}

	if err := fs.readGroupDescs(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func (fs *Filesystem) readGroupDescs(ctx context.Context) error {
	descSize := fs.sb.GroupDescSize()
	count := fs.sb.GroupCount()

	gdtBlock := fs.sb.FirstDataBlock + 1
	gdtBytes := uint64(count) * uint64(descSize)
	blockSize := fs.sb.BlockSize()
	numBlocks := (gdtBytes + blockSize - 1) / blockSize

	buf := make([]byte, numBlocks*blockSize)
	if _, err := fs.dev.ReadAt(ctx, uint64(gdtBlock)*blockSize, buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.readGroupDescs", "", err)
	}

	fs.groups = make([]GroupDesc, count)
	for i := uint32(0); i < count; i++ {
		off := uint64(i) * uint64(descSize)
		fs.groups[i] = DecodeGroupDesc(buf[off:off+uint64(descSize)], descSize)
	}
	return nil
}

func (fs *Filesystem) readBlock(ctx context.Context, block uint64) ([]byte, error) {
	blockSize := fs.sb.BlockSize()
	buf := make([]byte, blockSize)
	if _, err := fs.dev.ReadAt(ctx, block*blockSize, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "ext4.readBlock", "", err)
	}
	return buf, nil
}

func (fs *Filesystem) writeBlock(ctx context.Context, block uint64, buf []byte) error {
	blockSize := fs.sb.BlockSize()
	if uint64(len(buf)) != blockSize {
		padded := make([]byte, blockSize)
		copy(padded, buf)
		buf = padded
	}
	if _, err := fs.dev.WriteAt(ctx, block*blockSize, buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.writeBlock", "", err)
	}
	return nil
}

// readInode loads and decodes the inode numbered ino (1-based).
func (fs *Filesystem) readInode(ctx context.Context, ino uint32) (*Inode, error) {
	if cached, ok := fs.inodeCache[ino]; ok {
		return cached, nil
	}
	if ino == 0 || fs.sb.InodePerGroup == 0 {
		return nil, fsops.New(fsops.KindNotFound, "ext4.readInode", "")
	}
	group := (ino - 1) / fs.sb.InodePerGroup
	index := (ino - 1) % fs.sb.InodePerGroup
	if int(group) >= len(fs.groups) {
		return nil, fsops.New(fsops.KindCorruption, "ext4.readInode", "group index out of range")
	}
	gd := fs.groups[group]

	inodeSize := uint64(fs.sb.InodeSize)
	if inodeSize == 0 {
		inodeSize = 128
	}
	blockSize := fs.sb.BlockSize()
	byteOffset := gd.InodeTable()*blockSize + uint64(index)*inodeSize

	buf := make([]byte, inodeSize)
	if _, err := fs.dev.ReadAt(ctx, byteOffset, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "ext4.readInode", "", err)
	}
	in, err := DecodeInode(buf)
	if err != nil {
		return nil, err
	}
	fs.inodeCache[ino] = in
	return in, nil
}

// resolveBlock maps a file-relative logical block number to a physical
// block, dispatching to the extent-tree walker or the classic indirect
// scheme per the inode's uses-extents flag.
func (fs *Filesystem) resolveBlock(ctx context.Context, in *Inode, logical uint32) (uint64, bool, error) {
	if in.UsesExtents() {
		return fs.resolveExtent(ctx, in, logical)
	}
	return fs.resolveClassic(ctx, in, logical)
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
