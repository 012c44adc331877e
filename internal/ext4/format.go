package ext4

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// FormatOptions configures a fresh ext4 filesystem. This engine formats a
// single block group (see Format's doc comment); multi-group images are
// out of scope for this formatter, though the read path handles them.
type FormatOptions struct {
	Label string
}

const formatBlockSize = 4096

// Format lays down a minimal, single-block-group ext4 filesystem: a
// superblock and one group descriptor, a block bitmap and inode bitmap
// that each fit in a single block, a classic (non-sparse) inode table, and
// a root directory holding only "." and "..". It always enables the
// filetype and extents incompat features and the sparse_super ro-compat
// feature, and never sets has_journal, so fs.Open's unjournaled-write
// downgrade (see DESIGN.md's Open Question 1) never triggers for an image
// this formatter produced.
//
// A single block bitmap block can describe at most formatBlockSize*8
// blocks; larger devices are rejected with KindUnsupported rather than
// silently only formatting a prefix of the device.
func Format(ctx context.Context, dev fsops.BlockDevice, opts FormatOptions) error {
	blockSize := uint64(formatBlockSize)
	total := dev.Size()
	blockCount := total / blockSize
	maxBlocksPerBitmap := blockSize * 8

	if blockCount < 64 {
		return fsops.New(fsops.KindUnsupported, "ext4.Format", "device too small for an ext4 filesystem")
	}
	if blockCount > maxBlocksPerBitmap {
		return fsops.New(fsops.KindUnsupported, "ext4.Format", "device too large for a single-block-group ext4 filesystem")
	}

	inodeCount := uint32(blockCount / 4)
	if inodeCount < 16 {
		inodeCount = 16
	}
	inodeCount = (inodeCount + 7) &^ 7
	const inodeSize = 128

	inodeTableBlocks := (uint64(inodeCount)*inodeSize + blockSize - 1) / blockSize

	const (
		sbBlock           = 0
		gdtBlock          = 1
		blockBitmapBlock  = 2
		inodeBitmapBlock  = 3
		inodeTableStart   = 4
	)
	rootDirBlock := inodeTableStart + inodeTableBlocks
	usedBlocks := rootDirBlock + 1
	if usedBlocks > blockCount {
		return fsops.New(fsops.KindUnsupported, "ext4.Format", "device too small to hold the inode table")
	}

	var uuid [16]byte
	_, _ = rand.Read(uuid[:])

	now := uint32(time.Now().Unix())

	sb := &Superblock{
		InodeCount:       inodeCount,
		BlockCountLo:     uint32(blockCount),
		FreeBlockCountLo: uint32(blockCount - usedBlocks),
		FreeInodeCount:   inodeCount - 2,
		FirstDataBlock:   0,
		LogBlockSize:     2, // 1024 << 2 == 4096
		LogClusterSize:   2,
		BlockPerGroup:    uint32(blockCount),
		ClusterPerGroup:  uint32(blockCount),
		InodePerGroup:    inodeCount,
		Mtime:            now,
		Wtime:            now,
		MntCount:         0,
		MaxMntCount:      0xFFFF,
		State:            1, // clean
		Errors:           1, // continue
		RevLevel:         1, // dynamic
		FirstIno:         11,
		InodeSize:        inodeSize,
		FeatureIncompat:  FeatureIncompatFiletype | FeatureIncompatExtents,
		FeatureRoCompat:  FeatureRoCompatSparseSuper,
		UUID:             uuid,
	}
	copy(sb.VolumeName[:], []byte(opts.Label))

	gd := GroupDesc{
		BlockBitmapLo:     blockBitmapBlock,
		InodeBitmapLo:     inodeBitmapBlock,
		InodeTableLo:      inodeTableStart,
		FreeBlocksCountLo: uint16(blockCount - usedBlocks),
		FreeInodesCountLo: uint16(inodeCount - 2),
		UsedDirsCountLo:   1,
	}

	blockBitmap := alloc.NewBitmap(make([]byte, blockSize))
	for b := uint64(0); b < usedBlocks; b++ {
		blockBitmap.Set(b)
	}

	inodeBitmap := alloc.NewBitmap(make([]byte, blockSize))
	inodeBitmap.Set(0) // inode 1, reserved
	inodeBitmap.Set(1) // inode 2, root

	rootExtentBlock := make([]byte, 60)
	alloc.EncodeExtentHeader(rootExtentBlock, alloc.ExtentHeader{
		Magic:   alloc.ExtentMagic,
		Entries: 1,
		Max:     4,
		Depth:   0,
	})
	alloc.EncodeExtentLeaf(rootExtentBlock, 12, alloc.ExtentLeaf{
		LogicalBlock: 0,
		Length:       1,
		PhysicalLo:   uint32(rootDirBlock),
	})

	rootInode := &Inode{
		Mode:       modeDir | 0o755,
		LinksCount: 2,
		Flags:      inodeFlagUsesExtents,
		AccessTime: now,
		ChangeTime: now,
		ModifyTime: now,
	}
	rootInode.SetSize(blockSize)
	copy(rootInode.Block[:], rootExtentBlock)

	rootDirBuf := encodeDirBlock([]rawDirent{
		{Inode: RootInode, NameLen: 1, Type: fileTypeDir, Name: "."},
		{Inode: RootInode, NameLen: 2, Type: fileTypeDir, Name: ".."},
	}, int(blockSize))

	// Write bottom-up: bitmaps, tables, root directory, then the group
	// descriptor and superblock last, so a write failure partway through
	// leaves a device probe() still rejects rather than one it wrongly
	// recognizes as a valid (but half-built) ext4 filesystem.
	if _, err := dev.WriteAt(ctx, blockBitmapBlock*blockSize, blockBitmap.Bytes); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, inodeBitmapBlock*blockSize, inodeBitmap.Bytes); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	rootInodeOffset := inodeTableStart*blockSize + uint64(RootInode-1)*inodeSize
	if _, err := dev.WriteAt(ctx, rootInodeOffset, Encode(rootInode, inodeSize)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, rootDirBlock*blockSize, rootDirBuf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, gdtBlock*blockSize, EncodeGroupDesc(gd, 32)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, SuperblockOffset, Encode(sb)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.Format", "", err)
	}
	return dev.Flush(ctx)
}
