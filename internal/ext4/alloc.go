package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// allocateBlock claims the first free block in group 0 and persists the
// bitmap, group descriptor, and superblock free-count updates. This engine
// formats and opens single-block-group images only, so group 0 is the
// entire allocation universe.
func (fs *Filesystem) allocateBlock(ctx context.Context) (uint64, error) {
	if len(fs.groups) == 0 {
		return 0, fsops.New(fsops.KindUnsupported, "ext4.allocateBlock", "")
	}
	gd := fs.groups[0]
	bmBuf, err := fs.readBlock(ctx, gd.BlockBitmap())
	if err != nil {
		return 0, err
	}
	bm := alloc.NewBitmap(bmBuf)
	bit, ok := bm.FindFreeRange(0, 1)
	if !ok || bit >= fs.sb.BlockCount() {
		return 0, fsops.New(fsops.KindNoSpace, "ext4.allocateBlock", "")
	}
	bm.Set(bit)
	if err := fs.writeBlock(ctx, gd.BlockBitmap(), bm.Bytes); err != nil {
		return 0, err
	}
	gd.FreeBlocksCountLo--
	fs.groups[0] = gd
	if err := fs.writeGroupDesc(ctx, 0); err != nil {
		return 0, err
	}
	fs.sb.FreeBlockCountLo--
	if err := fs.writeSuperblock(ctx); err != nil {
		return 0, err
	}
	return bit, nil
}

// tryAllocateBlockAt claims block specifically if it is free, so extent
// growth can test for the contiguous-with-the-last-leaf case before
// falling back to a fresh leaf entry elsewhere in the group.
func (fs *Filesystem) tryAllocateBlockAt(ctx context.Context, block uint64) (bool, error) {
	if len(fs.groups) == 0 || block >= fs.sb.BlockCount() {
		return false, nil
	}
	gd := fs.groups[0]
	bmBuf, err := fs.readBlock(ctx, gd.BlockBitmap())
	if err != nil {
		return false, err
	}
	bm := alloc.NewBitmap(bmBuf)
	if bm.Test(block) {
		return false, nil
	}
	bm.Set(block)
	if err := fs.writeBlock(ctx, gd.BlockBitmap(), bm.Bytes); err != nil {
		return false, err
	}
	gd.FreeBlocksCountLo--
	fs.groups[0] = gd
	if err := fs.writeGroupDesc(ctx, 0); err != nil {
		return false, err
	}
	fs.sb.FreeBlockCountLo--
	if err := fs.writeSuperblock(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// freeBlock clears block's bitmap bit and reverses allocateBlock's count
// bookkeeping.
func (fs *Filesystem) freeBlock(ctx context.Context, block uint64) error {
	if len(fs.groups) == 0 {
		return fsops.New(fsops.KindUnsupported, "ext4.freeBlock", "")
	}
	gd := fs.groups[0]
	bmBuf, err := fs.readBlock(ctx, gd.BlockBitmap())
	if err != nil {
		return err
	}
	bm := alloc.NewBitmap(bmBuf)
	bm.Clear(block)
	if err := fs.writeBlock(ctx, gd.BlockBitmap(), bm.Bytes); err != nil {
		return err
	}
	gd.FreeBlocksCountLo++
	fs.groups[0] = gd
	if err := fs.writeGroupDesc(ctx, 0); err != nil {
		return err
	}
	fs.sb.FreeBlockCountLo++
	return fs.writeSuperblock(ctx)
}

// allocateInode claims the first free inode in group 0, numbering from 1.
func (fs *Filesystem) allocateInode(ctx context.Context, isDir bool) (uint32, error) {
	if len(fs.groups) == 0 {
		return 0, fsops.New(fsops.KindUnsupported, "ext4.allocateInode", "")
	}
	gd := fs.groups[0]
	bmBuf, err := fs.readBlock(ctx, gd.InodeBitmap())
	if err != nil {
		return 0, err
	}
	bm := alloc.NewBitmap(bmBuf)
	bit, ok := bm.FindFreeRange(0, 1)
	if !ok || bit >= uint64(fs.sb.InodePerGroup) {
		return 0, fsops.New(fsops.KindNoSpace, "ext4.allocateInode", "")
	}
	bm.Set(bit)
	if err := fs.writeBlock(ctx, gd.InodeBitmap(), bm.Bytes); err != nil {
		return 0, err
	}
	gd.FreeInodesCountLo--
	if isDir {
		gd.UsedDirsCountLo++
	}
	fs.groups[0] = gd
	if err := fs.writeGroupDesc(ctx, 0); err != nil {
		return 0, err
	}
	fs.sb.FreeInodeCount--
	if err := fs.writeSuperblock(ctx); err != nil {
		return 0, err
	}
	return uint32(bit) + 1, nil
}

// freeInode clears ino's bitmap bit and reverses allocateInode's count
// bookkeeping.
func (fs *Filesystem) freeInode(ctx context.Context, ino uint32, isDir bool) error {
	if len(fs.groups) == 0 || ino == 0 {
		return fsops.New(fsops.KindUnsupported, "ext4.freeInode", "")
	}
	gd := fs.groups[0]
	bmBuf, err := fs.readBlock(ctx, gd.InodeBitmap())
	if err != nil {
		return err
	}
	bm := alloc.NewBitmap(bmBuf)
	bm.Clear(uint64(ino - 1))
	if err := fs.writeBlock(ctx, gd.InodeBitmap(), bm.Bytes); err != nil {
		return err
	}
	gd.FreeInodesCountLo++
	if isDir && gd.UsedDirsCountLo > 0 {
		gd.UsedDirsCountLo--
	}
	fs.groups[0] = gd
	if err := fs.writeGroupDesc(ctx, 0); err != nil {
		return err
	}
	fs.sb.FreeInodeCount++
	delete(fs.inodeCache, ino)
	return fs.writeSuperblock(ctx)
}

// writeInode serializes in and persists it to its slot in the inode table,
// refreshing the read cache so a subsequent readInode sees the write.
func (fs *Filesystem) writeInode(ctx context.Context, ino uint32, in *Inode) error {
	if ino == 0 || fs.sb.InodePerGroup == 0 {
		return fsops.New(fsops.KindUnsupported, "ext4.writeInode", "")
	}
	group := (ino - 1) / fs.sb.InodePerGroup
	index := (ino - 1) % fs.sb.InodePerGroup
	if int(group) >= len(fs.groups) {
		return fsops.New(fsops.KindCorruption, "ext4.writeInode", "group index out of range")
	}
	gd := fs.groups[group]
	inodeSize := uint64(fs.sb.InodeSize)
	if inodeSize == 0 {
		inodeSize = 128
	}
	blockSize := fs.sb.BlockSize()
	byteOffset := gd.InodeTable()*blockSize + uint64(index)*inodeSize
	if _, err := fs.dev.WriteAt(ctx, byteOffset, Encode(in, fs.sb.InodeSize)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.writeInode", "", err)
	}
	fs.inodeCache[ino] = in
	return nil
}

// writeGroupDesc re-encodes fs.groups[group] and rewrites it into the
// group-descriptor table, read-modify-write since several descriptors can
// share a block.
func (fs *Filesystem) writeGroupDesc(ctx context.Context, group int) error {
	descSize := fs.sb.GroupDescSize()
	count := fs.sb.GroupCount()
	gdtBlock := uint64(fs.sb.FirstDataBlock + 1)
	gdtBytes := uint64(count) * uint64(descSize)
	blockSize := fs.sb.BlockSize()
	numBlocks := (gdtBytes + blockSize - 1) / blockSize

	buf := make([]byte, numBlocks*blockSize)
	if _, err := fs.dev.ReadAt(ctx, gdtBlock*blockSize, buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.writeGroupDesc", "", err)
	}
	off := uint64(group) * uint64(descSize)
	copy(buf[off:off+uint64(descSize)], EncodeGroupDesc(fs.groups[group], descSize))
	if _, err := fs.dev.WriteAt(ctx, gdtBlock*blockSize, buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.writeGroupDesc", "", err)
	}
	return nil
}

// writeSuperblock re-encodes and rewrites fs.sb.
func (fs *Filesystem) writeSuperblock(ctx context.Context) error {
	if _, err := fs.dev.WriteAt(ctx, SuperblockOffset, Encode(fs.sb)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ext4.writeSuperblock", "", err)
	}
	return nil
}

// appendBlockToInode grows in's extent tree by one block mapped at logical,
// extending the last leaf in place when the newly claimed block happens to
// be contiguous with it, otherwise appending a new leaf entry. Only the
// inline depth-0 root this engine's Format ever produces is supported;
// multi-level extent trees and classic block-mapped inodes return
// KindUnsupported rather than silently truncating a write.
func (fs *Filesystem) appendBlockToInode(ctx context.Context, in *Inode, logical uint32) (uint64, error) {
	if !in.UsesExtents() {
		return 0, fsops.New(fsops.KindUnsupported, "ext4.appendBlockToInode", "classic block-mapped inode growth")
	}
	node := in.Block[:]
	h, err := alloc.DecodeExtentHeader(node)
	if err != nil {
		return 0, fsops.Wrap(fsops.KindCorruption, "ext4.appendBlockToInode", "", err)
	}
	if h.Depth != 0 {
		return 0, fsops.New(fsops.KindUnsupported, "ext4.appendBlockToInode", "multi-level extent tree growth")
	}
	leaves, err := alloc.DecodeExtentLeaves(node, h)
	if err != nil {
		return 0, fsops.Wrap(fsops.KindCorruption, "ext4.appendBlockToInode", "", err)
	}

	if n := len(leaves); n > 0 {
		last := leaves[n-1]
		if last.Initialized() && last.LogicalBlock+uint32(last.RealLength()) == logical && last.RealLength() < 32768 {
			want := last.PhysicalBlock() + uint64(last.RealLength())
			ok, err := fs.tryAllocateBlockAt(ctx, want)
			if err != nil {
				return 0, err
			}
			if ok {
				last.Length++
				alloc.EncodeExtentLeaf(node, 12+(n-1)*12, last)
				return want, nil
			}
		}
	}

	if h.Entries >= h.Max {
		return 0, fsops.New(fsops.KindNoSpace, "ext4.appendBlockToInode", "extent root full")
	}
	phys, err := fs.allocateBlock(ctx)
	if err != nil {
		return 0, err
	}
	alloc.EncodeExtentLeaf(node, 12+int(h.Entries)*12, alloc.ExtentLeaf{
		LogicalBlock: logical,
		Length:       1,
		PhysicalLo:   uint32(phys),
	})
	h.Entries++
	alloc.EncodeExtentHeader(node, h)
	return phys, nil
}

// freeInodeBlocks releases every block the inode's extent tree maps.
// Classic block-mapped inodes are left alone (same scope limit as
// appendBlockToInode): this engine never creates one, and reclaiming an
// externally-created file's indirect blocks is out of scope.
func (fs *Filesystem) freeInodeBlocks(ctx context.Context, in *Inode) error {
	if !in.UsesExtents() {
		return nil
	}
	h, err := alloc.DecodeExtentHeader(in.Block[:])
	if err != nil {
		return fsops.Wrap(fsops.KindCorruption, "ext4.freeInodeBlocks", "", err)
	}
	if h.Depth != 0 {
		return nil
	}
	leaves, err := alloc.DecodeExtentLeaves(in.Block[:], h)
	if err != nil {
		return fsops.Wrap(fsops.KindCorruption, "ext4.freeInodeBlocks", "", err)
	}
	for _, leaf := range leaves {
		if !leaf.Initialized() {
			continue
		}
		base := leaf.PhysicalBlock()
		for i := uint64(0); i < uint64(leaf.RealLength()); i++ {
			if err := fs.freeBlock(ctx, base+i); err != nil {
				return err
			}
		}
	}
	return nil
}
