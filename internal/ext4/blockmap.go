package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// resolveClassic maps a logical block number through the classic
// direct/single/double/triple-indirect pointer scheme used by ext2/ext3
// inodes and ext4 inodes that never set the uses-extents flag.
func (fs *Filesystem) resolveClassic(ctx context.Context, in *Inode, logical uint32) (uint64, bool, error) {
	ptrsPerBlock := uint32(fs.sb.BlockSize() / 4)

	if logical < directBlocks {
		b := in.DirectBlock(int(logical))
		return uint64(b), b != 0, nil
	}
	logical -= directBlocks

	if logical < ptrsPerBlock {
		return fs.resolveIndirect(ctx, in.IndirectBlock(), logical)
	}
	logical -= ptrsPerBlock

	if logical < ptrsPerBlock*ptrsPerBlock {
		return fs.resolveDoubleIndirect(ctx, in.DoubleIndirectBlock(), logical, ptrsPerBlock)
	}
	logical -= ptrsPerBlock * ptrsPerBlock

	return fs.resolveTripleIndirect(ctx, in.TripleIndirectBlock(), logical, ptrsPerBlock)
}

func (fs *Filesystem) resolveIndirect(ctx context.Context, block uint32, idx uint32) (uint64, bool, error) {
	if block == 0 {
		return 0, false, nil
	}
	buf, err := fs.readBlock(ctx, uint64(block))
	if err != nil {
		return 0, false, err
	}
	off := int(idx) * 4
	if off+4 > len(buf) {
		return 0, false, fsops.New(fsops.KindCorruption, "ext4.resolveIndirect", "index out of bounds")
	}
	b := checksum.LE32(buf, off)
	return uint64(b), b != 0, nil
}

func (fs *Filesystem) resolveDoubleIndirect(ctx context.Context, block uint32, idx uint32, ptrsPerBlock uint32) (uint64, bool, error) {
	if block == 0 {
		return 0, false, nil
	}
	buf, err := fs.readBlock(ctx, uint64(block))
	if err != nil {
		return 0, false, err
	}
	outer := idx / ptrsPerBlock
	inner := idx % ptrsPerBlock
	off := int(outer) * 4
	if off+4 > len(buf) {
		return 0, false, fsops.New(fsops.KindCorruption, "ext4.resolveDoubleIndirect", "index out of bounds")
	}
	next := checksum.LE32(buf, off)
	return fs.resolveIndirect(ctx, next, inner)
}

func (fs *Filesystem) resolveTripleIndirect(ctx context.Context, block uint32, idx uint32, ptrsPerBlock uint32) (uint64, bool, error) {
	if block == 0 {
		return 0, false, nil
	}
	buf, err := fs.readBlock(ctx, uint64(block))
	if err != nil {
		return 0, false, err
	}
	span := ptrsPerBlock * ptrsPerBlock
	outer := idx / span
	rem := idx % span
	off := int(outer) * 4
	if off+4 > len(buf) {
		return 0, false, fsops.New(fsops.KindCorruption, "ext4.resolveTripleIndirect", "index out of bounds")
	}
	next := checksum.LE32(buf, off)
	return fs.resolveDoubleIndirect(ctx, next, rem, ptrsPerBlock)
}
