package ext4

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(dev *memDevice, blockSize uint64) *Filesystem {
	sb := &Superblock{
		LogBlockSize:  logOf(blockSize),
		InodePerGroup: 128,
		BlockPerGroup: 8192,
		InodeSize:     256,
	}
	return &Filesystem{dev: dev, sb: sb, inodeCache: make(map[uint32]*Inode)}
}

func logOf(blockSize uint64) uint32 {
	log := uint32(0)
	for (uint64(1024) << log) < blockSize {
		log++
	}
	return log
}

func TestResolveExtentDepthZero(t *testing.T) {
	dev := newMemDevice(16 * 1024)
	fs := newTestFilesystem(dev, 1024)

	in := &Inode{Flags: inodeFlagUsesExtents}
	alloc.EncodeExtentHeader(in.Block[:], alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 0})
	alloc.EncodeExtentLeaf(in.Block[:], 12, alloc.ExtentLeaf{LogicalBlock: 0, Length: 4, PhysicalLo: 10})

	phys, ok, err := fs.resolveExtent(context.Background(), in, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12), phys) // block 10 + (2-0)

	_, ok, err = fs.resolveExtent(context.Background(), in, 10)
	require.NoError(t, err)
	require.False(t, ok) // outside any leaf's range: a hole
}

func TestResolveExtentUninitialized(t *testing.T) {
	dev := newMemDevice(16 * 1024)
	fs := newTestFilesystem(dev, 1024)

	in := &Inode{Flags: inodeFlagUsesExtents}
	alloc.EncodeExtentHeader(in.Block[:], alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 0})
	alloc.EncodeExtentLeaf(in.Block[:], 12, alloc.ExtentLeaf{LogicalBlock: 0, Length: 32768 + 4, PhysicalLo: 10})

	_, ok, err := fs.resolveExtent(context.Background(), in, 1)
	require.NoError(t, err)
	require.False(t, ok, "uninitialized extents must read back as a hole")
}

func TestResolveExtentWithInternalNode(t *testing.T) {
	dev := newMemDevice(16 * 1024)
	fs := newTestFilesystem(dev, 1024)

	// Child leaf node lives at physical block 3.
	child := make([]byte, 1024)
	alloc.EncodeExtentHeader(child, alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 0})
	alloc.EncodeExtentLeaf(child, 12, alloc.ExtentLeaf{LogicalBlock: 100, Length: 10, PhysicalLo: 500})
	_, err := dev.WriteAt(context.Background(), 3*1024, child)
	require.NoError(t, err)

	in := &Inode{Flags: inodeFlagUsesExtents}
	alloc.EncodeExtentHeader(in.Block[:], alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 1})
	alloc.EncodeExtentIndex(in.Block[:], 12, alloc.ExtentIndex{LogicalBlock: 100, ChildLo: 3})

	phys, ok, err := fs.resolveExtent(context.Background(), in, 105)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(505), phys)

	count, err := fs.extentLeafCount(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestResolveExtentBadMagic(t *testing.T) {
	dev := newMemDevice(4096)
	fs := newTestFilesystem(dev, 1024)
	in := &Inode{Flags: inodeFlagUsesExtents} // zeroed Block: magic 0, invalid
	_, _, err := fs.resolveExtent(context.Background(), in, 0)
	require.Error(t, err)
}
