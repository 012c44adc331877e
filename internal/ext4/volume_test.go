package ext4

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 1024

// buildSyntheticImage assembles a minimal, valid ext4-layout image (no
// journal, extents enabled) with a root directory containing one regular
// file "hello.txt", entirely in memory.
func buildSyntheticImage(t *testing.T) *memDevice {
	t.Helper()
	const (
		gdtBlock        = 2
		inodeTableBlock = 5
		inodeSize       = 256
		inodesPerGroup  = 32
		rootDirBlock    = 20
		fileDataBlock   = 21
	)
	fileContent := []byte("hello from the synthetic image\n")

	dev := newMemDevice(64 * 1024)

	sb := &Superblock{
		InodeCount:      inodesPerGroup,
		BlockCountLo:    64,
		FirstDataBlock:  1,
		LogBlockSize:    0,
		BlockPerGroup:   8192,
		InodePerGroup:   inodesPerGroup,
		InodeSize:       inodeSize,
		FeatureIncompat: FeatureIncompatExtents | FeatureIncompatFiletype,
	}
	copy(sb.VolumeName[:], "synthfs")
	sbBuf := Encode(sb)
	_, err := dev.WriteAt(context.Background(), SuperblockOffset, sbBuf)
	require.NoError(t, err)

	gd := GroupDesc{InodeTableLo: inodeTableBlock}
	gdBuf := EncodeGroupDesc(gd, 32)
	_, err = dev.WriteAt(context.Background(), gdtBlock*testBlockSize, gdBuf)
	require.NoError(t, err)

	rootIn := &Inode{Mode: modeDir | 0755, LinksCount: 2, Flags: inodeFlagUsesExtents}
	rootIn.SetSize(testBlockSize)
	alloc.EncodeExtentHeader(rootIn.Block[:], alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 0})
	alloc.EncodeExtentLeaf(rootIn.Block[:], 12, alloc.ExtentLeaf{LogicalBlock: 0, Length: 1, PhysicalLo: rootDirBlock})
	writeInode(t, dev, inodeTableBlock, inodeSize, RootInode, rootIn)

	fileIno := uint32(11)
	fileIn := &Inode{Mode: modeRegular | 0644, LinksCount: 1, Flags: inodeFlagUsesExtents}
	fileIn.SetSize(uint64(len(fileContent)))
	alloc.EncodeExtentHeader(fileIn.Block[:], alloc.ExtentHeader{Magic: alloc.ExtentMagic, Entries: 1, Max: 4, Depth: 0})
	alloc.EncodeExtentLeaf(fileIn.Block[:], 12, alloc.ExtentLeaf{LogicalBlock: 0, Length: 1, PhysicalLo: fileDataBlock})
	writeInode(t, dev, inodeTableBlock, inodeSize, fileIno, fileIn)

	dirBuf := encodeDirBlock([]rawDirent{
		{Inode: RootInode, NameLen: 1, Type: fileTypeDir, Name: "."},
		{Inode: RootInode, NameLen: 2, Type: fileTypeDir, Name: ".."},
		{Inode: fileIno, NameLen: 9, Type: fileTypeRegular, Name: "hello.txt"},
	}, testBlockSize)
	_, err = dev.WriteAt(context.Background(), rootDirBlock*testBlockSize, dirBuf)
	require.NoError(t, err)

	content := make([]byte, testBlockSize)
	copy(content, fileContent)
	_, err = dev.WriteAt(context.Background(), fileDataBlock*testBlockSize, content)
	require.NoError(t, err)

	return dev
}

func writeInode(t *testing.T, dev *memDevice, inodeTableBlock uint64, inodeSize uint16, ino uint32, in *Inode) {
	t.Helper()
	index := uint64(ino - 1)
	off := inodeTableBlock*testBlockSize + index*uint64(inodeSize)
	_, err := dev.WriteAt(context.Background(), off, Encode(in, inodeSize))
	require.NoError(t, err)
}

func TestOpenAndProbeSyntheticImage(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()

	p := NewProber(nil)
	ok, err := p.Probe(ctx, dev)
	require.NoError(t, err)
	require.True(t, ok)

	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	info, err := fs.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, "synthfs", info.Label)
	require.Equal(t, fsops.FamilyExt4, info.Family)
}

func TestReaddirAndStatAndRead(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	ents, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "hello.txt", ents[0].Name)
	require.Equal(t, fsops.KindRegular, ents[0].Attributes.Kind)

	attrs, err := fs.Stat(ctx, "/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len("hello from the synthetic image\n")), attrs.Size)

	buf := make([]byte, 64)
	n, err := fs.Read(ctx, "/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello from the synthetic image\n", string(buf[:n]))
}

func TestStatMissingPath(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	_, err = fs.Stat(ctx, "/nope.txt")
	require.Error(t, err)
	require.True(t, fsops.IsNotFound(err))
}

func TestWriteRejectedWhenReadOnly(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	_, err = fs.Write(ctx, "/hello.txt", 0, []byte("x"))
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindReadOnly, kind)
}

func TestWriteThenReadBack(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	n, err := fs.Write(ctx, "/hello.txt", 6, []byte("WORLD"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 11)
	_, err = fs.Read(ctx, "/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello WORLD", string(buf))
}

func TestPoisonedInstanceRejectsFurtherOps(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	fs.poison()
	_, err = fs.Stat(ctx, "/hello.txt")
	require.Error(t, err)
	require.True(t, fsops.IsCorruption(err))
}

func TestCreateThenReadBack(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	err = fs.Create(ctx, "/new.txt", fsops.KindRegular, 0644)
	require.NoError(t, err)

	attrs, err := fs.Stat(ctx, "/new.txt")
	require.NoError(t, err)
	require.Equal(t, fsops.KindRegular, attrs.Kind)

	n, err := fs.Write(ctx, "/new.txt", 0, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	buf := make([]byte, 3)
	_, err = fs.Read(ctx, "/new.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf))
}

func TestMkdirThenCreateChild(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0755))
	attrs, err := fs.Stat(ctx, "/sub")
	require.NoError(t, err)
	require.Equal(t, fsops.KindDirectory, attrs.Kind)

	require.NoError(t, fs.Create(ctx, "/sub/child.txt", fsops.KindRegular, 0644))
	ents, err := fs.Readdir(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "child.txt", ents[0].Name)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, "/hello.txt"))
	_, err = fs.Stat(ctx, "/hello.txt")
	require.Error(t, err)
	require.True(t, fsops.IsNotFound(err))
}

func TestUnlinkRejectsNonEmptyDirectory(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0755))
	require.NoError(t, fs.Create(ctx, "/sub/child.txt", fsops.KindRegular, 0644))

	err = fs.Unlink(ctx, "/sub")
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindUnsupported, kind)
}

func TestRenameMovesEntry(t *testing.T) {
	dev := buildSyntheticImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0755))
	require.NoError(t, fs.Rename(ctx, "/hello.txt", "/sub/hello.txt"))

	_, err = fs.Stat(ctx, "/hello.txt")
	require.Error(t, err)
	require.True(t, fsops.IsNotFound(err))

	attrs, err := fs.Stat(ctx, "/sub/hello.txt")
	require.NoError(t, err)
	require.Equal(t, fsops.KindRegular, attrs.Kind)
}
