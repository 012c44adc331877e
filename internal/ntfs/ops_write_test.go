package ntfs

import (
	"context"
	"testing"
	"time"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

// buildWritableNTFSImage is buildSyntheticNTFSImage's layout, sized so
// $MFT already spans exactly the 16 reserved records: allocateRecord's
// first call still needs to grow $MFT past that boundary (record 16),
// exercising growMFT's non-contiguous-run-append path, since cluster
// mftLCN+mftClusters is reserved for $MFTMirr and must be skipped.
func buildWritableNTFSImage(t *testing.T) syntheticImage {
	t.Helper()

	const (
		sectorSize  = 512
		clusterSize = 512
		mftLCN      = 3
		mftClusters = 32 // 16384 bytes = 16 records of 1024 bytes each
		recordSize  = 1024
	)
	imageSize := 128 * 1024
	dev := newMemDevice(imageSize)
	mftByteOffset := uint64(mftLCN) * clusterSize

	bs := &BootSector{
		BytesPerSector:    sectorSize,
		SectorsPerCluster: 1,
		MediaDescriptor:   0xF8,
		SectorsPerTrack:   63,
		NumberOfHeads:     255,
		TotalSectors:      uint64(imageSize / sectorSize),
		MFTLCN:            mftLCN,
		MFTMirrLCN:        mftLCN + mftClusters,
		ClustersPerMFTRec: -10,
		ClustersPerIdxRec: -10,
		VolumeSerial:      0xAABBCCDD,
		Signature:         0xAA55,
	}
	bsBuf := Encode(bs)
	_, err := dev.WriteAt(context.Background(), 0, bsBuf)
	require.NoError(t, err)

	writeRecord := func(recordNum uint64, h *MFTRecordHeader, attrs []byte) {
		h.MFTRecordNumber = uint32(recordNum)
		buf := buildMFTRecord(h, attrs, recordSize, sectorSize)
		_, err := dev.WriteAt(context.Background(), mftByteOffset+recordNum*uint64(recordSize), buf)
		require.NoError(t, err)
	}

	mftHeader := &MFTRecordHeader{UsaOffset: 0x30, UsaCount: 3, Flags: recordFlagInUse, AttrsOffset: 0x38}
	copy(mftHeader.Signature[:], MFTSignature)
	mftAttrs := make([]byte, 256)
	n := encodeNonResidentAttr(mftAttrs, 0, AttrData, []alloc.Run{{LCN: mftLCN, Length: mftClusters}}, uint64(mftClusters)*clusterSize)
	writeRecord(0, mftHeader, mftAttrs[:n])

	rootHeader := &MFTRecordHeader{UsaOffset: 0x30, UsaCount: 3, Flags: recordFlagInUse | recordFlagDirectory, AttrsOffset: 0x38}
	copy(rootHeader.Signature[:], MFTSignature)
	rootAttrs := make([]byte, 512)
	pos := 0
	pos += encodeResidentAttr(rootAttrs, pos, AttrStandardInformation, buildStdInfoValue(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	indexEntries := make([]byte, 256)
	ePos := 0
	ePos = encodeIndexEntry(indexEntries, ePos, 6, "hello.txt", false, 0, false)
	ePos = encodeIndexEntry(indexEntries, ePos, 0, "", false, 0, true)
	indexRootValue := make([]byte, 16+indexNodeHeaderSize+ePos)
	checksum.PutLE32(indexRootValue, 16, uint32(indexNodeHeaderSize))
	checksum.PutLE32(indexRootValue, 20, uint32(indexNodeHeaderSize+ePos))
	copy(indexRootValue[16+indexNodeHeaderSize:], indexEntries[:ePos])
	pos += encodeResidentAttrNamed(rootAttrs, pos, AttrIndexRoot, indexAttrName, indexRootValue)
	writeRecord(5, rootHeader, rootAttrs[:pos])

	fileHeader := &MFTRecordHeader{UsaOffset: 0x30, UsaCount: 3, Flags: recordFlagInUse, AttrsOffset: 0x38}
	copy(fileHeader.Signature[:], MFTSignature)
	fileAttrs := make([]byte, 256)
	fPos := 0
	fPos += encodeResidentAttr(fileAttrs, fPos, AttrStandardInformation, buildStdInfoValue(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	content := []byte("hello ntfs\n")
	fPos += encodeResidentAttr(fileAttrs, fPos, AttrData, content)
	writeRecord(6, fileHeader, fileAttrs[:fPos])

	return syntheticImage{dev: dev, clusterSize: clusterSize, mftByteOffset: mftByteOffset, recordSize: recordSize}
}

func TestCreateThenReadBack(t *testing.T) {
	img := buildWritableNTFSImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, img.dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Create(ctx, "/new.txt", fsops.KindRegular, 0644))

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
	img := buildWritableNTFSImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, img.dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0755))
	attrs, err := fs.Stat(ctx, "/sub")
	require.NoError(t, err)
	require.Equal(t, fsops.KindDirectory, attrs.Kind)

	require.NoError(t, fs.Create(ctx, "/sub/child.txt", fsops.KindRegular, 0644))
	entries, err := fs.Readdir(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "child.txt", entries[0].Name)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	img := buildWritableNTFSImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, img.dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Unlink(ctx, "/hello.txt"))
	_, err = fs.Stat(ctx, "/hello.txt")
	require.Error(t, err)
	require.True(t, fsops.IsNotFound(err))
}

func TestUnlinkRejectsNonEmptyDirectory(t *testing.T) {
	img := buildWritableNTFSImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, img.dev, fsops.ReadWrite, nil)
	require.NoError(t, err)

	require.NoError(t, fs.Mkdir(ctx, "/sub", 0755))
	require.NoError(t, fs.Create(ctx, "/sub/child.txt", fsops.KindRegular, 0644))

	err = fs.Unlink(ctx, "/sub")
	require.Error(t, err)
	require.Equal(t, fsops.KindUnsupported, errKind(err))
}

func TestRenameMovesEntry(t *testing.T) {
	img := buildWritableNTFSImage(t)
	ctx := context.Background()
	fs, err := Open(ctx, img.dev, fsops.ReadWrite, nil)
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
