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

// encodeResidentAttrNamed builds one resident attribute carrying a name
// (used for $INDEX_ROOT/$INDEX_ALLOCATION's "$I30" stream name).
func encodeResidentAttrNamed(buf []byte, pos int, typ uint32, name string, value []byte) int {
	const fixedSize = 24 // common(16) + resident fields(8), padded
	nameBytes := encodeUTF16LE(name)
	valueOffset := fixedSize + len(nameBytes)
	length := valueOffset + len(value)
	if length%8 != 0 {
		length += 8 - length%8
	}

	checksum.PutLE32(buf, pos, typ)
	checksum.PutLE32(buf, pos+4, uint32(length))
	buf[pos+8] = 0
	buf[pos+9] = byte(len([]rune(name)))
	checksum.PutLE16(buf, pos+10, uint16(fixedSize))
	checksum.PutLE16(buf, pos+12, 0)
	checksum.PutLE16(buf, pos+14, 0)
	checksum.PutLE32(buf, pos+16, uint32(len(value)))
	checksum.PutLE16(buf, pos+20, uint16(valueOffset))
	copy(buf[pos+fixedSize:], nameBytes)
	copy(buf[pos+valueOffset:pos+valueOffset+len(value)], value)
	return length
}

func buildStdInfoValue(mt time.Time) []byte {
	buf := make([]byte, 48)
	ft := timeToFiletime(mt)
	checksum.PutLE64(buf, 0x00, ft)
	checksum.PutLE64(buf, 0x08, ft)
	checksum.PutLE64(buf, 0x10, ft)
	checksum.PutLE64(buf, 0x18, ft)
	return buf
}

// buildMFTRecord assembles a full MFTRecordSize-byte record: header, the
// attribute bytes at h.AttrsOffset, the 0xFFFFFFFF end marker, then stamps
// a fresh Update Sequence Array over it.
func buildMFTRecord(h *MFTRecordHeader, attrs []byte, recordSize int, sectorSize int) []byte {
	buf := make([]byte, recordSize)
	EncodeMFTRecordHeader(buf, h)
	copy(buf[h.AttrsOffset:], attrs)
	checksum.PutLE32(buf, int(h.AttrsOffset)+len(attrs), AttrEndMarker)
	StampUSA(buf, sectorSize, int(h.UsaOffset), int(h.UsaCount), 0x0001)
	return buf
}

// syntheticImage holds the layout constants of buildSyntheticNTFSImage's
// image, so tests can address it without recomputing offsets.
type syntheticImage struct {
	dev           *memDevice
	clusterSize   uint64
	mftByteOffset uint64
	recordSize    int
}

func buildSyntheticNTFSImage(t *testing.T) syntheticImage {
	t.Helper()

	const (
		sectorSize  = 512
		clusterSize = 512 // 1 sector per cluster, for simple offset math
		mftLCN      = 3
		mftClusters = 20 // 10240 bytes = 10 records of 1024 bytes each
		recordSize  = 1024
	)
	imageSize := 64 * 1024
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
		ClustersPerMFTRec: -10, // 1024 bytes
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

	// Record 0: $MFT itself, whose unnamed $DATA runlist describes the
	// whole MFT table (including this very record), per the engine's
	// resolved approach to locating records through $MFT's own runs.
	mftHeader := &MFTRecordHeader{UsaOffset: 0x30, UsaCount: 3, Flags: recordFlagInUse, AttrsOffset: 0x38}
	copy(mftHeader.Signature[:], MFTSignature)
	mftAttrs := make([]byte, 256)
	n := encodeNonResidentAttr(mftAttrs, 0, AttrData, []alloc.Run{{LCN: mftLCN, Length: mftClusters}}, uint64(mftClusters)*clusterSize)
	writeRecord(0, mftHeader, mftAttrs[:n])

	// Record 5: root directory, with one $I30 index entry naming
	// "hello.txt" at record 6.
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

	// Record 6: hello.txt, a regular file with resident content.
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

func TestProbeRecognizesSyntheticImage(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	p := NewProber(nil)
	ok, err := p.Probe(context.Background(), img.dev)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOpenSyntheticImage(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	fs, err := Open(context.Background(), img.dev, fsops.ReadOnly, nil)
	require.NoError(t, err)
	require.NotNil(t, fs)

	info, err := fs.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, fsops.FamilyNTFS, info.Family)
	require.True(t, info.ReadOnly)
}

func TestReaddirAndStatAndRead(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	fs, err := Open(context.Background(), img.dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	entries, err := fs.Readdir(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
	require.Equal(t, fsops.KindRegular, entries[0].Attributes.Kind)

	attrs, err := fs.Stat(context.Background(), "/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len("hello ntfs\n")), attrs.Size)

	buf := make([]byte, 32)
	n, err := fs.Read(context.Background(), "/hello.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hello ntfs\n", string(buf[:n]))
}

func TestStatMissingPath(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	fs, err := Open(context.Background(), img.dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	_, err = fs.Stat(context.Background(), "/nope.txt")
	require.Error(t, err)
	require.True(t, fsops.IsNotFound(err))
}

func TestWriteRejectedWhenReadOnly(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	fs, err := Open(context.Background(), img.dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	_, err = fs.Write(context.Background(), "/hello.txt", 0, []byte("x"))
	require.Error(t, err)
	require.Equal(t, fsops.KindReadOnly, errKind(err))
}

func TestPoisonedInstanceRejectsFurtherOps(t *testing.T) {
	img := buildSyntheticNTFSImage(t)
	fs, err := Open(context.Background(), img.dev, fsops.ReadOnly, nil)
	require.NoError(t, err)

	fs.poison()
	_, err = fs.Stat(context.Background(), "/hello.txt")
	require.Error(t, err)
	require.Equal(t, fsops.KindCorruption, errKind(err))
}
