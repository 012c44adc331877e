package ntfs

import (
	"context"
	"time"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// FormatOptions configures a fresh NTFS volume.
type FormatOptions struct {
	Label string
}

const (
	formatSectorSize  = 512
	formatClusterSize = 4096
	formatRecordSize  = 1024
	reservedRecords   = 16
)

func formatAlign8(n int) int { return (n + 7) &^ 7 }

func formatUTF16LEBytes(s string) []byte {
	buf := make([]byte, 0, len(s)*2)
	for _, r := range s {
		var tmp [2]byte
		checksum.PutLE16(tmp[:], 0, uint16(r))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func formatTimeToFiletime(t time.Time) uint64 {
	return uint64(t.Sub(ntfsEpoch) / 100)
}

// formatEncodeResidentAttr lays out one resident attribute record: the common
// header, an optional UTF-16LE name, and the value bytes.
func formatEncodeResidentAttr(typ uint32, name string, value []byte) []byte {
	nameBytes := formatUTF16LEBytes(name)
	const nameOffset = 24
	valueOffset := formatAlign8(nameOffset + len(nameBytes))
	total := formatAlign8(valueOffset + len(value))

	buf := make([]byte, total)
	checksum.PutLE32(buf, 0, typ)
	checksum.PutLE32(buf, 4, uint32(total))
	buf[8] = 0 // resident
	buf[9] = byte(len([]rune(name)))
	checksum.PutLE16(buf, 10, uint16(nameOffset))
	checksum.PutLE32(buf, 16, uint32(len(value)))
	checksum.PutLE16(buf, 20, uint16(valueOffset))
	copy(buf[nameOffset:], nameBytes)
	copy(buf[valueOffset:valueOffset+len(value)], value)
	return buf
}

// formatEncodeNonResidentAttr lays out one non-resident attribute record: the
// common header, an optional name, and the run list.
func formatEncodeNonResidentAttr(typ uint32, name string, runs []alloc.Run, allocatedSize, realSize, initSize uint64) []byte {
	nameBytes := formatUTF16LEBytes(name)
	const nameOffset = 64
	runlist := alloc.EncodeRunlist(runs)
	runlistOffset := formatAlign8(nameOffset + len(nameBytes))
	total := formatAlign8(runlistOffset + len(runlist))

	var lastVCN uint64
	for _, r := range runs {
		lastVCN += r.Length
	}
	if lastVCN > 0 {
		lastVCN--
	}

	buf := make([]byte, total)
	checksum.PutLE32(buf, 0, typ)
	checksum.PutLE32(buf, 4, uint32(total))
	buf[8] = 1 // non-resident
	buf[9] = byte(len([]rune(name)))
	checksum.PutLE16(buf, 10, uint16(nameOffset))
	checksum.PutLE64(buf, 16, 0)
	checksum.PutLE64(buf, 24, lastVCN)
	checksum.PutLE16(buf, 32, uint16(runlistOffset))
	checksum.PutLE64(buf, 40, allocatedSize)
	checksum.PutLE64(buf, 48, realSize)
	checksum.PutLE64(buf, 56, initSize)
	copy(buf[nameOffset:], nameBytes)
	copy(buf[runlistOffset:runlistOffset+len(runlist)], runlist)
	return buf
}

// formatBuildMFTRecord assembles one full formatRecordSize-byte MFT record from
// a header and the already-encoded attribute blobs, appends the
// 0xFFFFFFFF end marker, and stamps a fresh Update Sequence Array.
func formatBuildMFTRecord(h *MFTRecordHeader, attrs ...[]byte) []byte {
	const attrsOffset = 64
	copy(h.Signature[:], []byte(MFTSignature))
	h.UsaOffset = 48
	h.UsaCount = uint16(formatRecordSize/formatSectorSize) + 1
	h.AttrsOffset = attrsOffset
	h.BytesAllocated = formatRecordSize

	buf := make([]byte, formatRecordSize)

	pos := attrsOffset
	for _, a := range attrs {
		copy(buf[pos:pos+len(a)], a)
		pos += len(a)
	}
	checksum.PutLE32(buf, pos, AttrEndMarker)
	pos += 4
	h.BytesUsed = uint32(pos)

	EncodeMFTRecordHeader(buf, h)
	StampUSA(buf, formatSectorSize, int(h.UsaOffset), int(h.UsaCount), 1)
	return buf
}

func formatEncodeIndexRootEmpty() []byte {
	const prefix = 16
	const headerSize = 16
	const entrySize = 16
	buf := make([]byte, prefix+headerSize+entrySize)

	checksum.PutLE32(buf, 0, AttrFileName)
	checksum.PutLE32(buf, 4, 0x01) // COLLATION_FILENAME
	checksum.PutLE32(buf, 8, formatClusterSize)
	buf[12] = 1 // clusters per index block

	checksum.PutLE32(buf, prefix+0, headerSize)            // entries offset, relative to header start
	checksum.PutLE32(buf, prefix+4, headerSize+entrySize)  // index length
	checksum.PutLE32(buf, prefix+8, headerSize+entrySize)  // allocated size

	entryOff := prefix + headerSize
	checksum.PutLE64(buf, entryOff, 0)                   // file reference, unused on the terminal entry
	checksum.PutLE16(buf, entryOff+8, uint16(entrySize))  // entry length
	checksum.PutLE16(buf, entryOff+10, 0)                 // key length
	checksum.PutLE16(buf, entryOff+12, indexEntryIsLast)
	return buf
}

// Format lays down a minimal NTFS volume: a boot sector plus backup boot
// sector, a 16-record reserved $MFT region with a real $MFTMirr copy of
// its first cluster, and the three fixed records this engine's read path
// exercises ($MFT itself at record 0, $Volume at record 3 carrying the
// label, and the root directory at record 5 with an empty $INDEX_ROOT).
// Every other reserved record is left zeroed; nothing in this engine
// resolves a path through them.
func Format(ctx context.Context, dev fsops.BlockDevice, opts FormatOptions) error {
	total := dev.Size()
	totalSectors := total / formatSectorSize
	if totalSectors*formatSectorSize < 8*formatClusterSize {
		return fsops.New(fsops.KindUnsupported, "ntfs.Format", "device too small for an NTFS volume")
	}

	const (
		mftLCN     = 1
		mftMirrLCN = 5
	)
	mftClusters := uint64(reservedRecords*formatRecordSize+formatClusterSize-1) / formatClusterSize

	bs := &BootSector{
		BytesPerSector:    formatSectorSize,
		SectorsPerCluster: formatClusterSize / formatSectorSize,
		MediaDescriptor:   0xF8,
		TotalSectors:      totalSectors,
		MFTLCN:            mftLCN,
		MFTMirrLCN:        mftMirrLCN,
		ClustersPerMFTRec: -10, // 2^10 == 1024 bytes
		ClustersPerIdxRec: -12, // 2^12 == 4096 bytes
	}

	now := time.Now()
	ft := formatTimeToFiletime(now)

	stdInfoValue := make([]byte, 48)
	checksum.PutLE64(stdInfoValue, 0x00, ft)
	checksum.PutLE64(stdInfoValue, 0x08, ft)
	checksum.PutLE64(stdInfoValue, 0x10, ft)
	checksum.PutLE64(stdInfoValue, 0x18, ft)
	checksum.PutLE32(stdInfoValue, 0x20, 0x10) // FILE_ATTRIBUTE_DIRECTORY

	fileNameValue := make([]byte, 68)
	checksum.PutLE64(fileNameValue, 0x00, RootDirRecord)
	checksum.PutLE64(fileNameValue, 0x08, ft)
	checksum.PutLE64(fileNameValue, 0x10, ft)
	checksum.PutLE64(fileNameValue, 0x18, ft)
	checksum.PutLE64(fileNameValue, 0x20, ft)
	checksum.PutLE32(fileNameValue, 0x38, 0x10)
	fileNameValue[0x40] = 1 // name length (one UTF-16 unit, ".")
	fileNameValue[0x41] = 1 // Win32 namespace
	copy(fileNameValue[0x42:], formatUTF16LEBytes("."))

	rootRecord := formatBuildMFTRecord(&MFTRecordHeader{
		SequenceNumber:  1,
		LinkCount:       1,
		Flags:           recordFlagInUse | recordFlagDirectory,
		MFTRecordNumber: RootDirRecord,
	},
		formatEncodeResidentAttr(AttrStandardInformation, "", stdInfoValue),
		formatEncodeResidentAttr(AttrFileName, "", fileNameValue),
		formatEncodeResidentAttr(AttrIndexRoot, indexAttrName, formatEncodeIndexRootEmpty()),
	)

	volumeNameValue := formatUTF16LEBytes(opts.Label)
	volumeRecord := formatBuildMFTRecord(&MFTRecordHeader{
		SequenceNumber:  1,
		LinkCount:       1,
		Flags:           recordFlagInUse,
		MFTRecordNumber: 3,
	},
		formatEncodeResidentAttr(0x60, "", volumeNameValue),
	)

	mftDataAttr := formatEncodeNonResidentAttr(AttrData, "",
		[]alloc.Run{{LCN: mftLCN, Length: mftClusters}},
		mftClusters*formatClusterSize,
		reservedRecords*formatRecordSize,
		reservedRecords*formatRecordSize,
	)
	mftRecord := formatBuildMFTRecord(&MFTRecordHeader{
		SequenceNumber:  1,
		LinkCount:       1,
		Flags:           recordFlagInUse,
		MFTRecordNumber: 0,
	}, mftDataAttr)

	mftRegion := make([]byte, mftClusters*formatClusterSize)
	copy(mftRegion[0*formatRecordSize:], mftRecord)
	copy(mftRegion[3*formatRecordSize:], volumeRecord)
	copy(mftRegion[5*formatRecordSize:], rootRecord)

	// Write bottom-up: the $MFT region and its mirror first, the boot
	// sector (primary and backup) last, so a write failure partway
	// through leaves a device probe() still rejects rather than one it
	// wrongly recognizes as a valid (but half-built) NTFS volume.
	if _, err := dev.WriteAt(ctx, mftLCN*formatClusterSize, mftRegion); err != nil {
		return fsops.Wrap(fsops.KindIo, "ntfs.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, mftMirrLCN*formatClusterSize, mftRegion[:formatClusterSize]); err != nil {
		return fsops.Wrap(fsops.KindIo, "ntfs.Format", "", err)
	}

	backupBootOffset := (totalSectors - 1) * formatSectorSize
	if _, err := dev.WriteAt(ctx, backupBootOffset, Encode(bs)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ntfs.Format", "", err)
	}
	if _, err := dev.WriteAt(ctx, 0, Encode(bs)); err != nil {
		return fsops.Wrap(fsops.KindIo, "ntfs.Format", "", err)
	}

	return dev.Flush(ctx)
}
