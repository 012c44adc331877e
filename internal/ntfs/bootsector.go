// Package ntfs implements the NTFS engine (C5): boot sector, MFT record
// parsing with Update Sequence Array fixup, attribute walk (resident and
// non-resident via runlist), $INDEX_ROOT/$INDEX_ALLOCATION directory
// lookup, and the FilesystemOps contract over them. Name lookup compares
// names exactly: the volume's $UpCase table is not read and no case
// folding is applied.
package ntfs

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// OEMID is the fixed 8-byte identifier at boot-sector offset 3.
const OEMID = "NTFS    "

// BootSectorSize is the size of the boot sector (one sector, though the
// BPB fields this engine reads all fall within the first 512 bytes).
const BootSectorSize = 512

// BootSector is the decoded NTFS BPB plus extended BPB.
type BootSector struct {
	OEMID              [8]byte
	BytesPerSector     uint16
	SectorsPerCluster  uint8
	ReservedSectors    uint16
	MediaDescriptor    uint8
	SectorsPerTrack    uint16
	NumberOfHeads      uint16
	HiddenSectors      uint32
	TotalSectors       uint64
	MFTLCN             uint64
	MFTMirrLCN         uint64
	ClustersPerMFTRec  int8 // negative means 2^-n bytes
	ClustersPerIdxRec  int8
	VolumeSerial       uint64
	Signature          uint16
}

// Decode parses a 512-byte NTFS boot sector.
func Decode(buf []byte) (*BootSector, error) {
	if len(buf) < BootSectorSize {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.Decode", "boot sector buffer too short")
	}
	bs := &BootSector{
		BytesPerSector:    checksum.LE16(buf, 0x0B),
		SectorsPerCluster: buf[0x0D],
		ReservedSectors:   checksum.LE16(buf, 0x0E),
		MediaDescriptor:   buf[0x15],
		SectorsPerTrack:   checksum.LE16(buf, 0x18),
		NumberOfHeads:     checksum.LE16(buf, 0x1A),
		HiddenSectors:     checksum.LE32(buf, 0x1C),
		TotalSectors:      checksum.LE64(buf, 0x28),
		MFTLCN:            checksum.LE64(buf, 0x30),
		MFTMirrLCN:        checksum.LE64(buf, 0x38),
		ClustersPerMFTRec: int8(buf[0x40]),
		ClustersPerIdxRec: int8(buf[0x44]),
		VolumeSerial:      checksum.LE64(buf, 0x48),
		Signature:         checksum.LE16(buf, 0x1FE),
	}
	copy(bs.OEMID[:], buf[3:11])

	if string(bs.OEMID[:]) != OEMID {
		return nil, fsops.New(fsops.KindNotAFilesystem, "ntfs.Decode", "bad OEM ID")
	}
	if bs.Signature != 0xAA55 {
		return nil, fsops.New(fsops.KindNotAFilesystem, "ntfs.Decode", "bad boot sector signature")
	}
	return bs, nil
}

// Encode serializes bs into a fresh 512-byte boot sector, leaving the
// jump instruction and boot code region zeroed (the formatter fills in a
// minimal jump/halt sequence separately).
func Encode(bs *BootSector) []byte {
	buf := make([]byte, BootSectorSize)
	copy(buf[3:11], []byte(OEMID))
	checksum.PutLE16(buf, 0x0B, bs.BytesPerSector)
	buf[0x0D] = bs.SectorsPerCluster
	checksum.PutLE16(buf, 0x0E, bs.ReservedSectors)
	buf[0x15] = bs.MediaDescriptor
	checksum.PutLE16(buf, 0x18, bs.SectorsPerTrack)
	checksum.PutLE16(buf, 0x1A, bs.NumberOfHeads)
	checksum.PutLE32(buf, 0x1C, bs.HiddenSectors)
	checksum.PutLE64(buf, 0x28, bs.TotalSectors)
	checksum.PutLE64(buf, 0x30, bs.MFTLCN)
	checksum.PutLE64(buf, 0x38, bs.MFTMirrLCN)
	buf[0x40] = byte(bs.ClustersPerMFTRec)
	buf[0x44] = byte(bs.ClustersPerIdxRec)
	checksum.PutLE64(buf, 0x48, bs.VolumeSerial)
	checksum.PutLE16(buf, 0x1FE, 0xAA55)
	return buf
}

// ClusterSize returns the cluster size in bytes.
func (bs *BootSector) ClusterSize() uint64 {
	return uint64(bs.BytesPerSector) * uint64(bs.SectorsPerCluster)
}

// MFTRecordSize returns the size of one MFT record in bytes, per the
// boot sector's clusters_per_mft_record field: positive values are a
// cluster count, negative values are interpreted as 2^-n bytes.
func (bs *BootSector) MFTRecordSize() uint64 {
	if bs.ClustersPerMFTRec >= 0 {
		return uint64(bs.ClustersPerMFTRec) * bs.ClusterSize()
	}
	return uint64(1) << uint(-bs.ClustersPerMFTRec)
}

// IndexRecordSize returns the size of one index-allocation record.
func (bs *BootSector) IndexRecordSize() uint64 {
	if bs.ClustersPerIdxRec >= 0 {
		return uint64(bs.ClustersPerIdxRec) * bs.ClusterSize()
	}
	return uint64(1) << uint(-bs.ClustersPerIdxRec)
}

// VolumeSize returns the total volume size in bytes.
func (bs *BootSector) VolumeSize() uint64 {
	return bs.TotalSectors * uint64(bs.BytesPerSector)
}
