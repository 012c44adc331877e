// Package fatfs implements the FAT12/16/32 and exFAT engines.
package fatfs

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

const (
	BootSectorSize = 512
	signature      = 0xAA55

	// FAT chain end-of-cluster and bad-cluster markers, one per entry width.
	fat12Bad = 0x0FF7
	fat12EOC = 0x0FF8
	fat16Bad = 0xFFF7
	fat16EOC = 0xFFF8
	fat32Bad = 0x0FFFFFF7
	fat32EOC = 0x0FFFFFF8

	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLongName = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	deletedFlag = 0xE5
)

// BootSector is the decoded BIOS Parameter Block shared by FAT12/16/32,
// a full read/write representation of the on-disk BPB.
type BootSector struct {
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32

	// FAT32 only.
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16

	DriveNumber uint8
	BootSig     uint8
	VolumeID    uint32
	VolumeLabel [11]byte
	FSType      [8]byte
}

// IsFAT32 reports whether the boot sector lays out the FAT32 extended BPB,
// i.e. FATSize16 is zero and the 32-bit FATSize32 field carries it instead.
func (b *BootSector) IsFAT32() bool {
	return b.FATSize16 == 0
}

// TotalSectors returns the effective sector count, preferring the 32-bit
// field when the 16-bit one is zero.
func (b *BootSector) TotalSectors() uint64 {
	if b.TotalSectors16 != 0 {
		return uint64(b.TotalSectors16)
	}
	return uint64(b.TotalSectors32)
}

// FATSize returns the effective sectors-per-FAT count.
func (b *BootSector) FATSize() uint64 {
	if b.FATSize16 != 0 {
		return uint64(b.FATSize16)
	}
	return uint64(b.FATSize32)
}

// RootDirSectors returns the sector count of the fixed-size FAT12/16 root
// directory region (zero on FAT32, where the root directory is an ordinary
// cluster chain rooted at RootCluster).
func (b *BootSector) RootDirSectors() uint64 {
	bytesPerSector := uint64(b.BytesPerSector)
	if bytesPerSector == 0 {
		return 0
	}
	return (uint64(b.RootEntryCount)*32 + bytesPerSector - 1) / bytesPerSector
}

// clusterCount returns the data-region cluster count, computed with the
// formula that subtracts the FAT region from data sectors before dividing
// by cluster size.
func (b *BootSector) clusterCount() uint64 {
	if b.SectorsPerCluster == 0 {
		return 0
	}
	reservedSectors := uint64(b.ReservedSectors)
	fatSectors := uint64(b.NumFATs) * b.FATSize()
	rootDirSectors := b.RootDirSectors()
	dataSectors := b.TotalSectors() - reservedSectors - fatSectors - rootDirSectors
	return dataSectors / uint64(b.SectorsPerCluster)
}

// Family classifies the boot sector into FAT12/16/32 purely from the
// cluster-count thresholds; the on-disk FSType string is written but
// never consulted here, since it is informational only and not
// authoritative for any reader.
func (b *BootSector) Family() fsops.Family {
	switch n := b.clusterCount(); {
	case n < 4085:
		return fsops.FamilyFAT12
	case n <= 65524:
		return fsops.FamilyFAT16
	default:
		return fsops.FamilyFAT32
	}
}

// entryWidth returns the width in bytes of one FAT table entry for the
// given family; FAT12's 1.5-byte entries are handled by the caller as a
// nibble-packed pair, reported here as 0 to flag the special case.
func entryWidth(fam fsops.Family) int {
	switch fam {
	case fsops.FamilyFAT16:
		return 2
	case fsops.FamilyFAT32:
		return 4
	default:
		return 0
	}
}

func eocThreshold(fam fsops.Family) uint32 {
	switch fam {
	case fsops.FamilyFAT16:
		return fat16EOC
	case fsops.FamilyFAT32:
		return fat32EOC
	default:
		return fat12EOC
	}
}

func badClusterMarker(fam fsops.Family) uint32 {
	switch fam {
	case fsops.FamilyFAT16:
		return fat16Bad
	case fsops.FamilyFAT32:
		return fat32Bad
	default:
		return fat12Bad
	}
}

// DecodeBootSector parses a BootSectorSize-byte boot sector, validating
// the 0xAA55 signature.
func DecodeBootSector(buf []byte) (*BootSector, error) {
	if len(buf) < BootSectorSize {
		return nil, fsops.New(fsops.KindNotAFilesystem, "fatfs.Decode", "boot sector too short")
	}
	if checksum.LE16(buf, 0x1FE) != signature {
		return nil, fsops.New(fsops.KindNotAFilesystem, "fatfs.Decode", "bad boot sector signature")
	}

	b := &BootSector{}
	copy(b.OEMName[:], buf[0x03:0x0B])
	b.BytesPerSector = checksum.LE16(buf, 0x0B)
	b.SectorsPerCluster = buf[0x0D]
	b.ReservedSectors = checksum.LE16(buf, 0x0E)
	b.NumFATs = buf[0x10]
	b.RootEntryCount = checksum.LE16(buf, 0x11)
	b.TotalSectors16 = checksum.LE16(buf, 0x13)
	b.Media = buf[0x15]
	b.FATSize16 = checksum.LE16(buf, 0x16)
	b.SectorsPerTrack = checksum.LE16(buf, 0x18)
	b.NumHeads = checksum.LE16(buf, 0x1A)
	b.HiddenSectors = checksum.LE32(buf, 0x1C)
	b.TotalSectors32 = checksum.LE32(buf, 0x20)

	if b.IsFAT32() {
		b.FATSize32 = checksum.LE32(buf, 0x24)
		b.ExtFlags = checksum.LE16(buf, 0x28)
		b.FSVersion = checksum.LE16(buf, 0x2A)
		b.RootCluster = checksum.LE32(buf, 0x2C)
		b.FSInfoSector = checksum.LE16(buf, 0x30)
		b.BackupBootSector = checksum.LE16(buf, 0x32)
		b.DriveNumber = buf[0x40]
		b.BootSig = buf[0x42]
		b.VolumeID = checksum.LE32(buf, 0x43)
		copy(b.VolumeLabel[:], buf[0x47:0x52])
		copy(b.FSType[:], buf[0x52:0x5A])
	} else {
		b.DriveNumber = buf[0x24]
		b.BootSig = buf[0x26]
		b.VolumeID = checksum.LE32(buf, 0x27)
		copy(b.VolumeLabel[:], buf[0x2B:0x36])
		copy(b.FSType[:], buf[0x36:0x3E])
	}
	return b, nil
}

// EncodeBootSector serializes b into a fresh BootSectorSize-byte sector,
// for the formatter's write path.
func EncodeBootSector(b *BootSector) []byte {
	buf := make([]byte, BootSectorSize)
	buf[0x00], buf[0x01], buf[0x02] = 0xEB, 0x3C, 0x90 // short jump + nop, conventional
	copy(buf[0x03:0x0B], b.OEMName[:])
	checksum.PutLE16(buf, 0x0B, b.BytesPerSector)
	buf[0x0D] = b.SectorsPerCluster
	checksum.PutLE16(buf, 0x0E, b.ReservedSectors)
	buf[0x10] = b.NumFATs
	checksum.PutLE16(buf, 0x11, b.RootEntryCount)
	checksum.PutLE16(buf, 0x13, b.TotalSectors16)
	buf[0x15] = b.Media
	checksum.PutLE16(buf, 0x16, b.FATSize16)
	checksum.PutLE16(buf, 0x18, b.SectorsPerTrack)
	checksum.PutLE16(buf, 0x1A, b.NumHeads)
	checksum.PutLE32(buf, 0x1C, b.HiddenSectors)
	checksum.PutLE32(buf, 0x20, b.TotalSectors32)

	if b.IsFAT32() {
		checksum.PutLE32(buf, 0x24, b.FATSize32)
		checksum.PutLE16(buf, 0x28, b.ExtFlags)
		checksum.PutLE16(buf, 0x2A, b.FSVersion)
		checksum.PutLE32(buf, 0x2C, b.RootCluster)
		checksum.PutLE16(buf, 0x30, b.FSInfoSector)
		checksum.PutLE16(buf, 0x32, b.BackupBootSector)
		buf[0x40] = b.DriveNumber
		buf[0x42] = b.BootSig
		checksum.PutLE32(buf, 0x43, b.VolumeID)
		copy(buf[0x47:0x52], b.VolumeLabel[:])
		copy(buf[0x52:0x5A], b.FSType[:])
	} else {
		buf[0x24] = b.DriveNumber
		buf[0x26] = b.BootSig
		checksum.PutLE32(buf, 0x27, b.VolumeID)
		copy(buf[0x2B:0x36], b.VolumeLabel[:])
		copy(buf[0x36:0x3E], b.FSType[:])
	}
	checksum.PutLE16(buf, 0x1FE, signature)
	return buf
}
