// Package ext4 implements the ext2/ext3/ext4 engine (C4): superblock,
// block-group descriptors, inode table lookup, extent tree and classic
// direct/indirect block mapping, directory entries, and the FilesystemOps
// contract over them.
package ext4

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// Magic is the superblock signature, stored at offset 56 within the
// superblock (device byte offset 1080).
const Magic = 0xEF53

// SuperblockOffset is the fixed byte offset of the superblock on the device.
const SuperblockOffset = 1024

// SuperblockSize is the on-disk superblock record size.
const SuperblockSize = 1024

// Feature flags (s_feature_compat).
const (
	FeatureCompatDirPrealloc  = 0x0001
	FeatureCompatImagicInodes = 0x0002
	FeatureCompatHasJournal   = 0x0004
	FeatureCompatExtAttr      = 0x0008
	FeatureCompatResizeInode  = 0x0010
	FeatureCompatDirIndex     = 0x0020
	FeatureCompatSparseSuper2 = 0x0200
)

// Feature flags (s_feature_incompat).
const (
	FeatureIncompatCompression = 0x0001
	FeatureIncompatFiletype    = 0x0002
	FeatureIncompatRecover     = 0x0004
	FeatureIncompatJournalDev  = 0x0008
	FeatureIncompatMetaBg      = 0x0010
	FeatureIncompatExtents     = 0x0040
	FeatureIncompatBit64       = 0x0080
	FeatureIncompatMmp         = 0x0100
	FeatureIncompatFlexBg      = 0x0200
	FeatureIncompatEaInode     = 0x0400
	FeatureIncompatCsumSeed    = 0x2000
	FeatureIncompatLargedir    = 0x4000
	FeatureIncompatInlineData  = 0x8000
)

// Feature flags (s_feature_ro_compat).
const (
	FeatureRoCompatSparseSuper = 0x0001
	FeatureRoCompatLargeFile   = 0x0002
	FeatureRoCompatGdtCsum     = 0x0010
	FeatureRoCompatDirNlink    = 0x0020
	FeatureRoCompatExtraIsize  = 0x0040
	FeatureRoCompatQuota       = 0x0100
	FeatureRoCompatBigalloc    = 0x0200
	FeatureRoCompatMetadataCsum = 0x0400
	FeatureRoCompatReadonly    = 0x1000
	FeatureRoCompatProject     = 0x2000
)

// Superblock is the decoded ext2/3/4 superblock. Field layout and
// offsets are grounded on the published
// ext4 on-disk format reproduced in the masahiro331/go-ext4-filesystem
// and trustelem/diskfs Superblock structs.
type Superblock struct {
	InodeCount          uint32
	BlockCountLo        uint32
	RBlockCountLo       uint32
	FreeBlockCountLo    uint32
	FreeInodeCount      uint32
	FirstDataBlock      uint32
	LogBlockSize        uint32
	LogClusterSize      uint32
	BlockPerGroup       uint32
	ClusterPerGroup     uint32
	InodePerGroup       uint32
	Mtime               uint32
	Wtime               uint32
	MntCount            uint16
	MaxMntCount         uint16
	Magic               uint16
	State               uint16
	Errors              uint16
	MinorRevLevel       uint16
	Lastcheck           uint32
	Checkinterval       uint32
	CreatorOS           uint32
	RevLevel            uint32
	DefResuid           uint16
	DefResgid           uint16
	FirstIno            uint32
	InodeSize           uint16
	BlockGroupNr        uint16
	FeatureCompat       uint32
	FeatureIncompat     uint32
	FeatureRoCompat     uint32
	UUID                [16]byte
	VolumeName          [16]byte
	LastMounted         [64]byte
	ReservedGdtBlocks   uint16
	DescSize            uint16
	BlockCountHi        uint32
	RBlockCountHi       uint32
	FreeBlockCountHi    uint32
	MinExtraIsize       uint16
	WantExtraIsize      uint16
	Flags               uint32
	LogGroupPerFlex     byte
	ChecksumType        byte
	ChecksumSeed        uint32
	Checksum            uint32
}

// Decode parses a 1024-byte superblock record from buf[0:1024].
func Decode(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockSize {
		return nil, fsops.New(fsops.KindCorruption, "ext4.Decode", "superblock buffer too short")
	}
	sb := &Superblock{
		InodeCount:       checksum.LE32(buf, 0),
		BlockCountLo:     checksum.LE32(buf, 4),
		RBlockCountLo:    checksum.LE32(buf, 8),
		FreeBlockCountLo: checksum.LE32(buf, 12),
		FreeInodeCount:   checksum.LE32(buf, 16),
		FirstDataBlock:   checksum.LE32(buf, 20),
		LogBlockSize:     checksum.LE32(buf, 24),
		LogClusterSize:   checksum.LE32(buf, 28),
		BlockPerGroup:    checksum.LE32(buf, 32),
		ClusterPerGroup:  checksum.LE32(buf, 36),
		InodePerGroup:    checksum.LE32(buf, 40),
		Mtime:            checksum.LE32(buf, 44),
		Wtime:            checksum.LE32(buf, 48),
		MntCount:         checksum.LE16(buf, 52),
		MaxMntCount:      checksum.LE16(buf, 54),
		Magic:            checksum.LE16(buf, 56),
		State:            checksum.LE16(buf, 58),
		Errors:           checksum.LE16(buf, 60),
		MinorRevLevel:    checksum.LE16(buf, 62),
		Lastcheck:        checksum.LE32(buf, 64),
		Checkinterval:    checksum.LE32(buf, 68),
		CreatorOS:        checksum.LE32(buf, 72),
		RevLevel:         checksum.LE32(buf, 76),
		DefResuid:        checksum.LE16(buf, 80),
		DefResgid:        checksum.LE16(buf, 82),
		FirstIno:         checksum.LE32(buf, 84),
		InodeSize:        checksum.LE16(buf, 88),
		BlockGroupNr:     checksum.LE16(buf, 90),
		FeatureCompat:    checksum.LE32(buf, 92),
		FeatureIncompat:  checksum.LE32(buf, 96),
		FeatureRoCompat:  checksum.LE32(buf, 100),
		ReservedGdtBlocks: checksum.LE16(buf, 206),
		DescSize:          checksum.LE16(buf, 254),
		BlockCountHi:      checksum.LE32(buf, 336),
		RBlockCountHi:     checksum.LE32(buf, 340),
		FreeBlockCountHi:  checksum.LE32(buf, 344),
		MinExtraIsize:     checksum.LE16(buf, 348),
		WantExtraIsize:    checksum.LE16(buf, 350),
		Flags:             checksum.LE32(buf, 352),
		LogGroupPerFlex:   buf[372],
		ChecksumType:      buf[373],
		ChecksumSeed:      checksum.LE32(buf, 624),
		Checksum:          checksum.LE32(buf, 1020),
	}
	copy(sb.UUID[:], buf[104:120])
	copy(sb.VolumeName[:], buf[120:136])
	copy(sb.LastMounted[:], buf[136:200])

	if sb.Magic != Magic {
		return nil, fsops.New(fsops.KindNotAFilesystem, "ext4.Decode", "bad superblock magic")
	}
	return sb, nil
}

// Encode serializes sb into a fresh 1024-byte superblock record.
func Encode(sb *Superblock) []byte {
	buf := make([]byte, SuperblockSize)
	checksum.PutLE32(buf, 0, sb.InodeCount)
	checksum.PutLE32(buf, 4, sb.BlockCountLo)
	checksum.PutLE32(buf, 8, sb.RBlockCountLo)
	checksum.PutLE32(buf, 12, sb.FreeBlockCountLo)
	checksum.PutLE32(buf, 16, sb.FreeInodeCount)
	checksum.PutLE32(buf, 20, sb.FirstDataBlock)
	checksum.PutLE32(buf, 24, sb.LogBlockSize)
	checksum.PutLE32(buf, 28, sb.LogClusterSize)
	checksum.PutLE32(buf, 32, sb.BlockPerGroup)
	checksum.PutLE32(buf, 36, sb.ClusterPerGroup)
	checksum.PutLE32(buf, 40, sb.InodePerGroup)
	checksum.PutLE32(buf, 44, sb.Mtime)
	checksum.PutLE32(buf, 48, sb.Wtime)
	checksum.PutLE16(buf, 52, sb.MntCount)
	checksum.PutLE16(buf, 54, sb.MaxMntCount)
	checksum.PutLE16(buf, 56, Magic)
	checksum.PutLE16(buf, 58, sb.State)
	checksum.PutLE16(buf, 60, sb.Errors)
	checksum.PutLE16(buf, 62, sb.MinorRevLevel)
	checksum.PutLE32(buf, 64, sb.Lastcheck)
	checksum.PutLE32(buf, 68, sb.Checkinterval)
	checksum.PutLE32(buf, 72, sb.CreatorOS)
	checksum.PutLE32(buf, 76, sb.RevLevel)
	checksum.PutLE16(buf, 80, sb.DefResuid)
	checksum.PutLE16(buf, 82, sb.DefResgid)
	checksum.PutLE32(buf, 84, sb.FirstIno)
	checksum.PutLE16(buf, 88, sb.InodeSize)
	checksum.PutLE16(buf, 90, sb.BlockGroupNr)
	checksum.PutLE32(buf, 92, sb.FeatureCompat)
	checksum.PutLE32(buf, 96, sb.FeatureIncompat)
	checksum.PutLE32(buf, 100, sb.FeatureRoCompat)
	copy(buf[104:120], sb.UUID[:])
	copy(buf[120:136], sb.VolumeName[:])
	copy(buf[136:200], sb.LastMounted[:])
	checksum.PutLE16(buf, 206, sb.ReservedGdtBlocks)
	checksum.PutLE16(buf, 254, sb.DescSize)
	checksum.PutLE32(buf, 336, sb.BlockCountHi)
	checksum.PutLE32(buf, 340, sb.RBlockCountHi)
	checksum.PutLE32(buf, 344, sb.FreeBlockCountHi)
	checksum.PutLE16(buf, 348, sb.MinExtraIsize)
	checksum.PutLE16(buf, 350, sb.WantExtraIsize)
	checksum.PutLE32(buf, 352, sb.Flags)
	buf[372] = sb.LogGroupPerFlex
	buf[373] = sb.ChecksumType
	checksum.PutLE32(buf, 624, sb.ChecksumSeed)

	if sb.HasMetadataCsum() {
		csum := SuperblockChecksum(sb.UUID, buf)
		checksum.PutLE32(buf, 1020, csum)
	}
	return buf
}

func (sb *Superblock) Has64Bit() bool {
	return sb.FeatureIncompat&FeatureIncompatBit64 != 0
}

func (sb *Superblock) HasExtents() bool {
	return sb.FeatureIncompat&FeatureIncompatExtents != 0
}

func (sb *Superblock) HasFiletype() bool {
	return sb.FeatureIncompat&FeatureIncompatFiletype != 0
}

func (sb *Superblock) HasFlexBg() bool {
	return sb.FeatureIncompat&FeatureIncompatFlexBg != 0
}

func (sb *Superblock) HasJournal() bool {
	return sb.FeatureCompat&FeatureCompatHasJournal != 0
}

func (sb *Superblock) HasGdtCsum() bool {
	return sb.FeatureRoCompat&FeatureRoCompatGdtCsum != 0
}

func (sb *Superblock) HasMetadataCsum() bool {
	return sb.FeatureRoCompat&FeatureRoCompatMetadataCsum != 0
}

func (sb *Superblock) HasSparseSuper() bool {
	return sb.FeatureRoCompat&FeatureRoCompatSparseSuper != 0
}

// BlockSize returns the filesystem's block size in bytes:
// log_block_size = log2(block_size) - 10.
func (sb *Superblock) BlockSize() uint64 {
	return 1024 << sb.LogBlockSize
}

// BlockCount returns the total block count, folding in the high 32 bits
// when the 64bit feature is set.
func (sb *Superblock) BlockCount() uint64 {
	if sb.Has64Bit() {
		return uint64(sb.BlockCountHi)<<32 | uint64(sb.BlockCountLo)
	}
	return uint64(sb.BlockCountLo)
}

// FreeBlockCount returns the free block count, 64-bit aware.
func (sb *Superblock) FreeBlockCount() uint64 {
	if sb.Has64Bit() {
		return uint64(sb.FreeBlockCountHi)<<32 | uint64(sb.FreeBlockCountLo)
	}
	return uint64(sb.FreeBlockCountLo)
}

// GroupCount returns the number of block groups the filesystem is divided
// into, rounding up.
func (sb *Superblock) GroupCount() uint32 {
	if sb.BlockPerGroup == 0 {
		return 0
	}
	total := sb.BlockCount() - uint64(sb.FirstDataBlock)
	return uint32((total + uint64(sb.BlockPerGroup) - 1) / uint64(sb.BlockPerGroup))
}

// GroupDescSize returns the on-disk size of one group descriptor record:
// 64 bytes when the 64bit feature is set and s_desc_size says so, else the
// classic 32-byte record.
func (sb *Superblock) GroupDescSize() uint16 {
	if sb.Has64Bit() && sb.DescSize >= 64 {
		return sb.DescSize
	}
	return 32
}

// VolumeLabel returns the NUL-trimmed volume name.
func (sb *Superblock) VolumeLabel() string {
	n := 0
	for n < len(sb.VolumeName) && sb.VolumeName[n] != 0 {
		n++
	}
	return string(sb.VolumeName[:n])
}
