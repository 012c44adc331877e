package ext4

import "github.com/dsyntax/diskfsd/internal/checksum"

// GroupDesc is a decoded block-group descriptor, in its 64-bit form; the
// Hi fields read as zero when the filesystem uses the classic 32-byte
// descriptor (grounded on diskfs-go-diskfs's ext4 inode/group-descriptor
// field layout).
type GroupDesc struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	Flags             uint16
	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	FreeBlocksCountHi uint16
	FreeInodesCountHi uint16
	UsedDirsCountHi   uint16
	ItableUnusedLo    uint16
	Checksum          uint16
	ItableUnusedHi    uint16
}

// DecodeGroupDesc parses one group-descriptor record of the given size
// (32 or 64 bytes, per Superblock.GroupDescSize).
func DecodeGroupDesc(buf []byte, size uint16) GroupDesc {
	gd := GroupDesc{
		BlockBitmapLo:     checksum.LE32(buf, 0),
		InodeBitmapLo:     checksum.LE32(buf, 4),
		InodeTableLo:      checksum.LE32(buf, 8),
		FreeBlocksCountLo: checksum.LE16(buf, 12),
		FreeInodesCountLo: checksum.LE16(buf, 14),
		UsedDirsCountLo:   checksum.LE16(buf, 16),
		Flags:             checksum.LE16(buf, 18),
		ItableUnusedLo:    checksum.LE16(buf, 28),
		Checksum:          checksum.LE16(buf, 30),
	}
	if size >= 64 {
		gd.BlockBitmapHi = checksum.LE32(buf, 32)
		gd.InodeBitmapHi = checksum.LE32(buf, 36)
		gd.InodeTableHi = checksum.LE32(buf, 40)
		gd.FreeBlocksCountHi = checksum.LE16(buf, 44)
		gd.FreeInodesCountHi = checksum.LE16(buf, 46)
		gd.UsedDirsCountHi = checksum.LE16(buf, 48)
		gd.ItableUnusedHi = checksum.LE16(buf, 50)
	}
	return gd
}

// EncodeGroupDesc serializes gd into a record of the given size.
func EncodeGroupDesc(gd GroupDesc, size uint16) []byte {
	buf := make([]byte, size)
	checksum.PutLE32(buf, 0, gd.BlockBitmapLo)
	checksum.PutLE32(buf, 4, gd.InodeBitmapLo)
	checksum.PutLE32(buf, 8, gd.InodeTableLo)
	checksum.PutLE16(buf, 12, gd.FreeBlocksCountLo)
	checksum.PutLE16(buf, 14, gd.FreeInodesCountLo)
	checksum.PutLE16(buf, 16, gd.UsedDirsCountLo)
	checksum.PutLE16(buf, 18, gd.Flags)
	checksum.PutLE16(buf, 28, gd.ItableUnusedLo)
	checksum.PutLE16(buf, 30, gd.Checksum)
	if size >= 64 {
		checksum.PutLE32(buf, 32, gd.BlockBitmapHi)
		checksum.PutLE32(buf, 36, gd.InodeBitmapHi)
		checksum.PutLE32(buf, 40, gd.InodeTableHi)
		checksum.PutLE16(buf, 44, gd.FreeBlocksCountHi)
		checksum.PutLE16(buf, 46, gd.FreeInodesCountHi)
		checksum.PutLE16(buf, 48, gd.UsedDirsCountHi)
		checksum.PutLE16(buf, 50, gd.ItableUnusedHi)
	}
	return buf
}

// BlockBitmap returns the 64-bit block-bitmap block number.
func (gd GroupDesc) BlockBitmap() uint64 {
	return uint64(gd.BlockBitmapHi)<<32 | uint64(gd.BlockBitmapLo)
}

// InodeBitmap returns the 64-bit inode-bitmap block number.
func (gd GroupDesc) InodeBitmap() uint64 {
	return uint64(gd.InodeBitmapHi)<<32 | uint64(gd.InodeBitmapLo)
}

// InodeTable returns the 64-bit inode-table starting block number.
func (gd GroupDesc) InodeTable() uint64 {
	return uint64(gd.InodeTableHi)<<32 | uint64(gd.InodeTableLo)
}

// FreeBlocksCount returns the 64-bit free-block count for the group.
func (gd GroupDesc) FreeBlocksCount() uint64 {
	return uint64(gd.FreeBlocksCountHi)<<32 | uint64(gd.FreeBlocksCountLo)
}

// FreeInodesCount returns the 64-bit free-inode count for the group.
func (gd GroupDesc) FreeInodesCount() uint64 {
	return uint64(gd.FreeInodesCountHi)<<32 | uint64(gd.FreeInodesCountLo)
}

// IsSparseSuperBackupGroup reports whether group carries a backup
// superblock/GDT copy under the sparse_super layout: group 0, group 1,
// and powers of 3, 5, 7.
func IsSparseSuperBackupGroup(group uint32) bool {
	if group == 0 || group == 1 {
		return true
	}
	for _, base := range []uint32{3, 5, 7} {
		p := base
		for p <= group {
			if p == group {
				return true
			}
			p *= base
		}
	}
	return false
}
