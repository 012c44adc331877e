package ext4

import (
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// File-type bits stored in i_mode's top nibble.
const (
	modeFIFO    = 0x1000
	modeCharDev = 0x2000
	modeDir     = 0x4000
	modeBlkDev  = 0x6000
	modeRegular = 0x8000
	modeSymlink = 0xA000
	modeSocket  = 0xC000
)

// Inode flags (i_flags), the subset this engine inspects.
const (
	inodeFlagUsesExtents = 0x80000
	inodeFlagInlineData  = 0x10000000
)

// RootInode is the fixed inode number of the filesystem root directory.
const RootInode = 2

// Slot indexes into the classic (non-extent) 60-byte i_block area: 12
// direct pointers, 1 single/double/triple indirect pointer each.
const (
	directBlocks       = 12
	indirectBlockIdx   = 12
	doubleIndirectIdx  = 13
	tripleIndirectIdx  = 14
)

// Inode is the decoded portion of an ext2/3/4 on-disk inode record this
// engine needs: mode, ownership, size, timestamps, and the raw 60-byte
// i_block area (either an extent-tree inline root or classic block
// pointers, per HasExtents). Grounded on diskfs-go-diskfs's inode flag/
// mode constant layout.
type Inode struct {
	Mode       uint16
	UID        uint32
	SizeLo     uint32
	AccessTime uint32
	ChangeTime uint32
	ModifyTime uint32
	DeleteTime uint32
	GID        uint32
	LinksCount uint16
	BlocksLo   uint32
	Flags      uint32
	Block      [60]byte
	Generation uint32
	FileACL    uint32
	SizeHi     uint32
	ExtraIsize uint16
	ChecksumHi uint16
}

// DecodeInode parses one inode record (128 bytes minimum, larger when
// ExtraIsize extends it) from buf.
func DecodeInode(buf []byte) (*Inode, error) {
	if len(buf) < 128 {
		return nil, fsops.New(fsops.KindCorruption, "ext4.DecodeInode", "inode record too short")
	}
	in := &Inode{
		Mode:       checksum.LE16(buf, 0),
		UID:        uint32(checksum.LE16(buf, 2)),
		SizeLo:     checksum.LE32(buf, 4),
		AccessTime: checksum.LE32(buf, 8),
		ChangeTime: checksum.LE32(buf, 12),
		ModifyTime: checksum.LE32(buf, 16),
		DeleteTime: checksum.LE32(buf, 20),
		GID:        uint32(checksum.LE16(buf, 24)),
		LinksCount: checksum.LE16(buf, 26),
		BlocksLo:   checksum.LE32(buf, 28),
		Flags:      checksum.LE32(buf, 32),
		Generation: checksum.LE32(buf, 100),
		FileACL:    checksum.LE32(buf, 104),
		SizeHi:     checksum.LE32(buf, 108),
	}
	copy(in.Block[:], buf[40:100])
	if len(buf) >= 132 {
		in.ExtraIsize = checksum.LE16(buf, 128)
	}
	if len(buf) >= 132+2 {
		in.ChecksumHi = checksum.LE16(buf, 130)
	}
	return in, nil
}

// Encode serializes in into a record of the given inode size.
func Encode(in *Inode, inodeSize uint16) []byte {
	if inodeSize < 128 {
		inodeSize = 128
	}
	buf := make([]byte, inodeSize)
	checksum.PutLE16(buf, 0, in.Mode)
	checksum.PutLE16(buf, 2, uint16(in.UID))
	checksum.PutLE32(buf, 4, in.SizeLo)
	checksum.PutLE32(buf, 8, in.AccessTime)
	checksum.PutLE32(buf, 12, in.ChangeTime)
	checksum.PutLE32(buf, 16, in.ModifyTime)
	checksum.PutLE32(buf, 20, in.DeleteTime)
	checksum.PutLE16(buf, 24, uint16(in.GID))
	checksum.PutLE16(buf, 26, in.LinksCount)
	checksum.PutLE32(buf, 28, in.BlocksLo)
	checksum.PutLE32(buf, 32, in.Flags)
	copy(buf[40:100], in.Block[:])
	checksum.PutLE32(buf, 100, in.Generation)
	checksum.PutLE32(buf, 104, in.FileACL)
	checksum.PutLE32(buf, 108, in.SizeHi)
	if inodeSize >= 132 {
		checksum.PutLE16(buf, 128, in.ExtraIsize)
	}
	return buf
}

// Size returns the full 64-bit file size.
func (in *Inode) Size() uint64 {
	return uint64(in.SizeHi)<<32 | uint64(in.SizeLo)
}

// SetSize sets the 64-bit file size fields.
func (in *Inode) SetSize(size uint64) {
	in.SizeLo = uint32(size)
	in.SizeHi = uint32(size >> 32)
}

func (in *Inode) Kind() fsops.FileKind {
	switch in.Mode & 0xF000 {
	case modeDir:
		return fsops.KindDirectory
	case modeSymlink:
		return fsops.KindSymlink
	case modeRegular:
		return fsops.KindRegular
	default:
		return fsops.KindSpecial
	}
}

func (in *Inode) UsesExtents() bool {
	return in.Flags&inodeFlagUsesExtents != 0
}

func (in *Inode) HasInlineData() bool {
	return in.Flags&inodeFlagInlineData != 0
}

// Attributes converts the inode into the uniform fsops.FileAttributes.
func (in *Inode) Attributes() fsops.FileAttributes {
	return fsops.FileAttributes{
		Size:      in.Size(),
		Kind:      in.Kind(),
		Mode:      uint32(in.Mode & 0x0FFF),
		ModTime:   time.Unix(int64(in.ModifyTime), 0),
		AccTime:   time.Unix(int64(in.AccessTime), 0),
		ChgTime:   time.Unix(int64(in.ChangeTime), 0),
		Owner:     in.UID,
		Group:     in.GID,
		LinkCount: uint32(in.LinksCount),
	}
}

// DirectBlock returns the i'th direct block pointer (classic, non-extent
// inodes), i in [0,12).
func (in *Inode) DirectBlock(i int) uint32 {
	return checksum.LE32(in.Block[:], i*4)
}

// IndirectBlock returns the single-indirect block pointer.
func (in *Inode) IndirectBlock() uint32 {
	return checksum.LE32(in.Block[:], indirectBlockIdx*4)
}

// DoubleIndirectBlock returns the double-indirect block pointer.
func (in *Inode) DoubleIndirectBlock() uint32 {
	return checksum.LE32(in.Block[:], doubleIndirectIdx*4)
}

// TripleIndirectBlock returns the triple-indirect block pointer.
func (in *Inode) TripleIndirectBlock() uint32 {
	return checksum.LE32(in.Block[:], tripleIndirectIdx*4)
}

// SetDirectBlock writes the i'th direct block pointer.
func (in *Inode) SetDirectBlock(i int, block uint32) {
	checksum.PutLE32(in.Block[:], i*4, block)
}
