package alloc

import (
	"errors"

	"github.com/dsyntax/diskfsd/internal/checksum"
)

// ExtentMagic is the magic value stamping every ext4 extent header.
const ExtentMagic = 0xF30A

// ErrCorruptExtent is returned when an extent header/entry fails its
// structural invariants (bad magic, depth overflow, length out of range).
var ErrCorruptExtent = errors.New("alloc: corrupt extent tree node")

// ExtentHeader is the 12-byte header preceding every ext4 extent block,
// including the 60-byte i_block inline root.
type ExtentHeader struct {
	Magic      uint16
	Entries    uint16
	Max        uint16
	Depth      uint16
	Generation uint32
}

// ExtentLeaf maps a contiguous logical block range to a contiguous physical
// range (depth == 0 entries).
type ExtentLeaf struct {
	LogicalBlock uint32
	Length       uint16 // high bit set means uninitialized extent
	PhysicalHi   uint16
	PhysicalLo   uint32
}

// PhysicalBlock returns the 48-bit physical start block.
func (e ExtentLeaf) PhysicalBlock() uint64 {
	return uint64(e.PhysicalHi)<<32 | uint64(e.PhysicalLo)
}

// Initialized reports whether this leaf describes written (vs. preallocated
// uninitialized) blocks; an uninitialized extent stores length with its top
// bit set and the true length capped at 32768 blocks.
func (e ExtentLeaf) Initialized() bool {
	return e.Length <= 32768
}

// RealLength returns the actual block count regardless of the
// initialized/uninitialized encoding.
func (e ExtentLeaf) RealLength() uint16 {
	if e.Length > 32768 {
		return e.Length - 32768
	}
	return e.Length
}

// ExtentIndex is an internal-node entry pointing at a child extent block.
type ExtentIndex struct {
	LogicalBlock uint32
	ChildLo      uint32
	ChildHi      uint16
}

// ChildBlock returns the 48-bit physical block of the child extent node.
func (i ExtentIndex) ChildBlock() uint64 {
	return uint64(i.ChildHi)<<32 | uint64(i.ChildLo)
}

const (
	extentHeaderSize = 12
	extentEntrySize  = 12
	// MaxExtentDepth bounds extent-tree depth; depth beyond this is treated
	// as corruption in the ext4 extent walk state machine.
	MaxExtentDepth = 5
)

// DecodeExtentHeader parses the 12-byte header at the start of buf.
func DecodeExtentHeader(buf []byte) (ExtentHeader, error) {
	if len(buf) < extentHeaderSize {
		return ExtentHeader{}, ErrCorruptExtent
	}
	h := ExtentHeader{
		Magic:      checksum.LE16(buf, 0),
		Entries:    checksum.LE16(buf, 2),
		Max:        checksum.LE16(buf, 4),
		Depth:      checksum.LE16(buf, 6),
		Generation: checksum.LE32(buf, 8),
	}
	if h.Magic != ExtentMagic {
		return h, ErrCorruptExtent
	}
	if h.Depth > MaxExtentDepth {
		return h, ErrCorruptExtent
	}
	return h, nil
}

// EncodeExtentHeader writes h into buf[0:12].
func EncodeExtentHeader(buf []byte, h ExtentHeader) {
	checksum.PutLE16(buf, 0, h.Magic)
	checksum.PutLE16(buf, 2, h.Entries)
	checksum.PutLE16(buf, 4, h.Max)
	checksum.PutLE16(buf, 6, h.Depth)
	checksum.PutLE32(buf, 8, h.Generation)
}

// DecodeExtentLeaves decodes h.Entries leaf entries following the header at
// buf[12:].
func DecodeExtentLeaves(buf []byte, h ExtentHeader) ([]ExtentLeaf, error) {
	out := make([]ExtentLeaf, 0, h.Entries)
	for i := uint16(0); i < h.Entries; i++ {
		off := extentHeaderSize + int(i)*extentEntrySize
		if off+extentEntrySize > len(buf) {
			return nil, ErrCorruptExtent
		}
		out = append(out, ExtentLeaf{
			LogicalBlock: checksum.LE32(buf, off),
			Length:       checksum.LE16(buf, off+4),
			PhysicalHi:   checksum.LE16(buf, off+6),
			PhysicalLo:   checksum.LE32(buf, off+8),
		})
	}
	return out, nil
}

// EncodeExtentLeaf writes a single leaf entry at buf[off:off+12].
func EncodeExtentLeaf(buf []byte, off int, e ExtentLeaf) {
	checksum.PutLE32(buf, off, e.LogicalBlock)
	checksum.PutLE16(buf, off+4, e.Length)
	checksum.PutLE16(buf, off+6, e.PhysicalHi)
	checksum.PutLE32(buf, off+8, e.PhysicalLo)
}

// DecodeExtentIndexes decodes h.Entries internal-node entries following the
// header at buf[12:].
func DecodeExtentIndexes(buf []byte, h ExtentHeader) ([]ExtentIndex, error) {
	out := make([]ExtentIndex, 0, h.Entries)
	for i := uint16(0); i < h.Entries; i++ {
		off := extentHeaderSize + int(i)*extentEntrySize
		if off+extentEntrySize > len(buf) {
			return nil, ErrCorruptExtent
		}
		out = append(out, ExtentIndex{
			LogicalBlock: checksum.LE32(buf, off),
			ChildLo:      checksum.LE32(buf, off+4),
			ChildHi:      checksum.LE16(buf, off+8),
		})
	}
	return out, nil
}

// EncodeExtentIndex writes a single internal-node entry at buf[off:off+12].
func EncodeExtentIndex(buf []byte, off int, idx ExtentIndex) {
	checksum.PutLE32(buf, off, idx.LogicalBlock)
	checksum.PutLE32(buf, off+4, idx.ChildLo)
	checksum.PutLE16(buf, off+8, idx.ChildHi)
	checksum.PutLE16(buf, off+10, 0) // unused padding field
}
