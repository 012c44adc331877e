package ntfs

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// MFT record header flags.
const (
	recordFlagInUse     = 0x0001
	recordFlagDirectory = 0x0002
)

// RootDirRecord is the fixed MFT record number of the root directory.
const RootDirRecord = 5

// MFTSignature is the normal record signature; BadSignature marks a
// record the USA fixup (or a prior write) has flagged as torn/corrupt.
const (
	MFTSignature = "FILE"
	BadSignature = "BAAD"
)

// MFTRecordHeader is the 48-byte header preceding every MFT record.
type MFTRecordHeader struct {
	Signature       [4]byte
	UsaOffset       uint16
	UsaCount        uint16
	LSN             uint64
	SequenceNumber  uint16
	LinkCount       uint16
	AttrsOffset     uint16
	Flags           uint16
	BytesUsed       uint32
	BytesAllocated  uint32
	BaseMFTRecord   uint64
	MFTRecordNumber uint32
}

// DecodeMFTRecordHeader parses the 48-byte header at buf[0:48].
func DecodeMFTRecordHeader(buf []byte) (*MFTRecordHeader, error) {
	if len(buf) < 48 {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.DecodeMFTRecordHeader", "record too short")
	}
	h := &MFTRecordHeader{
		UsaOffset:       checksum.LE16(buf, 0x04),
		UsaCount:        checksum.LE16(buf, 0x06),
		LSN:             checksum.LE64(buf, 0x08),
		SequenceNumber:  checksum.LE16(buf, 0x10),
		LinkCount:       checksum.LE16(buf, 0x12),
		AttrsOffset:     checksum.LE16(buf, 0x14),
		Flags:           checksum.LE16(buf, 0x16),
		BytesUsed:       checksum.LE32(buf, 0x18),
		BytesAllocated:  checksum.LE32(buf, 0x1C),
		BaseMFTRecord:   checksum.LE64(buf, 0x20),
		MFTRecordNumber: checksum.LE32(buf, 0x2C),
	}
	copy(h.Signature[:], buf[0:4])
	return h, nil
}

// EncodeMFTRecordHeader writes h into buf[0:48].
func EncodeMFTRecordHeader(buf []byte, h *MFTRecordHeader) {
	copy(buf[0:4], h.Signature[:])
	checksum.PutLE16(buf, 0x04, h.UsaOffset)
	checksum.PutLE16(buf, 0x06, h.UsaCount)
	checksum.PutLE64(buf, 0x08, h.LSN)
	checksum.PutLE16(buf, 0x10, h.SequenceNumber)
	checksum.PutLE16(buf, 0x12, h.LinkCount)
	checksum.PutLE16(buf, 0x14, h.AttrsOffset)
	checksum.PutLE16(buf, 0x16, h.Flags)
	checksum.PutLE32(buf, 0x18, h.BytesUsed)
	checksum.PutLE32(buf, 0x1C, h.BytesAllocated)
	checksum.PutLE64(buf, 0x20, h.BaseMFTRecord)
	checksum.PutLE32(buf, 0x2C, h.MFTRecordNumber)
}

func (h *MFTRecordHeader) InUse() bool     { return h.Flags&recordFlagInUse != 0 }
func (h *MFTRecordHeader) IsDirectory() bool { return h.Flags&recordFlagDirectory != 0 }

// ApplyUSAFixup validates and reverses the Update Sequence Array
// transform in place over buf (one full MFT record or index-allocation
// buffer sectorSize-aligned). The last two bytes of every 512-byte
// sector must equal the USN (the array's first entry) prior to fixup;
// the transform replaces them with the array's per-sector saved
// original bytes. A mismatch means a torn write and is reported as
// Corruption; the caller is expected to mark the owning instance
// poisoned per the no-internal-recovery policy.
func ApplyUSAFixup(buf []byte, sectorSize int) error {
	if len(buf) < 8 {
		return fsops.New(fsops.KindCorruption, "ntfs.ApplyUSAFixup", "buffer too short for a USA header")
	}
	usaOffset := int(checksum.LE16(buf, 0x04))
	usaCount := int(checksum.LE16(buf, 0x06))
	if usaCount == 0 {
		return nil
	}
	if usaOffset+usaCount*2 > len(buf) {
		return fsops.New(fsops.KindCorruption, "ntfs.ApplyUSAFixup", "update sequence array out of bounds")
	}

	usn := checksum.LE16(buf, usaOffset)
	// usaCount includes the USN entry itself; usaCount-1 sectors follow.
	for i := 0; i < usaCount-1; i++ {
		sectorEnd := (i+1)*sectorSize - 2
		if sectorEnd+2 > len(buf) {
			break
		}
		if checksum.LE16(buf, sectorEnd) != usn {
			return fsops.New(fsops.KindCorruption, "ntfs.ApplyUSAFixup", "USN mismatch: torn sector write")
		}
		saved := checksum.LE16(buf, usaOffset+2+i*2)
		checksum.PutLE16(buf, sectorEnd, saved)
	}
	return nil
}

// StampUSA writes a fresh Update Sequence Array into buf: picks a new
// USN, saves each sector's trailing two bytes into the array, and
// overwrites those trailing bytes with the USN (the inverse of
// ApplyUSAFixup, used when writing a record back to disk).
func StampUSA(buf []byte, sectorSize int, usaOffset, usaCount int, usn uint16) {
	checksum.PutLE16(buf, usaOffset, usn)
	for i := 0; i < usaCount-1; i++ {
		sectorEnd := (i+1)*sectorSize - 2
		if sectorEnd+2 > len(buf) {
			break
		}
		saved := checksum.LE16(buf, sectorEnd)
		checksum.PutLE16(buf, usaOffset+2+i*2, saved)
		checksum.PutLE16(buf, sectorEnd, usn)
	}
}
