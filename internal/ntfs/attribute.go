package ntfs

import (
	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// Attribute type codes this engine inspects, in the order NTFS stores
// attributes within a record.
const (
	AttrStandardInformation = 0x10
	AttrFileName            = 0x30
	AttrData                = 0x80
	AttrIndexRoot           = 0x90
	AttrIndexAllocation     = 0xA0
	AttrEndMarker           = 0xFFFFFFFF
)

// AttributeHeader is the common prefix of every attribute record.
type AttributeHeader struct {
	Type         uint32
	Length       uint32
	NonResident  bool
	NameLength   uint8
	NameOffset   uint16
	Flags        uint16
	AttrID       uint16

	// Resident-form fields.
	ValueLength uint32
	ValueOffset uint16

	// Non-resident-form fields.
	StartVCN       uint64
	LastVCN        uint64
	RunlistOffset  uint16
	AllocatedSize  uint64
	RealSize       uint64
	InitializedSize uint64
}

// Attribute is a decoded attribute record plus its payload view: Value
// for resident attributes, or the decoded Runs for non-resident ones.
type Attribute struct {
	Header AttributeHeader
	Name   string
	Value  []byte
	Runs   []alloc.Run
}

// decodeAttrName reads the attribute's UTF-16LE name, if any.
func decodeAttrName(buf []byte, offset int, nameLen int) string {
	if nameLen == 0 {
		return ""
	}
	runes := make([]rune, 0, nameLen)
	for i := 0; i < nameLen; i++ {
		off := offset + i*2
		if off+2 > len(buf) {
			break
		}
		runes = append(runes, rune(checksum.LE16(buf, off)))
	}
	return string(runes)
}

// WalkAttributes iterates the attribute records in an MFT record's body
// (buf[attrsOffset:]), stopping at the 0xFFFFFFFF end marker, calling fn
// for each decoded Attribute. fn returning false stops the walk early.
func WalkAttributes(buf []byte, attrsOffset int, fn func(Attribute) (bool, error)) error {
	pos := attrsOffset
	for pos+8 <= len(buf) {
		typ := checksum.LE32(buf, pos)
		if typ == AttrEndMarker {
			return nil
		}
		length := checksum.LE32(buf, pos+4)
		if length < 16 || pos+int(length) > len(buf) {
			return fsops.New(fsops.KindCorruption, "ntfs.WalkAttributes", "attribute length out of bounds")
		}

		h := AttributeHeader{
			Type:        typ,
			Length:      length,
			NonResident: buf[pos+8] != 0,
			NameLength:  buf[pos+9],
			NameOffset:  checksum.LE16(buf, pos+10),
			Flags:       checksum.LE16(buf, pos+12),
			AttrID:      checksum.LE16(buf, pos+14),
		}
		name := decodeAttrName(buf, pos+int(h.NameOffset), int(h.NameLength))

		attr := Attribute{Header: h, Name: name}
		if h.NonResident {
			h.StartVCN = checksum.LE64(buf, pos+16)
			h.LastVCN = checksum.LE64(buf, pos+24)
			h.RunlistOffset = checksum.LE16(buf, pos+32)
			h.AllocatedSize = checksum.LE64(buf, pos+40)
			h.RealSize = checksum.LE64(buf, pos+48)
			h.InitializedSize = checksum.LE64(buf, pos+56)
			attr.Header = h

			runlistStart := pos + int(h.RunlistOffset)
			if runlistStart < pos || runlistStart > pos+int(length) {
				return fsops.New(fsops.KindCorruption, "ntfs.WalkAttributes", "runlist offset out of bounds")
			}
			runs, err := alloc.DecodeRunlist(buf[runlistStart : pos+int(length)])
			if err != nil {
				return fsops.Wrap(fsops.KindCorruption, "ntfs.WalkAttributes", "", err)
			}
			attr.Runs = runs
		} else {
			h.ValueLength = checksum.LE32(buf, pos+16)
			h.ValueOffset = checksum.LE16(buf, pos+20)
			attr.Header = h

			valStart := pos + int(h.ValueOffset)
			valEnd := valStart + int(h.ValueLength)
			if valStart < pos || valEnd > pos+int(length) {
				return fsops.New(fsops.KindCorruption, "ntfs.WalkAttributes", "resident value out of bounds")
			}
			attr.Value = buf[valStart:valEnd]
		}

		cont, err := fn(attr)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		pos += int(length)
	}
	return nil
}
