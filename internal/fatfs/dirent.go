package fatfs

import (
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

const dirEntrySize = 32

// dirent is one decoded 32-byte directory entry, with any preceding
// long-filename slots already folded into Name (long-file-name entries
// precede the 8.3 short-name entry, stored in reverse sequence order).
type dirent struct {
	Name         string
	Attr         uint8
	FirstCluster uint32
	Size         uint32
	ModTime      time.Time
	CrTime       time.Time
	AccTime      time.Time
	slot         uint32 // byte offset of the short-name entry within its directory region, for Ref
}

func (d dirent) IsDir() bool    { return d.Attr&attrDir != 0 }
func (d dirent) IsVolume() bool { return d.Attr&attrVolumeID != 0 }
func (d dirent) IsLFN() bool    { return d.Attr&attrLongName == attrLongName }

func decodeFATDateTime(date, t uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	year := 1980 + int(date>>9)
	month := int((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	hour := int(t >> 11)
	minute := int((t >> 5) & 0x3F)
	second := int(t&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

func encodeFATDate(tm time.Time) uint16 {
	if tm.IsZero() || tm.Year() < 1980 {
		return 0
	}
	return uint16((tm.Year()-1980)<<9) | uint16(tm.Month())<<5 | uint16(tm.Day())
}

func encodeFATTime(tm time.Time) uint16 {
	if tm.IsZero() {
		return 0
	}
	return uint16(tm.Hour())<<11 | uint16(tm.Minute())<<5 | uint16(tm.Second()/2)
}

// shortNameToString turns the 11-byte fixed-width 8.3 name into a
// lower-cased "name.ext" display form (upper-case stored names are the
// common case written by every FAT implementation for non-mixed-case
// names).
func shortNameToString(raw [11]byte) string {
	base := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	name := strings.ToLower(base)
	if ext != "" {
		name += "." + strings.ToLower(ext)
	}
	return name
}

// lfnChars decodes the three UTF-16 name fragments of one LFN slot into
// up to 13 runes, stopping at the first NUL/0xFFFF padding rune.
func lfnChars(buf []byte) []uint16 {
	units := make([]uint16, 0, 13)
	ranges := [][2]int{{0x01, 0x0B}, {0x0E, 0x1A}, {0x1C, 0x20}}
	for _, r := range ranges {
		for off := r[0]; off < r[1]; off += 2 {
			u := checksum.LE16(buf, off)
			if u == 0x0000 || u == 0xFFFF {
				return units
			}
			units = append(units, u)
		}
	}
	return units
}

// decodeDirRegion walks a whole directory region (one or more
// concatenated clusters, or the fixed FAT12/16 root area) decoding its
// 32-byte slots, folding LFN sequences into their terminal short-name
// entry.
func decodeDirRegion(buf []byte) ([]dirent, error) {
	var out []dirent
	var pendingUnits []uint16
	var pendingChecksum uint8
	haveChecksum := false

	for pos := 0; pos+dirEntrySize <= len(buf); pos += dirEntrySize {
		e := buf[pos : pos+dirEntrySize]
		if e[0] == 0x00 {
			break // end of directory marker
		}
		if e[0] == deletedFlag {
			pendingUnits = nil
			haveChecksum = false
			continue
		}
		attr := e[0x0B]
		if attr&attrLongName == attrLongName {
			ord := e[0]
			chk := e[0x0D]
			units := lfnChars(e)
			if ord&0x40 != 0 {
				pendingUnits = append([]uint16(nil), units...)
				pendingChecksum = chk
				haveChecksum = true
			} else {
				pendingUnits = append(append([]uint16(nil), units...), pendingUnits...)
			}
			continue
		}
		if attr&attrVolumeID != 0 && attr&attrDir == 0 {
			pendingUnits = nil
			haveChecksum = false
			continue // bare volume-label entry, not a file/dir
		}

		var shortName [11]byte
		copy(shortName[:], e[0:11])
		name := shortNameToString(shortName)
		if haveChecksum && checksum.FATLFNChecksum(shortName) == pendingChecksum && len(pendingUnits) > 0 {
			name = string(utf16.Decode(pendingUnits))
		}
		pendingUnits = nil
		haveChecksum = false

		d := dirent{
			Name:         name,
			Attr:         attr,
			FirstCluster: uint32(checksum.LE16(e, 0x14))<<16 | uint32(checksum.LE16(e, 0x1A)),
			Size:         checksum.LE32(e, 0x1C),
			ModTime:      decodeFATDateTime(checksum.LE16(e, 0x18), checksum.LE16(e, 0x16)),
			CrTime:       decodeFATDateTime(checksum.LE16(e, 0x10), checksum.LE16(e, 0x0E)),
			AccTime:      decodeFATDateTime(checksum.LE16(e, 0x12), 0),
			slot:         uint32(pos),
		}
		out = append(out, d)
	}
	return out, nil
}

func fileKind(attr uint8) fsops.FileKind {
	if attr&attrDir != 0 {
		return fsops.KindDirectory
	}
	return fsops.KindRegular
}

// encodeShortEntry writes one 32-byte short-name directory entry at
// buf[pos:]. name must already be an 11-byte padded 8.3 form.
func encodeShortEntry(buf []byte, pos int, name [11]byte, attr uint8, firstCluster uint32, size uint32, mt time.Time) {
	e := buf[pos : pos+dirEntrySize]
	copy(e[0:11], name[:])
	e[0x0B] = attr
	checksum.PutLE16(e, 0x0E, encodeFATTime(mt))
	checksum.PutLE16(e, 0x10, encodeFATDate(mt))
	checksum.PutLE16(e, 0x12, encodeFATDate(mt))
	checksum.PutLE16(e, 0x14, uint16(firstCluster>>16))
	checksum.PutLE16(e, 0x16, encodeFATTime(mt))
	checksum.PutLE16(e, 0x18, encodeFATDate(mt))
	checksum.PutLE16(e, 0x1A, uint16(firstCluster))
	checksum.PutLE32(e, 0x1C, size)
}

// shortNameFrom83 packs a bare ASCII name (already uppercased, no dot) and
// extension into the fixed 11-byte 8.3 form, space-padded.
func shortNameFrom83(base, ext string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[0:8], []byte(base))
	copy(out[8:11], []byte(ext))
	return out
}
