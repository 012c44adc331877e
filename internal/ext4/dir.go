package ext4

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// Directory-entry file-type byte (filetype feature).
const (
	fileTypeUnknown  = 0
	fileTypeRegular  = 1
	fileTypeDir      = 2
	fileTypeCharDev  = 3
	fileTypeBlockDev = 4
	fileTypeFifo     = 5
	fileTypeSocket   = 6
	fileTypeSymlink  = 7
)

// rawDirent is one decoded linear directory entry: 4-byte aligned, with
// the final entry's rec_len extending to the block boundary.
type rawDirent struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint8
	Type    uint8
	Name    string
}

// decodeDirBlock walks every entry in one directory data block. A
// zero-inode entry is a deleted/unused slot and is skipped.
func decodeDirBlock(buf []byte) ([]rawDirent, error) {
	var out []rawDirent
	off := 0
	for off+8 <= len(buf) {
		inode := checksum.LE32(buf, off)
		recLen := checksum.LE16(buf, off+4)
		nameLen := buf[off+6]
		ftype := buf[off+7]
		if recLen < 8 {
			return nil, fsops.New(fsops.KindCorruption, "ext4.decodeDirBlock", "rec_len underflow")
		}
		if off+int(recLen) > len(buf) {
			return nil, fsops.New(fsops.KindCorruption, "ext4.decodeDirBlock", "rec_len overflow past block boundary")
		}
		if inode != 0 {
			nameEnd := off + 8 + int(nameLen)
			if nameEnd > len(buf) {
				return nil, fsops.New(fsops.KindCorruption, "ext4.decodeDirBlock", "name_len overflow")
			}
			out = append(out, rawDirent{
				Inode:   inode,
				RecLen:  recLen,
				NameLen: nameLen,
				Type:    ftype,
				Name:    string(buf[off+8 : nameEnd]),
			})
		}
		off += int(recLen)
	}
	return out, nil
}

// encodeDirBlock lays out entries into a block of blockSize bytes,
// 4-byte-aligning each record and extending the final entry's rec_len to
// the block boundary.
func encodeDirBlock(entries []rawDirent, blockSize int) []byte {
	buf := make([]byte, blockSize)
	off := 0
	for i, e := range entries {
		minLen := 8 + int(e.NameLen)
		recLen := (minLen + 3) &^ 3
		if i == len(entries)-1 {
			recLen = blockSize - off
		}
		checksum.PutLE32(buf, off, e.Inode)
		checksum.PutLE16(buf, off+4, uint16(recLen))
		buf[off+6] = e.NameLen
		buf[off+7] = e.Type
		copy(buf[off+8:off+8+int(e.NameLen)], e.Name)
		off += recLen
	}
	return buf
}

func direntFileType(kind fsops.FileKind) uint8 {
	switch kind {
	case fsops.KindDirectory:
		return fileTypeDir
	case fsops.KindSymlink:
		return fileTypeSymlink
	case fsops.KindRegular:
		return fileTypeRegular
	default:
		return fileTypeUnknown
	}
}

func fileKindFromDirentType(t uint8) fsops.FileKind {
	switch t {
	case fileTypeDir:
		return fsops.KindDirectory
	case fileTypeSymlink:
		return fsops.KindSymlink
	case fileTypeRegular:
		return fsops.KindRegular
	default:
		return fsops.KindSpecial
	}
}
