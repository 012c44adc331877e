package ntfs

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// Index entry flags.
const (
	indexEntryHasSubnode = 0x0001
	indexEntryIsLast     = 0x0002
)

// indexNodeHeaderSize is the size of the common INDEX_HEADER preceding
// a run of index entries, in both $INDEX_ROOT's value and every
// $INDEX_ALLOCATION ("INDX") record.
const indexNodeHeaderSize = 16

// IndexEntry is one decoded B+tree directory-index entry: the file
// reference it names, its $FILE_NAME key, and (for an internal node)
// the VCN of the subnode to descend into for names that sort before it.
type IndexEntry struct {
	FileRef    uint64
	Name       *FileNameAttr
	HasSubnode bool
	SubnodeVCN uint64
	IsLast     bool
}

// decodeIndexEntries walks a run of index entries starting at
// buf[start:], one node's worth (stops at the IsLast-flagged entry or
// buffer end).
func decodeIndexEntries(buf []byte, start int) ([]IndexEntry, error) {
	var out []IndexEntry
	pos := start
	for pos+16 <= len(buf) {
		fileRef := checksum.LE64(buf, pos)
		entryLen := int(checksum.LE16(buf, pos+8))
		keyLen := int(checksum.LE16(buf, pos+10))
		flags := checksum.LE16(buf, pos+12)
		if entryLen < 16 || pos+entryLen > len(buf) {
			return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexEntries", "entry length out of bounds")
		}

		e := IndexEntry{
			FileRef:    fileRef,
			HasSubnode: flags&indexEntryHasSubnode != 0,
			IsLast:     flags&indexEntryIsLast != 0,
		}
		if !e.IsLast && keyLen > 0 {
			keyEnd := pos + 16 + keyLen
			if keyEnd > pos+entryLen {
				return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexEntries", "key runs past entry")
			}
			fn, err := DecodeFileName(buf[pos+16 : keyEnd])
			if err != nil {
				return nil, err
			}
			e.Name = fn
		}
		if e.HasSubnode {
			e.SubnodeVCN = checksum.LE64(buf, pos+entryLen-8)
		}
		out = append(out, e)
		if e.IsLast {
			break
		}
		pos += entryLen
	}
	return out, nil
}

// decodeIndexNode decodes the entries following an INDEX_HEADER located
// at buf[headerStart:], where buf is scoped to exactly this node's bytes.
func decodeIndexNode(buf []byte, headerStart int) ([]IndexEntry, error) {
	if headerStart+indexNodeHeaderSize > len(buf) {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexNode", "INDEX_HEADER out of bounds")
	}
	entriesOffset := int(checksum.LE32(buf, headerStart))
	indexLength := int(checksum.LE32(buf, headerStart+4))
	start := headerStart + entriesOffset
	end := headerStart + indexLength
	if start < 0 || end > len(buf) || start > end {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexNode", "entries region out of bounds")
	}
	return decodeIndexEntries(buf[:end], start)
}

// decodeIndexRootValue decodes a resident $INDEX_ROOT attribute value:
// the 16-byte prefix (attr type, collation rule, index block size,
// clusters-per-index-block) followed by the INDEX_HEADER and entries.
func decodeIndexRootValue(buf []byte) ([]IndexEntry, error) {
	if len(buf) < 16+indexNodeHeaderSize {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexRootValue", "INDEX_ROOT value too short")
	}
	return decodeIndexNode(buf, 16)
}

// decodeIndexAllocationRecord decodes one "INDX" record (after its USA
// fixup has already been applied) into its entries.
func decodeIndexAllocationRecord(buf []byte) ([]IndexEntry, error) {
	if len(buf) < 4 || string(buf[0:4]) != "INDX" {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.decodeIndexAllocationRecord", "bad INDX signature")
	}
	const recordHeaderSize = 0x18
	return decodeIndexNode(buf, recordHeaderSize)
}
