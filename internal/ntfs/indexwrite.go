package ntfs

import (
	"sort"
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
)

// newFileNameValue lays out a fresh $FILE_NAME (0x30) attribute value
// (the same layout an $INDEX_ROOT entry's key uses) for a file being
// created now.
func newFileNameValue(parentRef uint64, name string, now time.Time, isDir bool) []byte {
	ft := formatTimeToFiletime(now)
	nameRunes := []rune(name)
	buf := make([]byte, 0x42+len(nameRunes)*2)
	checksum.PutLE64(buf, 0x00, parentRef)
	checksum.PutLE64(buf, 0x08, ft)
	checksum.PutLE64(buf, 0x10, ft)
	checksum.PutLE64(buf, 0x18, ft)
	checksum.PutLE64(buf, 0x20, ft)
	if isDir {
		checksum.PutLE32(buf, 0x38, 0x10)
	} else {
		checksum.PutLE32(buf, 0x38, 0x20)
	}
	buf[0x40] = byte(len(nameRunes))
	buf[0x41] = 1 // Win32 namespace
	copy(buf[0x42:], formatUTF16LEBytes(name))
	return buf
}

// encodeFileNameValue re-encodes a decoded FileNameAttr back into its
// on-disk layout, preserving whatever flags and timestamps it already
// carried.
func encodeFileNameValue(fn *FileNameAttr) []byte {
	nameRunes := []rune(fn.Name)
	buf := make([]byte, 0x42+len(nameRunes)*2)
	checksum.PutLE64(buf, 0x00, fn.ParentRef)
	checksum.PutLE64(buf, 0x08, formatTimeToFiletime(fn.CreationTime))
	checksum.PutLE64(buf, 0x10, formatTimeToFiletime(fn.ModifiedTime))
	checksum.PutLE64(buf, 0x18, formatTimeToFiletime(fn.MFTChangedTime))
	checksum.PutLE64(buf, 0x20, formatTimeToFiletime(fn.AccessTime))
	checksum.PutLE64(buf, 0x28, fn.AllocatedSize)
	checksum.PutLE64(buf, 0x30, fn.RealSize)
	checksum.PutLE32(buf, 0x38, fn.Flags)
	buf[0x40] = byte(len(nameRunes))
	buf[0x41] = fn.Namespace
	copy(buf[0x42:], formatUTF16LEBytes(fn.Name))
	return buf
}

// encodeIndexEntry lays out one non-terminal, subnode-free $INDEX_ROOT
// entry: a file reference and its $FILE_NAME key.
func encodeIndexEntry(fileRef uint64, key []byte) []byte {
	entryLen := formatAlign8(16 + len(key))
	buf := make([]byte, entryLen)
	checksum.PutLE64(buf, 0, fileRef)
	checksum.PutLE16(buf, 8, uint16(entryLen))
	checksum.PutLE16(buf, 10, uint16(len(key)))
	copy(buf[16:16+len(key)], key)
	return buf
}

// encodeIndexRootValue assembles a resident $INDEX_ROOT value from
// already-encoded, name-sorted entries, terminated by the fixed marker
// entry decodeIndexEntries expects. This engine never grows a directory
// index past what fits resident in one MFT record: there is no
// $INDEX_ALLOCATION writer, so a directory whose entries would overflow
// the record reports KindNoSpace rather than silently truncating.
func encodeIndexRootValue(entries [][]byte) []byte {
	const prefix = 16
	const headerSize = 16
	const terminalSize = 16

	total := 0
	for _, e := range entries {
		total += len(e)
	}
	buf := make([]byte, prefix+headerSize+total+terminalSize)

	checksum.PutLE32(buf, 0, AttrFileName)
	checksum.PutLE32(buf, 4, 0x01) // COLLATION_FILENAME
	checksum.PutLE32(buf, 8, formatClusterSize)
	buf[12] = 1

	indexLength := headerSize + total + terminalSize
	checksum.PutLE32(buf, prefix+0, headerSize)
	checksum.PutLE32(buf, prefix+4, uint32(indexLength))
	checksum.PutLE32(buf, prefix+8, uint32(indexLength))

	off := prefix + headerSize
	for _, e := range entries {
		copy(buf[off:], e)
		off += len(e)
	}
	checksum.PutLE16(buf, off+8, uint16(terminalSize))
	checksum.PutLE16(buf, off+12, indexEntryIsLast)
	return buf
}

// rebuildIndexEntries turns a directory's already-decoded index entries
// into fresh, name-sorted raw entries, applying add (if non-nil) and
// dropping any entry named remove. Collation here is a plain ordinal
// string sort; real NTFS collates by a locale-aware uppercase rule, a
// simplification this engine accepts since it never walks a multi-level
// B+tree that would depend on exact collation order.
func rebuildIndexEntries(existing []IndexEntry, add *IndexEntry, remove string) [][]byte {
	type named struct {
		name string
		raw  []byte
	}
	var names []named
	for _, e := range existing {
		if e.IsLast || e.Name == nil || e.Name.Name == remove {
			continue
		}
		names = append(names, named{e.Name.Name, encodeIndexEntry(e.FileRef, encodeFileNameValue(e.Name))})
	}
	if add != nil && add.Name != nil {
		names = append(names, named{add.Name.Name, encodeIndexEntry(add.FileRef, encodeFileNameValue(add.Name))})
	}
	sort.Slice(names, func(i, j int) bool { return names[i].name < names[j].name })

	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = n.raw
	}
	return out
}
