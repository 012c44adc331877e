package ntfs

import (
	"testing"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/stretchr/testify/require"
)

// encodeIndexEntry appends one index entry (with an optional FILE_NAME key
// and/or subnode VCN) at buf[pos:], returning the new position.
func encodeIndexEntry(buf []byte, pos int, fileRef uint64, name string, hasSubnode bool, subnodeVCN uint64, isLast bool) int {
	var key []byte
	if !isLast {
		key = buildFileNameValue(name, 5)
	}
	entryLen := 16 + len(key)
	if hasSubnode {
		entryLen += 8
	}
	if entryLen%8 != 0 {
		entryLen += 8 - entryLen%8
	}

	var flags uint16
	if hasSubnode {
		flags |= indexEntryHasSubnode
	}
	if isLast {
		flags |= indexEntryIsLast
	}

	checksum.PutLE64(buf, pos, fileRef)
	checksum.PutLE16(buf, pos+8, uint16(entryLen))
	checksum.PutLE16(buf, pos+10, uint16(len(key)))
	checksum.PutLE16(buf, pos+12, flags)
	copy(buf[pos+16:], key)
	if hasSubnode {
		checksum.PutLE64(buf, pos+entryLen-8, subnodeVCN)
	}
	return pos + entryLen
}

func TestDecodeIndexEntriesSimple(t *testing.T) {
	buf := make([]byte, 512)
	pos := 0
	pos = encodeIndexEntry(buf, pos, 11, "a.txt", false, 0, false)
	pos = encodeIndexEntry(buf, pos, 12, "b.txt", false, 0, false)
	pos = encodeIndexEntry(buf, pos, 0, "", false, 0, true)

	entries, err := decodeIndexEntries(buf, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "a.txt", entries[0].Name.Name)
	require.False(t, entries[0].HasSubnode)
	require.True(t, entries[2].IsLast)
	require.Nil(t, entries[2].Name)
}

func TestDecodeIndexEntriesWithSubnode(t *testing.T) {
	buf := make([]byte, 512)
	pos := 0
	pos = encodeIndexEntry(buf, pos, 11, "m.txt", true, 7, false)
	pos = encodeIndexEntry(buf, pos, 0, "", true, 9, true)

	entries, err := decodeIndexEntries(buf, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].HasSubnode)
	require.Equal(t, uint64(7), entries[0].SubnodeVCN)
	require.True(t, entries[1].HasSubnode)
	require.Equal(t, uint64(9), entries[1].SubnodeVCN)
}

func TestDecodeIndexRootValue(t *testing.T) {
	buf := make([]byte, 512)
	// 16-byte INDEX_ROOT prefix, then a 16-byte INDEX_HEADER at offset 16
	entriesStart := 16 + indexNodeHeaderSize
	pos := entriesStart
	pos = encodeIndexEntry(buf, pos, 11, "x.txt", false, 0, false)
	pos = encodeIndexEntry(buf, pos, 0, "", false, 0, true)

	checksum.PutLE32(buf, 16, uint32(indexNodeHeaderSize))    // entries offset, relative to header start
	checksum.PutLE32(buf, 20, uint32(pos-16))                 // index length, relative to header start

	entries, err := decodeIndexRootValue(buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "x.txt", entries[0].Name.Name)
}

func TestDecodeIndexAllocationRecord(t *testing.T) {
	buf := make([]byte, 1024)
	copy(buf[0:4], "INDX")
	const recordHeaderSize = 0x18
	entriesStart := recordHeaderSize + indexNodeHeaderSize
	pos := entriesStart
	pos = encodeIndexEntry(buf, pos, 20, "y.txt", false, 0, false)
	pos = encodeIndexEntry(buf, pos, 0, "", false, 0, true)

	checksum.PutLE32(buf, recordHeaderSize, uint32(indexNodeHeaderSize))
	checksum.PutLE32(buf, recordHeaderSize+4, uint32(pos-recordHeaderSize))

	entries, err := decodeIndexAllocationRecord(buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "y.txt", entries[0].Name.Name)
}

func TestDecodeIndexAllocationRecordBadSignature(t *testing.T) {
	buf := make([]byte, 64)
	copy(buf[0:4], "XXXX")
	_, err := decodeIndexAllocationRecord(buf)
	require.Error(t, err)
}
