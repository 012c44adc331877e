package ntfs

import (
	"testing"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/stretchr/testify/require"
)

// encodeResidentAttr builds one resident attribute record at buf[pos:],
// returning the total length written.
func encodeResidentAttr(buf []byte, pos int, typ uint32, value []byte) int {
	const headerSize = 24 // common(16) + resident fields(8), value follows
	length := headerSize + len(value)
	// pad to 8-byte alignment like real NTFS records do
	if length%8 != 0 {
		length += 8 - length%8
	}
	checksum.PutLE32(buf, pos, typ)
	checksum.PutLE32(buf, pos+4, uint32(length))
	buf[pos+8] = 0 // resident
	buf[pos+9] = 0 // no name
	checksum.PutLE16(buf, pos+10, 0)
	checksum.PutLE16(buf, pos+12, 0)
	checksum.PutLE16(buf, pos+14, 0)
	checksum.PutLE32(buf, pos+16, uint32(len(value)))
	checksum.PutLE16(buf, pos+20, headerSize)
	copy(buf[pos+headerSize:pos+headerSize+len(value)], value)
	return length
}

// encodeNonResidentAttr builds one non-resident attribute record at
// buf[pos:] with the given runlist encoding, returning the length written.
func encodeNonResidentAttr(buf []byte, pos int, typ uint32, runs []alloc.Run, realSize uint64) int {
	const headerSize = 64
	runlist := alloc.EncodeRunlist(runs)
	length := headerSize + len(runlist)
	if length%8 != 0 {
		length += 8 - length%8
	}
	checksum.PutLE32(buf, pos, typ)
	checksum.PutLE32(buf, pos+4, uint32(length))
	buf[pos+8] = 1 // non-resident
	buf[pos+9] = 0
	checksum.PutLE16(buf, pos+10, 0)
	checksum.PutLE16(buf, pos+12, 0)
	checksum.PutLE16(buf, pos+14, 0)
	checksum.PutLE64(buf, pos+16, 0)
	checksum.PutLE64(buf, pos+24, 0)
	checksum.PutLE16(buf, pos+32, headerSize)
	checksum.PutLE64(buf, pos+40, realSize)
	checksum.PutLE64(buf, pos+48, realSize)
	checksum.PutLE64(buf, pos+56, realSize)
	copy(buf[pos+headerSize:pos+headerSize+len(runlist)], runlist)
	return length
}

func TestWalkAttributesResident(t *testing.T) {
	buf := make([]byte, 256)
	pos := 0
	pos += encodeResidentAttr(buf, pos, AttrStandardInformation, []byte("stdinfo-value"))
	checksum.PutLE32(buf, pos, AttrEndMarker)

	var seen []Attribute
	err := WalkAttributes(buf, 0, func(a Attribute) (bool, error) {
		seen = append(seen, a)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, uint32(AttrStandardInformation), seen[0].Header.Type)
	require.Equal(t, "stdinfo-value", string(seen[0].Value))
}

func TestWalkAttributesNonResidentRuns(t *testing.T) {
	buf := make([]byte, 256)
	pos := 0
	runs := []alloc.Run{{LCN: 100, Length: 10}, {Sparse: true, Length: 5}, {LCN: 200, Length: 3}}
	pos += encodeNonResidentAttr(buf, pos, AttrData, runs, 13*4096)
	checksum.PutLE32(buf, pos, AttrEndMarker)

	var got Attribute
	err := WalkAttributes(buf, 0, func(a Attribute) (bool, error) {
		got = a
		return true, nil
	})
	require.NoError(t, err)
	require.True(t, got.Header.NonResident)
	require.Equal(t, runs, got.Runs)
	require.Equal(t, uint64(13*4096), got.Header.RealSize)
}

func TestWalkAttributesStopsEarly(t *testing.T) {
	buf := make([]byte, 256)
	pos := 0
	pos += encodeResidentAttr(buf, pos, AttrStandardInformation, []byte("a"))
	pos += encodeResidentAttr(buf, pos, AttrFileName, []byte("b"))
	checksum.PutLE32(buf, pos, AttrEndMarker)

	count := 0
	err := WalkAttributes(buf, 0, func(a Attribute) (bool, error) {
		count++
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestWalkAttributesRejectsOverflow(t *testing.T) {
	buf := make([]byte, 16)
	checksum.PutLE32(buf, 0, AttrData)
	checksum.PutLE32(buf, 4, 1000) // claims a length far past the buffer
	err := WalkAttributes(buf, 0, func(a Attribute) (bool, error) { return true, nil })
	require.Error(t, err)
}
