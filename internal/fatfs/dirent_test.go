package fatfs

import (
	"testing"
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/stretchr/testify/require"
)

func TestShortNameToString(t *testing.T) {
	var raw [11]byte
	copy(raw[:], []byte("HELLO   TXT"))
	require.Equal(t, "hello.txt", shortNameToString(raw))
}

func TestDecodeDirRegionPlainShortName(t *testing.T) {
	buf := make([]byte, 64)
	var name [11]byte
	copy(name[:], []byte("README  TXT"))
	encodeShortEntry(buf, 0, name, attrArchive, 5, 123, time.Date(2023, 6, 1, 10, 30, 0, 0, time.UTC))

	ents, err := decodeDirRegion(buf)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "readme.txt", ents[0].Name)
	require.Equal(t, uint32(5), ents[0].FirstCluster)
	require.Equal(t, uint32(123), ents[0].Size)
}

func TestDecodeDirRegionStopsAtEndMarker(t *testing.T) {
	buf := make([]byte, 64)
	ents, err := decodeDirRegion(buf)
	require.NoError(t, err)
	require.Len(t, ents, 0)
}

func TestDecodeDirRegionSkipsDeleted(t *testing.T) {
	buf := make([]byte, 64)
	var name [11]byte
	copy(name[:], []byte("GONE    TXT"))
	encodeShortEntry(buf, 0, name, attrArchive, 0, 0, time.Time{})
	buf[0] = deletedFlag

	ents, err := decodeDirRegion(buf)
	require.NoError(t, err)
	require.Len(t, ents, 0)
}

func TestEncodeLongNameEntriesRoundTrip(t *testing.T) {
	name := "a rather long filename.txt"
	short := uniqueShortName(name, nil)
	buf := encodeLongNameEntries(name, short, attrArchive, 9, 42, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	ents, err := decodeDirRegion(buf)
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, name, ents[0].Name)
	require.Equal(t, uint32(9), ents[0].FirstCluster)
	require.Equal(t, uint32(42), ents[0].Size)
}

func TestNeedsLongName(t *testing.T) {
	require.False(t, needsLongName("HELLO.TXT"))
	require.True(t, needsLongName("hello.txt"))
	require.True(t, needsLongName("a very long name indeed.txt"))
}

func TestFATLFNChecksumMatchesShortName(t *testing.T) {
	var name [11]byte
	copy(name[:], []byte("HELLO   TXT"))
	// Same short name must always produce the same checksum.
	require.Equal(t, checksum.FATLFNChecksum(name), checksum.FATLFNChecksum(name))
}

func TestDecodeFATDateTimeRoundTrip(t *testing.T) {
	tm := time.Date(2022, 12, 25, 13, 45, 30, 0, time.UTC)
	date := encodeFATDate(tm)
	ftime := encodeFATTime(tm)
	got := decodeFATDateTime(date, ftime)
	require.Equal(t, tm.Year(), got.Year())
	require.Equal(t, tm.Month(), got.Month())
	require.Equal(t, tm.Day(), got.Day())
	require.Equal(t, tm.Hour(), got.Hour())
	require.Equal(t, tm.Minute(), got.Minute())
}
