package ntfs

import (
	"testing"
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

func encodeUTF16LE(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func timeToFiletime(tm time.Time) uint64 {
	return uint64(tm.Sub(ntfsEpoch) / 100)
}

func buildFileNameValue(name string, parentRef uint64) []byte {
	nameBytes := encodeUTF16LE(name)
	buf := make([]byte, 0x42+len(nameBytes))
	checksum.PutLE64(buf, 0x00, parentRef)
	ft := timeToFiletime(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	checksum.PutLE64(buf, 0x08, ft)
	checksum.PutLE64(buf, 0x10, ft)
	checksum.PutLE64(buf, 0x18, ft)
	checksum.PutLE64(buf, 0x20, ft)
	checksum.PutLE64(buf, 0x28, 4096)
	checksum.PutLE64(buf, 0x30, 11)
	checksum.PutLE32(buf, 0x38, 0)
	buf[0x40] = byte(len([]rune(name)))
	buf[0x41] = 1 // Win32 namespace
	copy(buf[0x42:], nameBytes)
	return buf
}

func TestDecodeFileName(t *testing.T) {
	buf := buildFileNameValue("hello.txt", 5)
	fn, err := DecodeFileName(buf)
	require.NoError(t, err)
	require.Equal(t, "hello.txt", fn.Name)
	require.Equal(t, uint64(5), fn.ParentRef)
	require.Equal(t, uint64(11), fn.RealSize)
	require.Equal(t, uint8(1), fn.Namespace)
}

func TestDecodeFileNameTooShort(t *testing.T) {
	_, err := DecodeFileName(make([]byte, 10))
	require.Error(t, err)
}

func TestDecodeFileNameRejectsOverflow(t *testing.T) {
	buf := buildFileNameValue("a", 5)
	buf[0x40] = 200 // claims a name far past the buffer
	_, err := DecodeFileName(buf)
	require.Error(t, err)
}

func TestFiletimeToTimeEpoch(t *testing.T) {
	require.True(t, filetimeToTime(0).Equal(ntfsEpoch))
}

func TestDecodeStandardInformation(t *testing.T) {
	buf := make([]byte, 48)
	ft := timeToFiletime(time.Date(2023, 5, 5, 0, 0, 0, 0, time.UTC))
	checksum.PutLE64(buf, 0x00, ft)
	checksum.PutLE64(buf, 0x08, ft)
	checksum.PutLE64(buf, 0x10, ft)
	checksum.PutLE64(buf, 0x18, ft)
	checksum.PutLE32(buf, 0x20, 0x20) // FILE_ATTRIBUTE_ARCHIVE

	si, err := DecodeStandardInformation(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0x20), si.FileAttributes)
	require.True(t, si.CreationTime.Equal(filetimeToTime(ft)))
}

func TestFileKindFromRecord(t *testing.T) {
	require.Equal(t, fsops.KindDirectory, fileKindFromRecord(true))
	require.Equal(t, fsops.KindRegular, fileKindFromRecord(false))
}
