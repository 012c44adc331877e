package ext4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirBlockRoundTrip(t *testing.T) {
	entries := []rawDirent{
		{Inode: 2, NameLen: 1, Type: fileTypeDir, Name: "."},
		{Inode: 2, NameLen: 2, Type: fileTypeDir, Name: ".."},
		{Inode: 12, NameLen: 5, Type: fileTypeRegular, Name: "hello"},
	}
	buf := encodeDirBlock(entries, 1024)
	require.Len(t, buf, 1024)

	got, err := decodeDirBlock(buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "hello", got[2].Name)
	require.Equal(t, uint32(12), got[2].Inode)
	// last entry's rec_len must reach the block boundary (1024 - 12 - 12)
	require.Equal(t, uint16(1000), got[2].RecLen)
}

func TestDirBlockSkipsDeletedEntries(t *testing.T) {
	entries := []rawDirent{
		{Inode: 2, NameLen: 1, Type: fileTypeDir, Name: "."},
		{Inode: 5, NameLen: 4, Type: fileTypeRegular, Name: "gone"},
	}
	buf := encodeDirBlock(entries, 64)
	// mark "gone" as deleted by zeroing its inode number in place
	zeroed := append([]byte(nil), buf...)
	zeroed[12] = 0
	zeroed[13] = 0
	zeroed[14] = 0
	zeroed[15] = 0

	got, err := decodeDirBlock(zeroed)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, ".", got[0].Name)
}

func TestDecodeDirBlockRejectsRecLenOverflow(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 1 // inode
	buf[4] = 0xFF
	buf[5] = 0xFF // rec_len way past the block
	buf[6] = 1
	_, err := decodeDirBlock(buf)
	require.Error(t, err)
}

func TestDecodeDirBlockRejectsRecLenUnderflow(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 1
	buf[4] = 4 // rec_len < 8
	_, err := decodeDirBlock(buf)
	require.Error(t, err)
}

func TestFileTypeConversions(t *testing.T) {
	require.Equal(t, uint8(fileTypeDir), direntFileType(fileKindFromDirentType(fileTypeDir)))
	require.Equal(t, uint8(fileTypeSymlink), direntFileType(fileKindFromDirentType(fileTypeSymlink)))
	require.Equal(t, uint8(fileTypeRegular), direntFileType(fileKindFromDirentType(fileTypeRegular)))
}
