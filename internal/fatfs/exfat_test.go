package fatfs

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

// buildSyntheticExfatImage hand-builds a minimal exFAT image: a root
// directory (cluster 2) holding one file entry set naming "hi.txt",
// whose data lives contiguously in cluster 3 (the NoFatChain fast path
// every modern exFAT writer uses for unfragmented files).
func buildSyntheticExfatImage(t *testing.T) *memDevice {
	t.Helper()
	const (
		sectorSize   = 512
		sectorsPerClus = 8 // cluster = 4096 bytes
		fatOffsetSec = 128
		fatLengthSec = 8
		heapOffsetSec = fatOffsetSec + fatLengthSec
		clusterCount = 100
		totalSectors = heapOffsetSec + clusterCount*sectorsPerClus + 16
	)
	dev := newMemDevice(totalSectors * sectorSize)

	buf := make([]byte, BootSectorSize)
	copy(buf[3:11], []byte(exfatOEMName))
	checksum.PutLE64(buf, 72, uint64(totalSectors))
	checksum.PutLE32(buf, 80, fatOffsetSec)
	checksum.PutLE32(buf, 84, fatLengthSec)
	checksum.PutLE32(buf, 88, heapOffsetSec)
	checksum.PutLE32(buf, 92, clusterCount)
	checksum.PutLE32(buf, 96, 2) // root cluster
	buf[108] = 9                // 2^9 = 512 bytes/sector
	buf[109] = 3                // 2^3 = 8 sectors/cluster
	buf[110] = 1                // one FAT
	checksum.PutLE16(buf, 0x1FE, signature)
	_, err := dev.WriteAt(context.Background(), 0, buf)
	require.NoError(t, err)

	// The root directory is a one-cluster FAT chain: FAT[2] = end of chain.
	fat := make([]byte, 12)
	checksum.PutLE32(fat, 8, exfatEndOfChain)
	_, err = dev.WriteAt(context.Background(), fatOffsetSec*sectorSize, fat)
	require.NoError(t, err)

	clusterSize := uint64(sectorsPerClus * sectorSize)
	heapOffset := uint64(heapOffsetSec) * sectorSize
	clusterOffset := func(c uint32) uint64 { return heapOffset + uint64(c-2)*clusterSize }

	root := make([]byte, clusterSize)
	fileEntry := root[0:32]
	fileEntry[0] = exfatEntryFile
	fileEntry[1] = 2 // secondary count: stream-ext + 1 filename
	checksum.PutLE16(fileEntry, 4, 0x0020)

	streamEntry := root[32:64]
	streamEntry[0] = exfatEntryStreamExt
	streamEntry[1] = 0x03 // AllocationPossible | NoFatChain
	streamEntry[3] = 6    // "hi.txt" is 6 UTF-16 units
	checksum.PutLE64(streamEntry, 0x18, 8)
	checksum.PutLE32(streamEntry, 0x14, 3)

	nameEntry := root[64:96]
	nameEntry[0] = exfatEntryFileName
	for i, r := range "hi.txt" {
		checksum.PutLE16(nameEntry, 2+i*2, uint16(r))
	}

	_, err = dev.WriteAt(context.Background(), clusterOffset(2), root)
	require.NoError(t, err)

	fileData := make([]byte, clusterSize)
	copy(fileData, "hi exfat")
	_, err = dev.WriteAt(context.Background(), clusterOffset(3), fileData)
	require.NoError(t, err)

	return dev
}

func TestExfatProbeRecognizesSyntheticImage(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	p := NewExfatProber(nil)
	ok, err := p.Probe(context.Background(), dev)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExfatFAT12ProberRejectsExfatImage(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	p := NewProber(nil)
	ok, err := p.Probe(context.Background(), dev)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExfatOpenAndReaddir(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	fs, err := OpenExfat(context.Background(), dev, nil)
	require.NoError(t, err)

	info, err := fs.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, fsops.FamilyExFAT, info.Family)
	require.True(t, info.ReadOnly)

	ents, err := fs.Readdir(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "hi.txt", ents[0].Name)
	require.Equal(t, fsops.KindRegular, ents[0].Attributes.Kind)
}

func TestExfatStatAndRead(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	fs, err := OpenExfat(context.Background(), dev, nil)
	require.NoError(t, err)

	attrs, err := fs.Stat(context.Background(), "/hi.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(8), attrs.Size)

	buf := make([]byte, 8)
	n, err := fs.Read(context.Background(), "/hi.txt", 0, buf)
	require.NoError(t, err)
	require.Equal(t, "hi exfat", string(buf[:n]))
}

func TestExfatWriteRejected(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	fs, err := OpenExfat(context.Background(), dev, nil)
	require.NoError(t, err)

	_, err = fs.Write(context.Background(), "/hi.txt", 0, []byte("x"))
	require.Error(t, err)
	require.Equal(t, fsops.KindReadOnly, errKind(err))
}

func TestExfatPoisonedInstanceRejectsFurtherOps(t *testing.T) {
	dev := buildSyntheticExfatImage(t)
	fs, err := OpenExfat(context.Background(), dev, nil)
	require.NoError(t, err)

	fs.poison()
	_, err = fs.Stat(context.Background(), "/hi.txt")
	require.Error(t, err)
	require.Equal(t, fsops.KindCorruption, errKind(err))
}
