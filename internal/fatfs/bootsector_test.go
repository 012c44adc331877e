package fatfs

import (
	"testing"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

func errKind(err error) fsops.Kind {
	k, _ := fsops.KindOf(err)
	return k
}

func baseFAT16BootSector() *BootSector {
	b := &BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 4,
		ReservedSectors:   1,
		NumFATs:           2,
		RootEntryCount:    512,
		Media:             0xF8,
		FATSize16:         32,
		SectorsPerTrack:   63,
		NumHeads:          255,
		TotalSectors32:    102400, // 50 MiB
		DriveNumber:       0x80,
		BootSig:           0x29,
		VolumeID:          0xAABBCCDD,
	}
	copy(b.FSType[:], []byte("FAT16   "))
	copy(b.VolumeLabel[:], []byte("NO NAME    "))
	return b
}

func TestBootSectorRoundTrip(t *testing.T) {
	b := baseFAT16BootSector()
	buf := EncodeBootSector(b)
	require.Len(t, buf, BootSectorSize)

	got, err := DecodeBootSector(buf)
	require.NoError(t, err)
	require.Equal(t, b.BytesPerSector, got.BytesPerSector)
	require.Equal(t, b.SectorsPerCluster, got.SectorsPerCluster)
	require.Equal(t, b.FATSize16, got.FATSize16)
	require.Equal(t, b.TotalSectors32, got.TotalSectors32)
	require.Equal(t, b.VolumeID, got.VolumeID)
}

func TestBootSectorFAT32RoundTrip(t *testing.T) {
	b := &BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 8,
		ReservedSectors:   32,
		NumFATs:           2,
		Media:             0xF8,
		FATSize32:         4096,
		TotalSectors32:    2097152, // 1 GiB
		RootCluster:       2,
		FSInfoSector:      1,
		BackupBootSector:  6,
		BootSig:           0x29,
	}
	copy(b.FSType[:], []byte("FAT32   "))
	buf := EncodeBootSector(b)

	got, err := DecodeBootSector(buf)
	require.NoError(t, err)
	require.True(t, got.IsFAT32())
	require.Equal(t, b.FATSize32, got.FATSize32)
	require.Equal(t, b.RootCluster, got.RootCluster)
}

func TestClusterCountThresholdsFAT12(t *testing.T) {
	b := baseFAT16BootSector()
	b.TotalSectors32 = 4000 // small volume, cluster count well under 4085
	b.FATSize16 = 4
	require.Equal(t, fsops.FamilyFAT12, b.Family())
}

func TestClusterCountThresholdsFAT16(t *testing.T) {
	b := baseFAT16BootSector() // 50 MiB, cluster size 2048
	fam := b.Family()
	n := b.clusterCount()
	require.True(t, n >= 4085 && n <= 65524, "cluster count %d out of FAT16 range", n)
	require.Equal(t, fsops.FamilyFAT16, fam)
}

func TestClusterCountThresholdsFAT32(t *testing.T) {
	b := baseFAT16BootSector()
	b.TotalSectors32 = 10_000_000 // ~4.7 GiB, well past the FAT16 ceiling
	require.Equal(t, fsops.FamilyFAT32, b.Family())
}

func TestDecodeRejectsBadSignature(t *testing.T) {
	buf := EncodeBootSector(baseFAT16BootSector())
	buf[0x1FE] = 0x00
	buf[0x1FF] = 0x00
	_, err := DecodeBootSector(buf)
	require.Error(t, err)
	require.Equal(t, fsops.KindNotAFilesystem, errKind(err))
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := DecodeBootSector(make([]byte, 10))
	require.Error(t, err)
}

func TestRootDirSectorsFAT32IsZero(t *testing.T) {
	b := &BootSector{BytesPerSector: 512, FATSize16: 0, RootEntryCount: 0}
	require.Equal(t, uint64(0), b.RootDirSectors())
}
