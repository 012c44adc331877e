package fatfs

import (
	"context"
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// clusterSizeForVolume picks a default cluster size from total volume
// bytes per the Microsoft-documented thresholds.
func clusterSizeForVolume(totalBytes uint64) uint32 {
	const mib = 1 << 20
	switch {
	case totalBytes < 16*mib:
		return 512
	case totalBytes < 128*mib:
		return 1024
	case totalBytes < 256*mib:
		return 2048
	case totalBytes < 8*1024*mib:
		return 4096
	case totalBytes < 16*1024*mib:
		return 8192
	case totalBytes < 32*1024*mib:
		return 16384
	default:
		return 32768
	}
}

// FormatOptions carries the caller-selected parameters for Format; Family
// is advisory (FamilyUnknown lets cluster count decide FAT12 vs FAT16 vs
// FAT32 after the layout is chosen).
type FormatOptions struct {
	Label  string
	Family fsops.Family
}

// Format lays out a fresh FAT12/16/32 filesystem on dev: reserved
// sectors, FAT region(s), root directory, and data region. It does not
// probe dev first; callers route through the safety gate before calling
// this.
func Format(ctx context.Context, dev fsops.BlockDevice, opts FormatOptions) error {
	sectorSize := uint64(dev.SectorSize())
	if sectorSize == 0 {
		sectorSize = 512
	}
	totalBytes := dev.Size()
	totalSectors := totalBytes / sectorSize
	clusterSize := uint64(clusterSizeForVolume(totalBytes))
	sectorsPerCluster := clusterSize / sectorSize
	if sectorsPerCluster == 0 {
		sectorsPerCluster = 1
	}

	fat32 := opts.Family == fsops.FamilyFAT32 || totalBytes >= 512*1024*1024
	var reservedSectors uint64 = 1
	var rootEntryCount uint16 = 512
	if fat32 {
		reservedSectors = 32
		rootEntryCount = 0
	}

	numFATs := uint64(2)
	rootDirSectors := (uint64(rootEntryCount)*32 + sectorSize - 1) / sectorSize

	// Converge the FAT size against the cluster count it must describe:
	// each cluster needs entryWidth bytes of FAT space, and the data
	// region shrinks as the FAT region grows, so iterate to a fixed point.
	fatSectors := uint64(1)
	for i := 0; i < 8; i++ {
		dataSectors := totalSectors - reservedSectors - numFATs*fatSectors - rootDirSectors
		clusters := dataSectors / sectorsPerCluster
		width := uint64(2)
		if fat32 || clusters > 65524 {
			width = 4
			fat32 = true
			reservedSectors = 32
			rootEntryCount = 0
			rootDirSectors = 0
		}
		needed := (clusters+2)*width + sectorSize - 1
		newFatSectors := needed / sectorSize
		if newFatSectors == fatSectors {
			break
		}
		fatSectors = newFatSectors
	}

	bs := &BootSector{
		BytesPerSector:    uint16(sectorSize),
		SectorsPerCluster: uint8(sectorsPerCluster),
		ReservedSectors:   uint16(reservedSectors),
		NumFATs:           uint8(numFATs),
		RootEntryCount:    rootEntryCount,
		Media:             0xF8,
		SectorsPerTrack:   63,
		NumHeads:          255,
		DriveNumber:       0x80,
		BootSig:           0x29,
		VolumeID:          0x12345678,
	}
	if totalSectors <= 0xFFFF {
		bs.TotalSectors16 = uint16(totalSectors)
	} else {
		bs.TotalSectors32 = uint32(totalSectors)
	}
	copy(bs.VolumeLabel[:], []byte("           "))
	copy(bs.VolumeLabel[:], []byte(opts.Label))

	if fat32 {
		bs.FATSize32 = uint32(fatSectors)
		bs.RootCluster = 2
		bs.FSInfoSector = 1
		bs.BackupBootSector = 6
		copy(bs.FSType[:], []byte("FAT32   "))
	} else {
		bs.FATSize16 = uint16(fatSectors)
		dataSectors := totalSectors - reservedSectors - numFATs*fatSectors - rootDirSectors
		clusters := dataSectors / sectorsPerCluster
		if clusters < 4085 {
			copy(bs.FSType[:], []byte("FAT12   "))
		} else {
			copy(bs.FSType[:], []byte("FAT16   "))
		}
	}

	fat := make([]byte, fatSectors*sectorSize)
	if fat32 {
		checksum.PutLE32(fat, 0, 0x0FFFFFF8)
		checksum.PutLE32(fat, 4, 0x0FFFFFFF)
		checksum.PutLE32(fat, 8, fat32EOC) // root cluster 2, end-of-chain (empty root)
	} else {
		checksum.PutLE16(fat, 0, 0xFF00|uint16(bs.Media))
		checksum.PutLE16(fat, 2, 0xFFFF)
	}
	fatOffset := reservedSectors * sectorSize
	for i := uint64(0); i < numFATs; i++ {
		if _, err := dev.WriteAt(ctx, fatOffset+i*fatSectors*sectorSize, fat); err != nil {
			return fsops.Wrap(fsops.KindIo, "fatfs.Format", "", err)
		}
	}

	rootOffset := fatOffset + numFATs*fatSectors*sectorSize
	if fat32 {
		zero := make([]byte, sectorsPerCluster*sectorSize)
		if _, err := dev.WriteAt(ctx, rootOffset, zero); err != nil {
			return fsops.Wrap(fsops.KindIo, "fatfs.Format", "", err)
		}
	} else {
		root := make([]byte, rootDirSectors*sectorSize)
		if opts.Label != "" {
			var label [11]byte
			for i := range label {
				label[i] = ' '
			}
			copy(label[:], []byte(opts.Label))
			encodeShortEntry(root, 0, label, attrVolumeID, 0, 0, time.Time{})
		}
		if _, err := dev.WriteAt(ctx, rootOffset, root); err != nil {
			return fsops.Wrap(fsops.KindIo, "fatfs.Format", "", err)
		}
	}

	// Boot sector last: a write failure above leaves a device probe()
	// still rejects rather than one it wrongly recognizes as a valid
	// (but half-built) FAT filesystem.
	if _, err := dev.WriteAt(ctx, 0, EncodeBootSector(bs)); err != nil {
		return fsops.Wrap(fsops.KindIo, "fatfs.Format", "", err)
	}

	return dev.Flush(ctx)
}
