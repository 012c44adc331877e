package fatfs

import (
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// readFATEntry returns the raw value stored at cluster's slot in the
// in-memory FAT#0 copy, unpacking FAT12's 1.5-byte nibble-packed entries.
func (fs *Filesystem) readFATEntry(cluster uint32) (uint32, error) {
	switch fs.family {
	case fsops.FamilyFAT16:
		off := int(cluster) * 2
		if off+2 > len(fs.fat) {
			return 0, fsops.New(fsops.KindCorruption, "fatfs.readFATEntry", "cluster out of range")
		}
		return uint32(checksum.LE16(fs.fat, off)), nil
	case fsops.FamilyFAT32:
		off := int(cluster) * 4
		if off+4 > len(fs.fat) {
			return 0, fsops.New(fsops.KindCorruption, "fatfs.readFATEntry", "cluster out of range")
		}
		return checksum.LE32(fs.fat, off) & 0x0FFFFFFF, nil
	default: // FAT12
		off := int(cluster) + int(cluster)/2
		if off+2 > len(fs.fat) {
			return 0, fsops.New(fsops.KindCorruption, "fatfs.readFATEntry", "cluster out of range")
		}
		packed := checksum.LE16(fs.fat, off)
		if cluster%2 == 0 {
			return uint32(packed & 0x0FFF), nil
		}
		return uint32(packed >> 4), nil
	}
}

// writeFATEntry stores value at cluster's slot in the in-memory FAT#0
// buffer; the caller is responsible for flushing it and its mirrors.
func (fs *Filesystem) writeFATEntry(cluster uint32, value uint32) error {
	switch fs.family {
	case fsops.FamilyFAT16:
		off := int(cluster) * 2
		if off+2 > len(fs.fat) {
			return fsops.New(fsops.KindCorruption, "fatfs.writeFATEntry", "cluster out of range")
		}
		checksum.PutLE16(fs.fat, off, uint16(value))
	case fsops.FamilyFAT32:
		off := int(cluster) * 4
		if off+4 > len(fs.fat) {
			return fsops.New(fsops.KindCorruption, "fatfs.writeFATEntry", "cluster out of range")
		}
		existing := checksum.LE32(fs.fat, off) & 0xF0000000
		checksum.PutLE32(fs.fat, off, existing|(value&0x0FFFFFFF))
	default: // FAT12
		off := int(cluster) + int(cluster)/2
		if off+2 > len(fs.fat) {
			return fsops.New(fsops.KindCorruption, "fatfs.writeFATEntry", "cluster out of range")
		}
		packed := checksum.LE16(fs.fat, off)
		if cluster%2 == 0 {
			packed = (packed & 0xF000) | uint16(value&0x0FFF)
		} else {
			packed = (packed & 0x000F) | uint16(value<<4)
		}
		checksum.PutLE16(fs.fat, off, packed)
	}
	return nil
}

// clusterChain walks the FAT starting at start, returning the ordered
// list of clusters in the chain. It surfaces Io on a bad-cluster marker
// rather than looping forever, and Corruption if a cluster reappears (a
// cycle the media never legally produces).
func (fs *Filesystem) clusterChain(start uint32) ([]uint32, error) {
	if start < 2 {
		return nil, nil
	}
	bad := badClusterMarker(fs.family)
	eoc := eocThreshold(fs.family)

	var chain []uint32
	seen := make(map[uint32]bool)
	cur := start
	for {
		if seen[cur] {
			return nil, fsops.New(fsops.KindCorruption, "fatfs.clusterChain", "cluster chain cycle")
		}
		seen[cur] = true
		chain = append(chain, cur)

		next, err := fs.readFATEntry(cur)
		if err != nil {
			return nil, err
		}
		if next == bad {
			return nil, fsops.New(fsops.KindIo, "fatfs.clusterChain", "bad cluster in chain")
		}
		if next >= eoc {
			return chain, nil
		}
		if next < 2 {
			return nil, fsops.New(fsops.KindCorruption, "fatfs.clusterChain", "cluster chain points below cluster 2")
		}
		cur = next
	}
}

// allocateCluster finds and claims the first free (zero) cluster, marking
// it end-of-chain; it does not link it to any predecessor.
func (fs *Filesystem) allocateCluster() (uint32, error) {
	total := fs.bs.clusterCount() + 2
	for c := uint32(2); uint64(c) < total; c++ {
		v, err := fs.readFATEntry(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			if err := fs.writeFATEntry(c, eocThreshold(fs.family)); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, fsops.New(fsops.KindNoSpace, "fatfs.allocateCluster", "")
}
