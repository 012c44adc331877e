package fatfs

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// shortNameCandidate uppercases and strips characters the 8.3 namespace
// can't carry, splitting at the last dot.
func shortNameCandidate(name string) (base, ext string) {
	n := strings.ToUpper(name)
	dot := strings.LastIndexByte(n, '.')
	if dot < 0 {
		base = n
	} else {
		base, ext = n[:dot], n[dot+1:]
	}
	clean := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			if r == ' ' || r == '.' {
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}
	return clean(base), clean(ext)
}

// needsLongName reports whether name fails to round-trip exactly through
// its plain 8.3 rendering (lower case, length, invalid chars), in which
// case an LFN overlay is required to preserve the name verbatim.
func needsLongName(name string) bool {
	base, ext := shortNameCandidate(name)
	if len(base) > 8 || len(ext) > 3 {
		return true
	}
	canonical := base
	if ext != "" {
		canonical += "." + ext
	}
	return canonical != strings.ToUpper(name) || canonical != name
}

// uniqueShortName picks a base~N.ext alias not already present among
// existing short names.
func uniqueShortName(name string, existing map[[11]byte]bool) [11]byte {
	base, ext := shortNameCandidate(name)
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if len(base) <= 8 && !needsLongName(name) {
		return shortNameFrom83(base, ext)
	}
	trimmedBase := base
	if len(trimmedBase) > 6 {
		trimmedBase = trimmedBase[:6]
	}
	for n := 1; n < 1000; n++ {
		suffix := fmt.Sprintf("~%d", n)
		b := trimmedBase
		if len(b)+len(suffix) > 8 {
			b = b[:8-len(suffix)]
		}
		candidate := shortNameFrom83(b+suffix, ext)
		if !existing[candidate] {
			return candidate
		}
	}
	return shortNameFrom83(trimmedBase, ext)
}

// encodeLongNameEntries builds the LFN slots (in on-disk reverse sequence
// order, first slot last) plus the terminal short-name entry for name.
func encodeLongNameEntries(name string, shortName [11]byte, attr uint8, firstCluster uint32, size uint32, mt time.Time) []byte {
	units := utf16.Encode([]rune(name))
	chk := checksum.FATLFNChecksum(shortName)

	numSlots := (len(units) + 12) / 13
	if numSlots == 0 {
		numSlots = 1
	}
	padded := make([]uint16, numSlots*13)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0x0000
	}

	buf := make([]byte, (numSlots+1)*dirEntrySize)
	for slot := 0; slot < numSlots; slot++ {
		ord := uint8(numSlots - slot)
		if slot == 0 {
			ord |= 0x40
		}
		pos := slot * dirEntrySize
		e := buf[pos : pos+dirEntrySize]
		e[0] = ord
		e[0x0B] = attrLongName
		e[0x0C] = 0
		e[0x0D] = chk
		chunk := padded[(numSlots-1-slot)*13 : (numSlots-slot)*13]
		for i, u := range chunk {
			var off int
			switch {
			case i < 5:
				off = 0x01 + i*2
			case i < 11:
				off = 0x0E + (i-5)*2
			default:
				off = 0x1C + (i-11)*2
			}
			checksum.PutLE16(e, off, u)
		}
	}
	encodeShortEntry(buf, numSlots*dirEntrySize, shortName, attr, firstCluster, size, mt)
	return buf
}

// insertEntry appends a new directory entry (with an LFN overlay when the
// name needs one) into dirCluster's region, growing a non-root cluster
// chain by one cluster if the existing region has no free slot.
func (fs *Filesystem) insertEntry(ctx context.Context, dirCluster uint32, name string, attr uint8, firstCluster uint32, size uint32) error {
	buf, chain, err := fs.readDirRegion(ctx, dirCluster)
	if err != nil {
		return err
	}
	existing := make(map[[11]byte]bool)
	for pos := 0; pos+dirEntrySize <= len(buf); pos += dirEntrySize {
		if buf[pos] == 0x00 || buf[pos] == deletedFlag {
			continue
		}
		if buf[pos+0x0B]&attrLongName == attrLongName {
			continue
		}
		var sn [11]byte
		copy(sn[:], buf[pos:pos+11])
		existing[sn] = true
	}

	shortName := uniqueShortName(name, existing)
	var entryBytes []byte
	if needsLongName(name) {
		entryBytes = encodeLongNameEntries(name, shortName, attr, firstCluster, size, time.Now())
	} else {
		entryBytes = make([]byte, dirEntrySize)
		encodeShortEntry(entryBytes, 0, shortName, attr, firstCluster, size, time.Now())
	}

	freeStart := findFreeRun(buf, len(entryBytes))
	if freeStart >= 0 {
		copy(buf[freeStart:], entryBytes)
		return fs.writeDirRegion(ctx, dirCluster, chain, buf)
	}

	if dirCluster == 0 && fs.family != fsops.FamilyFAT32 {
		return fsops.New(fsops.KindNoSpace, "fatfs.insertEntry", "root directory full")
	}
	newCluster, err := fs.allocateCluster()
	if err != nil {
		return err
	}
	if len(chain) > 0 {
		if err := fs.writeFATEntry(chain[len(chain)-1], newCluster); err != nil {
			return err
		}
	}
	if err := fs.flushFAT(ctx); err != nil {
		return err
	}
	extended := make([]byte, uint64(fs.clusterSize))
	copy(extended, entryBytes)
	if err := fs.writeCluster(ctx, newCluster, extended); err != nil {
		return err
	}
	return nil
}

// findFreeRun returns the offset of the first run of n bytes' worth of
// free (0x00 or 0xE5) entry slots, or -1 if none exists.
func findFreeRun(buf []byte, n int) int {
	need := (n + dirEntrySize - 1) / dirEntrySize
	run := 0
	for pos := 0; pos+dirEntrySize <= len(buf); pos += dirEntrySize {
		if buf[pos] == 0x00 || buf[pos] == deletedFlag {
			run++
			if run == need {
				return pos - (run-1)*dirEntrySize
			}
		} else {
			run = 0
		}
	}
	return -1
}

// removeEntry marks name's short entry (and any preceding LFN slots) as
// deleted within dirCluster.
func (fs *Filesystem) removeEntry(ctx context.Context, dirCluster uint32, name string) error {
	buf, chain, err := fs.readDirRegion(ctx, dirCluster)
	if err != nil {
		return err
	}
	var pendingStart = -1
	for pos := 0; pos+dirEntrySize <= len(buf); pos += dirEntrySize {
		if buf[pos] == 0x00 {
			break
		}
		if buf[pos] == deletedFlag {
			pendingStart = -1
			continue
		}
		if buf[pos+0x0B]&attrLongName == attrLongName {
			if pendingStart < 0 {
				pendingStart = pos
			}
			continue
		}
		var sn [11]byte
		copy(sn[:], buf[pos:pos+11])
		decodedName := shortNameToString(sn)
		match := strings.EqualFold(decodedName, name)
		if !match && pendingStart >= 0 {
			// recompute the LFN-derived name the same way decodeDirRegion does
			region, _ := decodeDirRegion(buf[min(pendingStart, pos):pos+dirEntrySize])
			if len(region) == 1 {
				match = strings.EqualFold(region[0].Name, name)
			}
		}
		if match {
			start := pos
			if pendingStart >= 0 {
				start = pendingStart
			}
			for p := start; p <= pos; p += dirEntrySize {
				buf[p] = deletedFlag
			}
			return fs.writeDirRegion(ctx, dirCluster, chain, buf)
		}
		pendingStart = -1
	}
	return fsops.New(fsops.KindNotFound, "fatfs.removeEntry", name)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// freeChain marks every cluster in chain as free (zero) in the in-memory
// FAT; the caller must flushFAT.
func (fs *Filesystem) freeChain(chain []uint32) error {
	for _, c := range chain {
		if err := fs.writeFATEntry(c, 0); err != nil {
			return err
		}
	}
	return nil
}

// updateEntryMeta rewrites the size/first-cluster/mtime fields of the
// short-name entry at slot within dirCluster's region, in place.
func (fs *Filesystem) updateEntryMeta(ctx context.Context, dirCluster uint32, slot uint32, firstCluster uint32, size uint32) error {
	buf, chain, err := fs.readDirRegion(ctx, dirCluster)
	if err != nil {
		return err
	}
	pos := int(slot)
	if pos+dirEntrySize > len(buf) {
		return fsops.New(fsops.KindCorruption, "fatfs.updateEntryMeta", "slot out of range")
	}
	e := buf[pos : pos+dirEntrySize]
	checksum.PutLE16(e, 0x14, uint16(firstCluster>>16))
	checksum.PutLE16(e, 0x1A, uint16(firstCluster))
	checksum.PutLE32(e, 0x1C, size)
	now := time.Now()
	checksum.PutLE16(e, 0x16, encodeFATTime(now))
	checksum.PutLE16(e, 0x18, encodeFATDate(now))
	return fs.writeDirRegion(ctx, dirCluster, chain, buf)
}
