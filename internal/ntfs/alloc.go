package ntfs

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// writeUSN is the Update Sequence Number this engine stamps on every
// record it rewrites, distinct from the formatter's 1 so a record this
// engine has touched is at least distinguishable from a freshly
// formatted one.
const writeUSN = 2

// computeHighWaterMarks seeds the cluster and MFT-record bump
// allocators from the volume's known metadata layout. No $Bitmap system
// file is parsed here, so free space is tracked as "past the highest
// cluster/record any known metadata file reaches" plus whatever this
// instance itself frees during its own lifetime: the allocator does not
// survive a Close/reopen cycle once files exist beyond $MFT/$MFTMirr,
// the NTFS analogue of the ext4 engine's single-block-group scope limit.
func (fs *Filesystem) computeHighWaterMarks() {
	var maxCluster uint64
	for _, r := range fs.mftRuns {
		if r.Sparse {
			continue
		}
		if end := uint64(r.LCN) + r.Length; end > maxCluster {
			maxCluster = end
		}
	}
	if fs.bs.MFTMirrLCN+1 > maxCluster {
		maxCluster = fs.bs.MFTMirrLCN + 1
	}
	fs.nextFreeCluster = maxCluster

	mftBytes := fs.mftAllocatedBytes()
	fs.nextFreeRecord = mftBytes / fs.bs.MFTRecordSize()
	if fs.nextFreeRecord < reservedRecords {
		fs.nextFreeRecord = reservedRecords
	}
}

func (fs *Filesystem) mftAllocatedBytes() uint64 {
	var total uint64
	for _, r := range fs.mftRuns {
		if !r.Sparse {
			total += r.Length * fs.bs.ClusterSize()
		}
	}
	return total
}

// allocateCluster hands out the next free cluster: an in-memory
// freelist of clusters this instance has itself freed, falling back to
// a bump allocator. The volume's last cluster is never handed out; it
// holds the backup boot sector.
func (fs *Filesystem) allocateCluster(ctx context.Context) (uint64, error) {
	if n := len(fs.freeClusters); n > 0 {
		c := fs.freeClusters[n-1]
		fs.freeClusters = fs.freeClusters[:n-1]
		return c, nil
	}
	totalClusters := fs.bs.TotalSectors / uint64(fs.bs.SectorsPerCluster)
	if totalClusters == 0 || fs.nextFreeCluster+1 >= totalClusters {
		return 0, fsops.New(fsops.KindNoSpace, "ntfs.allocateCluster", "")
	}
	c := fs.nextFreeCluster
	fs.nextFreeCluster++
	return c, nil
}

func (fs *Filesystem) freeCluster(c uint64) {
	fs.freeClusters = append(fs.freeClusters, c)
}

// growMFT appends one cluster to $MFT's data runlist, extending the
// last run in place when the newly claimed cluster is contiguous with
// it, and rewrites record 0 with the updated runlist.
func (fs *Filesystem) growMFT(ctx context.Context) error {
	newCluster, err := fs.allocateCluster(ctx)
	if err != nil {
		return err
	}
	runs := append([]alloc.Run(nil), fs.mftRuns...)
	if n := len(runs); n > 0 {
		last := runs[n-1]
		if !last.Sparse && uint64(last.LCN)+last.Length == newCluster {
			runs[n-1].Length++
		} else {
			runs = append(runs, alloc.Run{LCN: int64(newCluster), Length: 1})
		}
	} else {
		runs = append(runs, alloc.Run{LCN: int64(newCluster), Length: 1})
	}

	buf, err := fs.readRecord(ctx, 0)
	if err != nil {
		return err
	}
	h, err := DecodeMFTRecordHeader(buf)
	if err != nil {
		return err
	}
	var allocated uint64
	for _, r := range runs {
		if !r.Sparse {
			allocated += r.Length * fs.bs.ClusterSize()
		}
	}
	newDataAttr := formatEncodeNonResidentAttr(AttrData, "", runs, allocated, allocated, allocated)
	newBuf, err := replaceAttribute(buf, h, AttrData, "", newDataAttr, fs.bs)
	if err != nil {
		return err
	}
	fs.mftRuns = runs
	return fs.writeRecord(ctx, 0, newBuf)
}

// allocateRecord hands out the next free MFT record number, growing
// $MFT first if the region it currently spans doesn't yet cover it.
func (fs *Filesystem) allocateRecord(ctx context.Context) (uint64, error) {
	if n := len(fs.freeRecords); n > 0 {
		r := fs.freeRecords[n-1]
		fs.freeRecords = fs.freeRecords[:n-1]
		return r, nil
	}
	recordSize := fs.bs.MFTRecordSize()
	for (fs.nextFreeRecord+1)*recordSize > fs.mftAllocatedBytes() {
		if err := fs.growMFT(ctx); err != nil {
			return 0, err
		}
	}
	rec := fs.nextFreeRecord
	fs.nextFreeRecord++
	return rec, nil
}

func (fs *Filesystem) freeRecord(rec uint64) {
	fs.freeRecords = append(fs.freeRecords, rec)
}

// writeRecord persists buf, one full MFT-record-sized buffer, as record
// recordNum, resolving its location through $MFT's own runlist.
func (fs *Filesystem) writeRecord(ctx context.Context, recordNum uint64, buf []byte) error {
	recordSize := fs.bs.MFTRecordSize()
	devOffset, err := fs.resolveMFTRunOffset(recordNum*recordSize, recordSize)
	if err != nil {
		return err
	}
	if _, err := fs.dev.WriteAt(ctx, devOffset, buf); err != nil {
		return fsops.Wrap(fsops.KindIo, "ntfs.writeRecord", "", err)
	}
	fs.recordCache[recordNum] = buf
	return nil
}

// replaceAttribute rebuilds an MFT record's attribute list, swapping
// out the attribute matching (typ, name) for replacement, or appending
// it if none matches, then re-stamps the header and Update Sequence
// Array. The record's total size never changes: a replacement that
// would grow the attribute list past the record boundary is reported
// as KindNoSpace rather than attempting to extend the record itself.
func replaceAttribute(buf []byte, h *MFTRecordHeader, typ uint32, name string, replacement []byte, bs *BootSector) ([]byte, error) {
	out := make([]byte, len(buf))
	pos := int(h.AttrsOffset)
	writePos := pos
	replaced := false
	for pos+8 <= len(buf) {
		t := checksum.LE32(buf, pos)
		if t == AttrEndMarker {
			break
		}
		length := int(checksum.LE32(buf, pos+4))
		if length < 16 || pos+length > len(buf) {
			return nil, fsops.New(fsops.KindCorruption, "ntfs.replaceAttribute", "attribute length out of bounds")
		}
		nameLen := int(buf[pos+9])
		nameOffset := int(checksum.LE16(buf, pos+10))
		attrName := decodeAttrName(buf, pos+nameOffset, nameLen)

		var chunk []byte
		if t == typ && attrName == name {
			chunk = replacement
			replaced = true
		} else {
			chunk = buf[pos : pos+length]
		}
		if writePos+len(chunk) > len(out) {
			return nil, fsops.New(fsops.KindNoSpace, "ntfs.replaceAttribute", "record has no room for the rewritten attribute list")
		}
		copy(out[writePos:], chunk)
		writePos += len(chunk)
		pos += length
	}
	if !replaced {
		if writePos+len(replacement) > len(out) {
			return nil, fsops.New(fsops.KindNoSpace, "ntfs.replaceAttribute", "record has no room for a new attribute")
		}
		copy(out[writePos:], replacement)
		writePos += len(replacement)
	}
	if writePos+4 > len(out) {
		return nil, fsops.New(fsops.KindNoSpace, "ntfs.replaceAttribute", "record has no room for the end marker")
	}
	checksum.PutLE32(out, writePos, AttrEndMarker)
	writePos += 4
	h.BytesUsed = uint32(writePos)
	EncodeMFTRecordHeader(out, h)
	StampUSA(out, int(bs.BytesPerSector), int(h.UsaOffset), int(h.UsaCount), writeUSN)
	return out, nil
}
