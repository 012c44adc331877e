package ntfs

import (
	"context"
	"strings"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// indexAttrName is the $I30 stream name NTFS uses for the standard
// filename index on directories.
const indexAttrName = "$I30"

// recordAttrs is the small set of attributes this engine extracts from
// one MFT record: its header, its primary $FILE_NAME (Win32/POSIX
// namespace preferred over the 8.3-only DOS alias), the unnamed $DATA
// attribute (files), and the $INDEX_ROOT/$INDEX_ALLOCATION attributes
// (directories).
type recordAttrs struct {
	header      *MFTRecordHeader
	fileName    *FileNameAttr
	stdInfo     *StandardInformation
	data        *Attribute
	indexRoot   []byte
	indexAlloc  *Attribute
}

func (fs *Filesystem) loadRecordAttrs(ctx context.Context, recordNum uint64) (*recordAttrs, error) {
	buf, err := fs.readRecord(ctx, recordNum)
	if err != nil {
		return nil, err
	}
	h, err := DecodeMFTRecordHeader(buf)
	if err != nil {
		return nil, err
	}
	if string(h.Signature[:]) == BadSignature {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.loadRecordAttrs", "record flagged BAAD by a prior torn write")
	}
	if string(h.Signature[:]) != MFTSignature {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.loadRecordAttrs", "missing FILE signature")
	}

	ra := &recordAttrs{header: h}
	err = WalkAttributes(buf, int(h.AttrsOffset), func(a Attribute) (bool, error) {
		switch {
		case a.Header.Type == AttrFileName && ra.fileName == nil:
			fn, err := DecodeFileName(a.Value)
			if err != nil {
				return false, err
			}
			ra.fileName = fn
		case a.Header.Type == AttrStandardInformation && ra.stdInfo == nil:
			si, err := DecodeStandardInformation(a.Value)
			if err != nil {
				return false, err
			}
			ra.stdInfo = si
		case a.Header.Type == AttrData && a.Name == "" && ra.data == nil:
			cp := a
			ra.data = &cp
		case a.Header.Type == AttrIndexRoot && a.Name == indexAttrName:
			ra.indexRoot = a.Value
		case a.Header.Type == AttrIndexAllocation && a.Name == indexAttrName:
			cp := a
			ra.indexAlloc = &cp
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ra, nil
}

// attributes converts a loaded record into the uniform fsops.FileAttributes.
func (ra *recordAttrs) attributes() fsops.FileAttributes {
	attrs := fsops.FileAttributes{
		Kind:      fileKindFromRecord(ra.header.IsDirectory()),
		LinkCount: uint32(ra.header.LinkCount),
	}
	if ra.data != nil {
		attrs.Size = attributeSize(*ra.data)
	} else if ra.fileName != nil {
		attrs.Size = ra.fileName.RealSize
	}
	if ra.stdInfo != nil {
		attrs.ModTime = ra.stdInfo.ModifiedTime
		attrs.AccTime = ra.stdInfo.AccessTime
		attrs.ChgTime = ra.stdInfo.MFTChangedTime
		attrs.CrTime = ra.stdInfo.CreationTime
	} else if ra.fileName != nil {
		attrs.ModTime = ra.fileName.ModifiedTime
		attrs.AccTime = ra.fileName.AccessTime
		attrs.CrTime = ra.fileName.CreationTime
	}
	if attrs.Kind == fsops.KindDirectory {
		attrs.Mode = 0755
	} else {
		attrs.Mode = 0644
	}
	return attrs
}

// readdirRecord performs an in-order traversal of a directory record's
// $I30 B+tree index, flattening $INDEX_ROOT's inline entries and every
// $INDEX_ALLOCATION subnode they reference.
func (fs *Filesystem) readdirRecord(ctx context.Context, dirRecordNum uint64) ([]IndexEntry, error) {
	ra, err := fs.loadRecordAttrs(ctx, dirRecordNum)
	if err != nil {
		return nil, err
	}
	if !ra.header.IsDirectory() || ra.indexRoot == nil {
		return nil, fsops.New(fsops.KindNotFound, "ntfs.readdirRecord", "")
	}
	rootEntries, err := decodeIndexRootValue(ra.indexRoot)
	if err != nil {
		return nil, err
	}

	var out []IndexEntry
	if err := fs.walkIndexEntries(ctx, rootEntries, ra.indexAlloc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (fs *Filesystem) walkIndexEntries(ctx context.Context, entries []IndexEntry, indexAlloc *Attribute, out *[]IndexEntry) error {
	for _, e := range entries {
		if e.HasSubnode {
			if indexAlloc == nil {
				return fsops.New(fsops.KindCorruption, "ntfs.walkIndexEntries", "entry has a subnode but no $INDEX_ALLOCATION attribute")
			}
			recSize := fs.bs.IndexRecordSize()
			buf, err := fs.readAttributeData(ctx, *indexAlloc, e.SubnodeVCN*recSize, recSize)
			if err != nil {
				return err
			}
			if err := ApplyUSAFixup(buf, int(fs.bs.BytesPerSector)); err != nil {
				return err
			}
			childEntries, err := decodeIndexAllocationRecord(buf)
			if err != nil {
				return err
			}
			if err := fs.walkIndexEntries(ctx, childEntries, indexAlloc, out); err != nil {
				return err
			}
		}
		if !e.IsLast {
			*out = append(*out, e)
		}
	}
	return nil
}

// lookupInDir finds name among dirRecordNum's children.
func (fs *Filesystem) lookupInDir(ctx context.Context, dirRecordNum uint64, name string) (uint64, error) {
	entries, err := fs.readdirRecord(ctx, dirRecordNum)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name != nil && e.Name.Name == name {
			return e.FileRef & 0x0000FFFFFFFFFFFF, nil // low 48 bits: MFT record number
		}
	}
	return 0, fsops.New(fsops.KindNotFound, "ntfs.lookupInDir", name)
}

// resolvePath walks path from the root directory record, returning the
// terminal MFT record number. path must already be Clean()-ed.
func (fs *Filesystem) resolvePath(ctx context.Context, path string) (uint64, error) {
	if path == "/" {
		return RootDirRecord, nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := uint64(RootDirRecord)
	for _, seg := range segments {
		rec, err := fs.lookupInDir(ctx, current, seg)
		if err != nil {
			return 0, err
		}
		current = rec
	}
	return current, nil
}
