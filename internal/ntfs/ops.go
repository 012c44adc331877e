package ntfs

import (
	"context"
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

var _ fsops.FilesystemOps = (*Filesystem)(nil)

func (fs *Filesystem) Info(ctx context.Context) (fsops.FilesystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("info"); err != nil {
		return fsops.FilesystemInfo{}, err
	}

	label, err := fs.volumeLabel(ctx)
	if err != nil {
		label = ""
	}
	return fsops.FilesystemInfo{
		Family:     fsops.FamilyNTFS,
		Label:      label,
		TotalBytes: fs.bs.VolumeSize(),
		ReadOnly:   fs.mode == fsops.ReadOnly,
	}, nil
}

func (fs *Filesystem) Stat(ctx context.Context, path string) (fsops.FileAttributes, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("stat"); err != nil {
		return fsops.FileAttributes{}, err
	}

	clean, err := fsops.Clean(path)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	rec, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	ra, err := fs.loadRecordAttrs(ctx, rec)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	return ra.attributes(), nil
}

func (fs *Filesystem) Readdir(ctx context.Context, path string) ([]fsops.DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("readdir"); err != nil {
		return nil, err
	}

	clean, err := fsops.Clean(path)
	if err != nil {
		return nil, err
	}
	rec, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return nil, err
	}
	entries, err := fs.readdirRecord(ctx, rec)
	if err != nil {
		return nil, err
	}

	out := make([]fsops.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == nil || e.Name.Name == "." {
			continue
		}
		childRec := e.FileRef & 0x0000FFFFFFFFFFFF
		childAttrs, err := fs.loadRecordAttrs(ctx, childRec)
		if err != nil {
			continue
		}
		out = append(out, fsops.DirEntry{
			Name:       e.Name.Name,
			Attributes: childAttrs.attributes(),
			Ref:        childRec,
		})
	}
	return out, nil
}

func (fs *Filesystem) Read(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("read"); err != nil {
		return 0, err
	}

	clean, err := fsops.Clean(path)
	if err != nil {
		return 0, err
	}
	rec, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	ra, err := fs.loadRecordAttrs(ctx, rec)
	if err != nil {
		return 0, err
	}
	if ra.header.IsDirectory() || ra.data == nil {
		return 0, fsops.New(fsops.KindUnsupported, "read", path)
	}

	data, err := fs.readAttributeData(ctx, *ra.data, offset, uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	n := copy(buf, data)
	return n, nil
}

// Write rewrites a regular file's resident $DATA attribute in place.
// Only resident $DATA is supported: this engine never allocates cluster
// runs for file content, so a write that would grow a file past what
// fits inside its own MFT record reports KindNoSpace instead of
// spilling into a non-resident run.
func (fs *Filesystem) Write(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	if fs.mode != fsops.ReadWrite {
		return 0, fsops.New(fsops.KindReadOnly, "write", path)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkPoisoned("write"); err != nil {
		return 0, err
	}

	clean, err := fsops.Clean(path)
	if err != nil {
		return 0, err
	}
	rec, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	ra, err := fs.loadRecordAttrs(ctx, rec)
	if err != nil {
		return 0, err
	}
	if ra.header.IsDirectory() || ra.data == nil || ra.data.Header.NonResident {
		return 0, fsops.New(fsops.KindUnsupported, "write", path)
	}

	newLen := offset + uint64(len(buf))
	if newLen < uint64(len(ra.data.Value)) {
		newLen = uint64(len(ra.data.Value))
	}
	value := make([]byte, newLen)
	copy(value, ra.data.Value)
	copy(value[offset:], buf)

	recBuf, err := fs.readRecord(ctx, rec)
	if err != nil {
		return 0, err
	}
	newAttr := formatEncodeResidentAttr(AttrData, "", value)
	newRecBuf, err := replaceAttribute(recBuf, ra.header, AttrData, "", newAttr, fs.bs)
	if err != nil {
		return 0, err
	}
	if err := fs.writeRecord(ctx, rec, newRecBuf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func inodeModeFlags(isDir bool) uint32 {
	if isDir {
		return 0x10
	}
	return 0x20
}

// buildChildRecord assembles a fresh MFT record for a new file or
// directory: $STANDARD_INFORMATION, $FILE_NAME naming its parent, and
// either an empty resident $DATA (files) or an empty $INDEX_ROOT
// (directories).
func buildChildRecord(recordNum, parentRec uint64, name string, isDir bool, now time.Time) []byte {
	ft := formatTimeToFiletime(now)
	stdInfo := make([]byte, 48)
	checksum.PutLE64(stdInfo, 0x00, ft)
	checksum.PutLE64(stdInfo, 0x08, ft)
	checksum.PutLE64(stdInfo, 0x10, ft)
	checksum.PutLE64(stdInfo, 0x18, ft)
	checksum.PutLE32(stdInfo, 0x20, inodeModeFlags(isDir))

	fileName := newFileNameValue(parentRec, name, now, isDir)

	flags := uint16(recordFlagInUse)
	var contentAttr []byte
	if isDir {
		flags |= recordFlagDirectory
		contentAttr = formatEncodeResidentAttr(AttrIndexRoot, indexAttrName, formatEncodeIndexRootEmpty())
	} else {
		contentAttr = formatEncodeResidentAttr(AttrData, "", nil)
	}

	return formatBuildMFTRecord(&MFTRecordHeader{
		SequenceNumber:  1,
		LinkCount:       1,
		Flags:           flags,
		MFTRecordNumber: uint32(recordNum),
	},
		formatEncodeResidentAttr(AttrStandardInformation, "", stdInfo),
		formatEncodeResidentAttr(AttrFileName, "", fileName),
		contentAttr,
	)
}

// insertChild adds name -> childRec to parentRec's $INDEX_ROOT, rebuilt
// fresh from its existing entries plus the new one in sorted order.
func (fs *Filesystem) insertChild(ctx context.Context, parentRec uint64, name string, childRec uint64, isDir bool, now time.Time) error {
	buf, err := fs.readRecord(ctx, parentRec)
	if err != nil {
		return err
	}
	h, err := DecodeMFTRecordHeader(buf)
	if err != nil {
		return err
	}
	ra, err := fs.loadRecordAttrs(ctx, parentRec)
	if err != nil {
		return err
	}
	if ra.indexRoot == nil {
		return fsops.New(fsops.KindUnsupported, "ntfs.insertChild", "")
	}
	existing, err := decodeIndexRootValue(ra.indexRoot)
	if err != nil {
		return err
	}
	add := &IndexEntry{FileRef: childRec, Name: &FileNameAttr{
		ParentRef: parentRec,
		Name:      name,
		Flags:     inodeModeFlags(isDir),
	}}
	entries := rebuildIndexEntries(existing, add, "")
	newValue := encodeIndexRootValue(entries)
	newAttr := formatEncodeResidentAttr(AttrIndexRoot, indexAttrName, newValue)
	newBuf, err := replaceAttribute(buf, h, AttrIndexRoot, indexAttrName, newAttr, fs.bs)
	if err != nil {
		return err
	}
	return fs.writeRecord(ctx, parentRec, newBuf)
}

// removeChild drops name from parentRec's $INDEX_ROOT.
func (fs *Filesystem) removeChild(ctx context.Context, parentRec uint64, name string) error {
	buf, err := fs.readRecord(ctx, parentRec)
	if err != nil {
		return err
	}
	h, err := DecodeMFTRecordHeader(buf)
	if err != nil {
		return err
	}
	ra, err := fs.loadRecordAttrs(ctx, parentRec)
	if err != nil {
		return err
	}
	existing, err := decodeIndexRootValue(ra.indexRoot)
	if err != nil {
		return err
	}
	entries := rebuildIndexEntries(existing, nil, name)
	newValue := encodeIndexRootValue(entries)
	newAttr := formatEncodeResidentAttr(AttrIndexRoot, indexAttrName, newValue)
	newBuf, err := replaceAttribute(buf, h, AttrIndexRoot, indexAttrName, newAttr, fs.bs)
	if err != nil {
		return err
	}
	return fs.writeRecord(ctx, parentRec, newBuf)
}

func (fs *Filesystem) createChild(ctx context.Context, path string, isDir bool) error {
	clean, err := fsops.Clean(path)
	if err != nil {
		return err
	}
	dir, name := fsops.Split(clean)
	if name == "" {
		return fsops.New(fsops.KindUnsupported, "create", path)
	}
	parentRec, err := fs.resolvePath(ctx, dir)
	if err != nil {
		return err
	}

	childRec, err := fs.allocateRecord(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	buf := buildChildRecord(childRec, parentRec, name, isDir, now)
	if err := fs.writeRecord(ctx, childRec, buf); err != nil {
		return err
	}
	return fs.insertChild(ctx, parentRec, name, childRec, isDir, now)
}

func (fs *Filesystem) Create(ctx context.Context, path string, kind fsops.FileKind, mode uint32) error {
	if fs.mode != fsops.ReadWrite {
		return fsops.New(fsops.KindReadOnly, "create", path)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkPoisoned("create"); err != nil {
		return err
	}
	if kind == fsops.KindDirectory {
		return fs.createChild(ctx, path, true)
	}
	return fs.createChild(ctx, path, false)
}

func (fs *Filesystem) Mkdir(ctx context.Context, path string, mode uint32) error {
	if fs.mode != fsops.ReadWrite {
		return fsops.New(fsops.KindReadOnly, "mkdir", path)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkPoisoned("mkdir"); err != nil {
		return err
	}
	return fs.createChild(ctx, path, true)
}

// Unlink removes name's directory entry and returns its MFT record to
// the free pool. A directory must be empty (no entries besides its own
// terminal marker); there is no dedicated "directory not empty" Kind in
// this engine's closed error enum, so that case reports KindUnsupported,
// matching how Read reports reading a directory as a file.
func (fs *Filesystem) Unlink(ctx context.Context, path string) error {
	if fs.mode != fsops.ReadWrite {
		return fsops.New(fsops.KindReadOnly, "unlink", path)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkPoisoned("unlink"); err != nil {
		return err
	}

	clean, err := fsops.Clean(path)
	if err != nil {
		return err
	}
	if clean == "/" {
		return fsops.New(fsops.KindUnsupported, "unlink", path)
	}
	dir, name := fsops.Split(clean)
	parentRec, err := fs.resolvePath(ctx, dir)
	if err != nil {
		return err
	}
	childRec, err := fs.lookupInDir(ctx, parentRec, name)
	if err != nil {
		return err
	}
	childRa, err := fs.loadRecordAttrs(ctx, childRec)
	if err != nil {
		return err
	}
	if childRa.header.IsDirectory() {
		entries, err := fs.readdirRecord(ctx, childRec)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name != nil && e.Name.Name != "." {
				return fsops.New(fsops.KindUnsupported, "unlink", path)
			}
		}
	}

	if err := fs.removeChild(ctx, parentRec, name); err != nil {
		return err
	}
	fs.freeRecord(childRec)
	delete(fs.recordCache, childRec)
	return nil
}

// Rename inserts to's entry before removing from's, mirroring the FAT
// and ext4 engines' ordering so a crash between the two steps leaves the
// file reachable under both names rather than neither. A cross-directory
// move also rewrites the moved record's own $FILE_NAME so its ParentRef
// and Name track its new location.
func (fs *Filesystem) Rename(ctx context.Context, from, to string) error {
	if fs.mode != fsops.ReadWrite {
		return fsops.New(fsops.KindReadOnly, "rename", from)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.checkPoisoned("rename"); err != nil {
		return err
	}

	cleanFrom, err := fsops.Clean(from)
	if err != nil {
		return err
	}
	cleanTo, err := fsops.Clean(to)
	if err != nil {
		return err
	}
	fromDir, fromName := fsops.Split(cleanFrom)
	toDir, toName := fsops.Split(cleanTo)

	fromParent, err := fs.resolvePath(ctx, fromDir)
	if err != nil {
		return err
	}
	toParent, err := fs.resolvePath(ctx, toDir)
	if err != nil {
		return err
	}
	rec, err := fs.lookupInDir(ctx, fromParent, fromName)
	if err != nil {
		return err
	}
	ra, err := fs.loadRecordAttrs(ctx, rec)
	if err != nil {
		return err
	}
	isDir := ra.header.IsDirectory()

	if err := fs.insertChild(ctx, toParent, toName, rec, isDir, time.Now()); err != nil {
		return err
	}
	if err := fs.removeChild(ctx, fromParent, fromName); err != nil {
		return err
	}

	if fromParent != toParent || fromName != toName {
		recBuf, err := fs.readRecord(ctx, rec)
		if err != nil {
			return err
		}
		h, err := DecodeMFTRecordHeader(recBuf)
		if err != nil {
			return err
		}
		fn := *ra.fileName
		fn.ParentRef = toParent
		fn.Name = toName
		newAttr := formatEncodeResidentAttr(AttrFileName, "", encodeFileNameValue(&fn))
		newBuf, err := replaceAttribute(recBuf, h, AttrFileName, "", newAttr, fs.bs)
		if err != nil {
			return err
		}
		if err := fs.writeRecord(ctx, rec, newBuf); err != nil {
			return err
		}
	}
	return nil
}

func (fs *Filesystem) Sync(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dev.Flush(ctx)
}

func (fs *Filesystem) Close(ctx context.Context) error {
	if fs.mode == fsops.ReadWrite {
		if err := fs.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}

// volumeLabel reads the $VOLUME_NAME attribute (type 0x60) off the
// fixed $Volume record (MFT record 3).
func (fs *Filesystem) volumeLabel(ctx context.Context) (string, error) {
	const (
		volumeRecord  = 3
		attrVolumeName = 0x60
	)
	ra, err := fs.loadRecordAttrs(ctx, volumeRecord)
	if err != nil {
		return "", err
	}
	var label string
	buf, err := fs.readRecord(ctx, volumeRecord)
	if err != nil {
		return "", err
	}
	err = WalkAttributes(buf, int(ra.header.AttrsOffset), func(a Attribute) (bool, error) {
		if a.Header.Type == attrVolumeName {
			label = decodeAttrName(a.Value, 0, len(a.Value)/2)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}
	return label, nil
}
