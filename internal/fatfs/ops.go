package fatfs

import (
	"context"
	"time"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

var _ fsops.FilesystemOps = (*Filesystem)(nil)

func (fs *Filesystem) Info(ctx context.Context) (fsops.FilesystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("info"); err != nil {
		return fsops.FilesystemInfo{}, err
	}
	label, err := fs.rootVolumeLabel(ctx)
	if err != nil {
		label = ""
	}
	return fsops.FilesystemInfo{
		Family:     fs.family,
		Label:      label,
		TotalBytes: fs.bs.TotalSectors() * uint64(fs.bs.BytesPerSector),
		ReadOnly:   fs.mode == fsops.ReadOnly,
	}, nil
}

// rootVolumeLabel scans the root directory for its bare volume-label
// entry (attrVolumeID set, attrDir clear), the only place FAT carries a
// label; falls back to the boot sector's BSVolLab if none is present.
func (fs *Filesystem) rootVolumeLabel(ctx context.Context) (string, error) {
	buf, _, err := fs.readDirRegion(ctx, 0)
	if err != nil {
		return "", err
	}
	for pos := 0; pos+dirEntrySize <= len(buf); pos += dirEntrySize {
		if buf[pos] == 0x00 {
			break
		}
		if buf[pos] == deletedFlag {
			continue
		}
		attr := buf[pos+0x0B]
		if attr&attrVolumeID != 0 && attr&attrDir == 0 {
			var raw [11]byte
			copy(raw[:], buf[pos:pos+11])
			return shortNameToString(raw), nil
		}
	}
	return shortNameToString(fs.bs.VolumeLabel), nil
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
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	return d.attributes(), nil
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
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return nil, err
	}
	if !d.IsDir() {
		return nil, fsops.New(fsops.KindNotFound, "readdir", path)
	}
	ents, err := fs.readdirEntries(ctx, d.FirstCluster)
	if err != nil {
		return nil, err
	}
	out := make([]fsops.DirEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, fsops.DirEntry{
			Name:       e.Name,
			Attributes: e.attributes(),
			Ref:        uint64(e.FirstCluster),
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
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	if d.IsDir() {
		return 0, fsops.New(fsops.KindUnsupported, "read", path)
	}

	size := uint64(d.Size)
	if offset >= size {
		return 0, nil
	}
	if uint64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}
	if d.FirstCluster == 0 {
		return 0, nil
	}
	chain, err := fs.clusterChain(d.FirstCluster)
	if err != nil {
		return 0, err
	}

	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		ci := int(abs / fs.clusterSize)
		clusterOff := abs % fs.clusterSize
		if ci >= len(chain) {
			break
		}
		cb, err := fs.readCluster(ctx, chain[ci])
		if err != nil {
			return total, err
		}
		n := fs.clusterSize - clusterOff
		if n > uint64(len(buf)-total) {
			n = uint64(len(buf) - total)
		}
		copy(buf[total:total+int(n)], cb[clusterOff:clusterOff+n])
		total += int(n)
	}
	return total, nil
}

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
	parentCluster, d, err := fs.resolveWithParent(ctx, clean)
	if err != nil {
		return 0, err
	}
	if d.IsDir() {
		return 0, fsops.New(fsops.KindUnsupported, "write", path)
	}

	var chain []uint32
	if d.FirstCluster != 0 {
		chain, err = fs.clusterChain(d.FirstCluster)
		if err != nil {
			return 0, err
		}
	}
	needed := offset + uint64(len(buf))
	for uint64(len(chain))*fs.clusterSize < needed {
		nc, err := fs.allocateCluster()
		if err != nil {
			return 0, err
		}
		if len(chain) > 0 {
			if err := fs.writeFATEntry(chain[len(chain)-1], nc); err != nil {
				return 0, err
			}
		} else {
			d.FirstCluster = nc
		}
		chain = append(chain, nc)
	}
	if err := fs.flushFAT(ctx); err != nil {
		return 0, err
	}

	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		ci := int(abs / fs.clusterSize)
		clusterOff := abs % fs.clusterSize
		cb, err := fs.readCluster(ctx, chain[ci])
		if err != nil {
			return total, err
		}
		n := fs.clusterSize - clusterOff
		if n > uint64(len(buf)-total) {
			n = uint64(len(buf) - total)
		}
		copy(cb[clusterOff:clusterOff+n], buf[total:total+int(n)])
		if err := fs.writeCluster(ctx, chain[ci], cb); err != nil {
			return total, err
		}
		total += int(n)
	}

	newSize := uint32(d.Size)
	if needed > uint64(d.Size) {
		newSize = uint32(needed)
	}
	if err := fs.updateEntryMeta(ctx, parentCluster, d.slot, d.FirstCluster, newSize); err != nil {
		return total, err
	}
	return total, nil
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
	clean, err := fsops.Clean(path)
	if err != nil {
		return err
	}
	parentPath, base, err := splitPath(clean)
	if err != nil {
		return err
	}
	parent, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return fsops.New(fsops.KindNotFound, "create", path)
	}
	if kind == fsops.KindDirectory {
		return fs.mkdirAt(ctx, parent.FirstCluster, base)
	}
	return fs.insertEntry(ctx, parent.FirstCluster, base, attrArchive, 0, 0)
}

func (fs *Filesystem) mkdirAt(ctx context.Context, parentCluster uint32, name string) error {
	newCluster, err := fs.allocateCluster()
	if err != nil {
		return err
	}
	if err := fs.flushFAT(ctx); err != nil {
		return err
	}
	data := make([]byte, fs.clusterSize)
	dotSelf := shortNameFrom83(".", "")
	dotParent := shortNameFrom83("..", "")
	encodeShortEntry(data, 0, dotSelf, attrDir, newCluster, 0, time.Now())
	parentRef := parentCluster
	encodeShortEntry(data, dirEntrySize, dotParent, attrDir, parentRef, 0, time.Now())
	if err := fs.writeCluster(ctx, newCluster, data); err != nil {
		return err
	}
	return fs.insertEntry(ctx, parentCluster, name, attrDir, newCluster, 0)
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
	clean, err := fsops.Clean(path)
	if err != nil {
		return err
	}
	parentPath, base, err := splitPath(clean)
	if err != nil {
		return err
	}
	parent, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return fsops.New(fsops.KindNotFound, "mkdir", path)
	}
	return fs.mkdirAt(ctx, parent.FirstCluster, base)
}

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
	parentCluster, d, err := fs.resolveWithParent(ctx, clean)
	if err != nil {
		return err
	}
	if d.IsDir() {
		children, err := fs.readdirEntries(ctx, d.FirstCluster)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fsops.New(fsops.KindUnsupported, "unlink", path)
		}
	}
	_, base, _ := splitPath(clean)
	if err := fs.removeEntry(ctx, parentCluster, base); err != nil {
		return err
	}
	if d.FirstCluster != 0 {
		chain, err := fs.clusterChain(d.FirstCluster)
		if err != nil {
			return err
		}
		if err := fs.freeChain(chain); err != nil {
			return err
		}
		if err := fs.flushFAT(ctx); err != nil {
			return err
		}
	}
	return nil
}

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
	srcParentCluster, d, err := fs.resolveWithParent(ctx, cleanFrom)
	if err != nil {
		return err
	}
	dstParentPath, dstBase, err := splitPath(cleanTo)
	if err != nil {
		return err
	}
	dstParent, err := fs.resolvePath(ctx, dstParentPath)
	if err != nil {
		return err
	}
	if !dstParent.IsDir() {
		return fsops.New(fsops.KindNotFound, "rename", to)
	}
	if err := fs.insertEntry(ctx, dstParent.FirstCluster, dstBase, d.Attr, d.FirstCluster, d.Size); err != nil {
		return err
	}
	_, srcBase, _ := splitPath(cleanFrom)
	return fs.removeEntry(ctx, srcParentCluster, srcBase)
}

func (fs *Filesystem) Sync(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.flushFAT(ctx); err != nil {
		return err
	}
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
