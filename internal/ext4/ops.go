package ext4

import (
	"context"
	"time"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

var _ fsops.FilesystemOps = (*Filesystem)(nil)

func (fs *Filesystem) Info(ctx context.Context) (fsops.FilesystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("info"); err != nil {
		return fsops.FilesystemInfo{}, err
	}

	family := fsops.FamilyExt4
	if !fs.sb.HasExtents() {
		family = fsops.FamilyExt2
		if fs.sb.HasJournal() {
			family = fsops.FamilyExt3
		}
	}

	blockSize := fs.sb.BlockSize()
	return fsops.FilesystemInfo{
		Family:     family,
		Label:      fs.sb.VolumeLabel(),
		TotalBytes: fs.sb.BlockCount() * blockSize,
		UsedBytes:  (fs.sb.BlockCount() - fs.sb.FreeBlockCount()) * blockSize,
		ReadOnly:   fs.mode == fsops.ReadOnly,
		Features:   uint64(fs.sb.FeatureIncompat)<<32 | uint64(fs.sb.FeatureCompat),
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
	ino, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	in, err := fs.readInode(ctx, ino)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	return in.Attributes(), nil
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
	ino, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return nil, err
	}
	ents, err := fs.readdirInode(ctx, ino)
	if err != nil {
		return nil, err
	}

	out := make([]fsops.DirEntry, 0, len(ents))
	for _, e := range ents {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		childIno, err := fs.readInode(ctx, e.Inode)
		if err != nil {
			continue
		}
		out = append(out, fsops.DirEntry{
			Name:       e.Name,
			Attributes: childIno.Attributes(),
			Ref:        uint64(e.Inode),
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
	ino, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	in, err := fs.readInode(ctx, ino)
	if err != nil {
		return 0, err
	}
	if in.Kind() == fsops.KindDirectory {
		return 0, fsops.New(fsops.KindUnsupported, "read", path)
	}

	size := in.Size()
	if offset >= size {
		return 0, nil
	}
	if uint64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	blockSize := fs.sb.BlockSize()
	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		lb := uint32(abs / blockSize)
		blockOff := abs % blockSize
		phys, ok, err := fs.resolveBlock(ctx, in, lb)
		if err != nil {
			return total, err
		}
		n := blockSize - blockOff
		if n > uint64(len(buf)-total) {
			n = uint64(len(buf) - total)
		}
		if !ok {
			for i := uint64(0); i < n; i++ {
				buf[total] = 0
				total++
			}
			continue
		}
		block, err := fs.readBlock(ctx, phys)
		if err != nil {
			return total, err
		}
		copy(buf[total:total+int(n)], block[blockOff:blockOff+n])
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
	ino, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	in, err := fs.readInode(ctx, ino)
	if err != nil {
		return 0, err
	}
	if in.Kind() == fsops.KindDirectory {
		return 0, fsops.New(fsops.KindUnsupported, "write", path)
	}

	blockSize := fs.sb.BlockSize()
	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		lb := uint32(abs / blockSize)
		blockOff := abs % blockSize
		phys, ok, err := fs.resolveBlock(ctx, in, lb)
		if err != nil {
			return total, err
		}
		if !ok {
			phys, err = fs.appendBlockToInode(ctx, in, lb)
			if err != nil {
				return total, err
			}
		}
		block, err := fs.readBlock(ctx, phys)
		if err != nil {
			return total, err
		}
		n := blockSize - blockOff
		if n > uint64(len(buf)-total) {
			n = uint64(len(buf) - total)
		}
		copy(block[blockOff:blockOff+n], buf[total:total+int(n)])
		if err := fs.writeBlock(ctx, phys, block); err != nil {
			return total, err
		}
		total += int(n)
	}

	newSize := offset + uint64(total)
	if newSize > in.Size() {
		in.SetSize(newSize)
	}
	if err := fs.writeInode(ctx, ino, in); err != nil {
		return total, err
	}
	return total, nil
}

// newExtentInode builds an inode with an empty, depth-0 extent-tree root,
// the only inode shape this engine's write path creates.
func newExtentInode(mode uint16, now uint32) *Inode {
	in := &Inode{
		Mode:       mode,
		LinksCount: 1,
		Flags:      inodeFlagUsesExtents,
		AccessTime: now,
		ChangeTime: now,
		ModifyTime: now,
	}
	alloc.EncodeExtentHeader(in.Block[:], alloc.ExtentHeader{
		Magic:   alloc.ExtentMagic,
		Entries: 0,
		Max:     4,
		Depth:   0,
	})
	return in
}

func inodeModeBits(kind fsops.FileKind) uint16 {
	switch kind {
	case fsops.KindDirectory:
		return modeDir
	case fsops.KindSymlink:
		return modeSymlink
	default:
		return modeRegular
	}
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
	parentPath, base := fsops.Split(clean)
	if base == "" {
		return fsops.New(fsops.KindUnsupported, "create", path)
	}
	parentIno, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return err
	}
	if kind == fsops.KindDirectory {
		return fs.mkdirAt(ctx, parentIno, base)
	}

	ino, err := fs.allocateInode(ctx, false)
	if err != nil {
		return err
	}
	in := newExtentInode(inodeModeBits(kind)|uint16(mode&0o7777), uint32(time.Now().Unix()))
	if err := fs.writeInode(ctx, ino, in); err != nil {
		return err
	}
	return fs.insertDirEntry(ctx, parentIno, base, ino, direntFileType(kind))
}

// mkdirAt allocates a fresh inode and single-block directory (holding "."
// and "..") and links it into parentIno as name.
func (fs *Filesystem) mkdirAt(ctx context.Context, parentIno uint32, name string) error {
	ino, err := fs.allocateInode(ctx, true)
	if err != nil {
		return err
	}
	now := uint32(time.Now().Unix())
	in := newExtentInode(modeDir|0o755, now)
	in.LinksCount = 2

	phys, err := fs.appendBlockToInode(ctx, in, 0)
	if err != nil {
		return err
	}
	dirBuf := encodeDirBlock([]rawDirent{
		{Inode: ino, NameLen: 1, Type: fileTypeDir, Name: "."},
		{Inode: parentIno, NameLen: 2, Type: fileTypeDir, Name: ".."},
	}, int(fs.sb.BlockSize()))
	if err := fs.writeBlock(ctx, phys, dirBuf); err != nil {
		return err
	}
	in.SetSize(fs.sb.BlockSize())
	if err := fs.writeInode(ctx, ino, in); err != nil {
		return err
	}
	if err := fs.insertDirEntry(ctx, parentIno, name, ino, fileTypeDir); err != nil {
		return err
	}

	parent, err := fs.readInode(ctx, parentIno)
	if err != nil {
		return err
	}
	parent.LinksCount++
	return fs.writeInode(ctx, parentIno, parent)
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
	parentPath, base := fsops.Split(clean)
	if base == "" {
		return fsops.New(fsops.KindUnsupported, "mkdir", path)
	}
	parentIno, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return err
	}
	return fs.mkdirAt(ctx, parentIno, base)
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
	if clean == "/" {
		return fsops.New(fsops.KindUnsupported, "unlink", path)
	}
	parentPath, base := fsops.Split(clean)
	parentIno, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return err
	}
	ino, _, err := fs.lookupInDir(ctx, parentIno, base)
	if err != nil {
		return err
	}
	in, err := fs.readInode(ctx, ino)
	if err != nil {
		return err
	}

	isDir := in.Kind() == fsops.KindDirectory
	if isDir {
		ents, err := fs.readdirInode(ctx, ino)
		if err != nil {
			return err
		}
		for _, e := range ents {
			if e.Name != "." && e.Name != ".." {
				return fsops.New(fsops.KindUnsupported, "unlink", path)
			}
		}
	}

	if err := fs.removeDirEntry(ctx, parentIno, base); err != nil {
		return err
	}
	if err := fs.freeInodeBlocks(ctx, in); err != nil {
		return err
	}
	if err := fs.freeInode(ctx, ino, isDir); err != nil {
		return err
	}
	if !isDir {
		return nil
	}

	parent, err := fs.readInode(ctx, parentIno)
	if err != nil {
		return err
	}
	if parent.LinksCount > 0 {
		parent.LinksCount--
	}
	return fs.writeInode(ctx, parentIno, parent)
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
	srcParentPath, srcBase := fsops.Split(cleanFrom)
	srcParentIno, err := fs.resolvePath(ctx, srcParentPath)
	if err != nil {
		return err
	}
	ino, ftype, err := fs.lookupInDir(ctx, srcParentIno, srcBase)
	if err != nil {
		return err
	}
	dstParentPath, dstBase := fsops.Split(cleanTo)
	dstParentIno, err := fs.resolvePath(ctx, dstParentPath)
	if err != nil {
		return err
	}

	if err := fs.insertDirEntry(ctx, dstParentIno, dstBase, ino, ftype); err != nil {
		return err
	}
	if err := fs.removeDirEntry(ctx, srcParentIno, srcBase); err != nil {
		return err
	}

	if ftype != fileTypeDir || dstParentIno == srcParentIno {
		return nil
	}
	in, err := fs.readInode(ctx, ino)
	if err != nil {
		return err
	}
	if err := fs.rewriteDotDot(ctx, in, dstParentIno); err != nil {
		return err
	}
	dstParent, err := fs.readInode(ctx, dstParentIno)
	if err != nil {
		return err
	}
	dstParent.LinksCount++
	if err := fs.writeInode(ctx, dstParentIno, dstParent); err != nil {
		return err
	}
	srcParent, err := fs.readInode(ctx, srcParentIno)
	if err != nil {
		return err
	}
	if srcParent.LinksCount > 0 {
		srcParent.LinksCount--
	}
	return fs.writeInode(ctx, srcParentIno, srcParent)
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
