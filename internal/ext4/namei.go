package ext4

import (
	"context"
	"strings"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// readdirInode lists the directory entries of the directory inode dirIno,
// walking every data block the inode maps (classic or extent) and
// decoding the linear directory-entry records in each.
func (fs *Filesystem) readdirInode(ctx context.Context, dirIno uint32) ([]rawDirent, error) {
	in, err := fs.readInode(ctx, dirIno)
	if err != nil {
		return nil, err
	}
	if in.Kind() != fsops.KindDirectory {
		return nil, fsops.New(fsops.KindNotFound, "ext4.readdirInode", "")
	}

	blockSize := fs.sb.BlockSize()
	numBlocks := (in.Size() + blockSize - 1) / blockSize
	var out []rawDirent
	for lb := uint32(0); uint64(lb) < numBlocks; lb++ {
		phys, ok, err := fs.resolveBlock(ctx, in, lb)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		buf, err := fs.readBlock(ctx, phys)
		if err != nil {
			return nil, err
		}
		ents, err := decodeDirBlock(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, ents...)
	}
	return out, nil
}

// lookupInDir finds name among dirIno's children, returning its inode
// number and directory-entry file-type byte.
func (fs *Filesystem) lookupInDir(ctx context.Context, dirIno uint32, name string) (uint32, uint8, error) {
	ents, err := fs.readdirInode(ctx, dirIno)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range ents {
		if e.Name == name {
			return e.Inode, e.Type, nil
		}
	}
	return 0, 0, fsops.New(fsops.KindNotFound, "ext4.lookupInDir", name)
}

// resolvePath walks path from the root inode, returning the terminal
// inode number. path must already be Clean()-ed.
func (fs *Filesystem) resolvePath(ctx context.Context, path string) (uint32, error) {
	if path == "/" {
		return RootInode, nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := uint32(RootInode)
	for _, seg := range segments {
		ino, _, err := fs.lookupInDir(ctx, current, seg)
		if err != nil {
			return 0, err
		}
		current = ino
	}
	return current, nil
}
