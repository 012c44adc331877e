package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

func alignUp4(n int) int { return (n + 3) &^ 3 }

// insertIntoDirBlock scans one raw directory block for a slot that can
// hold a new entry: either a deleted (zero-inode) record whose rec_len
// already covers it, or slack beyond an in-use record's own minimum
// length, which gets split off into a fresh record. Reports whether a
// slot was found and filled.
func insertIntoDirBlock(buf []byte, newIno uint32, name string, ftype uint8) bool {
	need := alignUp4(8 + len(name))
	off := 0
	for off+8 <= len(buf) {
		inode := checksum.LE32(buf, off)
		recLen := int(checksum.LE16(buf, off+4))
		nameLen := int(buf[off+6])
		if recLen < 8 || off+recLen > len(buf) {
			return false
		}

		used := 0
		if inode != 0 {
			used = alignUp4(8 + nameLen)
		}
		if slack := recLen - used; slack >= need {
			if inode != 0 {
				checksum.PutLE16(buf, off+4, uint16(used))
				off += used
				checksum.PutLE16(buf, off+4, uint16(recLen-used))
			}
			checksum.PutLE32(buf, off, newIno)
			buf[off+6] = byte(len(name))
			buf[off+7] = ftype
			copy(buf[off+8:off+8+len(name)], name)
			return true
		}
		off += recLen
	}
	return false
}

// insertDirEntry adds a (name, newIno) entry to directory dirIno, reusing
// slack in an existing data block when one has room and otherwise growing
// the directory by one block via appendBlockToInode.
func (fs *Filesystem) insertDirEntry(ctx context.Context, dirIno uint32, name string, newIno uint32, ftype uint8) error {
	dir, err := fs.readInode(ctx, dirIno)
	if err != nil {
		return err
	}
	blockSize := fs.sb.BlockSize()
	numBlocks := (dir.Size() + blockSize - 1) / blockSize
	for lb := uint32(0); uint64(lb) < numBlocks; lb++ {
		phys, ok, err := fs.resolveBlock(ctx, dir, lb)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, err := fs.readBlock(ctx, phys)
		if err != nil {
			return err
		}
		if insertIntoDirBlock(buf, newIno, name, ftype) {
			return fs.writeBlock(ctx, phys, buf)
		}
	}

	phys, err := fs.appendBlockToInode(ctx, dir, uint32(numBlocks))
	if err != nil {
		return err
	}
	buf := make([]byte, blockSize)
	checksum.PutLE32(buf, 0, newIno)
	checksum.PutLE16(buf, 4, uint16(blockSize))
	buf[6] = byte(len(name))
	buf[7] = ftype
	copy(buf[8:8+len(name)], name)
	if err := fs.writeBlock(ctx, phys, buf); err != nil {
		return err
	}
	dir.SetSize(dir.Size() + blockSize)
	return fs.writeInode(ctx, dirIno, dir)
}

// removeDirEntry zeroes the inode field of the named entry within dirIno,
// leaving its rec_len as a reusable deleted slot for a future insert.
func (fs *Filesystem) removeDirEntry(ctx context.Context, dirIno uint32, name string) error {
	dir, err := fs.readInode(ctx, dirIno)
	if err != nil {
		return err
	}
	blockSize := fs.sb.BlockSize()
	numBlocks := (dir.Size() + blockSize - 1) / blockSize
	for lb := uint32(0); uint64(lb) < numBlocks; lb++ {
		phys, ok, err := fs.resolveBlock(ctx, dir, lb)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		buf, err := fs.readBlock(ctx, phys)
		if err != nil {
			return err
		}
		off := 0
		found := false
		for off+8 <= len(buf) {
			inode := checksum.LE32(buf, off)
			recLen := int(checksum.LE16(buf, off+4))
			nameLen := int(buf[off+6])
			if recLen < 8 || off+recLen > len(buf) {
				break
			}
			if inode != 0 && nameLen == len(name) && string(buf[off+8:off+8+nameLen]) == name {
				checksum.PutLE32(buf, off, 0)
				found = true
				break
			}
			off += recLen
		}
		if found {
			return fs.writeBlock(ctx, phys, buf)
		}
	}
	return fsops.New(fsops.KindNotFound, "ext4.removeDirEntry", name)
}

// rewriteDotDot overwrites the inode field of dir's ".." entry, used by
// Rename when a directory moves to a different parent.
func (fs *Filesystem) rewriteDotDot(ctx context.Context, dir *Inode, newParent uint32) error {
	phys, ok, err := fs.resolveBlock(ctx, dir, 0)
	if err != nil {
		return err
	}
	if !ok {
		return fsops.New(fsops.KindCorruption, "ext4.rewriteDotDot", "")
	}
	buf, err := fs.readBlock(ctx, phys)
	if err != nil {
		return err
	}
	off := 0
	for off+8 <= len(buf) {
		inode := checksum.LE32(buf, off)
		recLen := int(checksum.LE16(buf, off+4))
		nameLen := int(buf[off+6])
		if recLen < 8 || off+recLen > len(buf) {
			break
		}
		if inode != 0 && nameLen == 2 && string(buf[off+8:off+10]) == ".." {
			checksum.PutLE32(buf, off, newParent)
			return fs.writeBlock(ctx, phys, buf)
		}
		off += recLen
	}
	return fsops.New(fsops.KindCorruption, "ext4.rewriteDotDot", "missing .. entry")
}
