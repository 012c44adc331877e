package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// resolveExtent walks the inode's extent tree (inline root at i_block, or
// on-disk nodes for depth > 0) to find the physical block backing the
// given logical block number. Returns (0, false, nil) for a hole.
func (fs *Filesystem) resolveExtent(ctx context.Context, in *Inode, logical uint32) (uint64, bool, error) {
	node := in.Block[:]
	for {
		h, err := alloc.DecodeExtentHeader(node)
		if err != nil {
			return 0, false, fsops.Wrap(fsops.KindCorruption, "ext4.resolveExtent", "", err)
		}
		if h.Depth == 0 {
			leaves, err := alloc.DecodeExtentLeaves(node, h)
			if err != nil {
				return 0, false, fsops.Wrap(fsops.KindCorruption, "ext4.resolveExtent", "", err)
			}
			for _, leaf := range leaves {
				start := leaf.LogicalBlock
				length := uint32(leaf.RealLength())
				if logical >= start && logical < start+length {
					if !leaf.Initialized() {
						return 0, false, nil
					}
					return leaf.PhysicalBlock() + uint64(logical-start), true, nil
				}
			}
			return 0, false, nil
		}

		idxs, err := alloc.DecodeExtentIndexes(node, h)
		if err != nil {
			return 0, false, fsops.Wrap(fsops.KindCorruption, "ext4.resolveExtent", "", err)
		}
		var next *alloc.ExtentIndex
		for i := range idxs {
			if idxs[i].LogicalBlock <= logical {
				next = &idxs[i]
			} else {
				break
			}
		}
		if next == nil {
			return 0, false, nil
		}
		child, err := fs.readBlock(ctx, next.ChildBlock())
		if err != nil {
			return 0, false, err
		}
		node = child
	}
}

// extentLeafCount counts the leaf extents reachable from the inode's
// extent tree. Only the package tests call it.
func (fs *Filesystem) extentLeafCount(ctx context.Context, in *Inode) (int, error) {
	count := 0
	var walk func(node []byte) error
	walk = func(node []byte) error {
		h, err := alloc.DecodeExtentHeader(node)
		if err != nil {
			return err
		}
		if h.Depth == 0 {
			leaves, err := alloc.DecodeExtentLeaves(node, h)
			if err != nil {
				return err
			}
			count += len(leaves)
			return nil
		}
		idxs, err := alloc.DecodeExtentIndexes(node, h)
		if err != nil {
			return err
		}
		for _, idx := range idxs {
			child, err := fs.readBlock(ctx, idx.ChildBlock())
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(in.Block[:]); err != nil {
		return 0, fsops.Wrap(fsops.KindCorruption, "ext4.extentLeafCount", "", err)
	}
	return count, nil
}
