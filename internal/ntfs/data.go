package ntfs

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// readRunlistRange copies length bytes starting at byteOffset within a
// non-resident attribute's logical stream (described by runs) into a
// freshly allocated buffer, synthesizing zeros for any sparse run (a
// run whose offset-byte-count is zero).
func (fs *Filesystem) readRunlistRange(ctx context.Context, runs []alloc.Run, byteOffset, length uint64) ([]byte, error) {
	clusterSize := fs.bs.ClusterSize()
	out := make([]byte, length)

	var logicalCluster uint64
	remainingOffset := byteOffset
	written := uint64(0)

	for _, run := range runs {
		runBytes := run.Length * clusterSize
		if remainingOffset >= runBytes {
			remainingOffset -= runBytes
			logicalCluster += run.Length
			continue
		}
		available := runBytes - remainingOffset
		n := available
		if n > length-written {
			n = length - written
		}

		if !run.Sparse {
			physByteOffset := uint64(run.LCN)*clusterSize + remainingOffset
			if _, err := fs.dev.ReadAt(ctx, physByteOffset, out[written:written+n]); err != nil {
				return nil, fsops.Wrap(fsops.KindIo, "ntfs.readRunlistRange", "", err)
			}
		}
		// sparse runs leave their slice of out zeroed

		written += n
		remainingOffset = 0
		logicalCluster += run.Length
		if written >= length {
			break
		}
	}
	return out, nil
}

// attributeSize returns the logical size to use for reads: RealSize for
// non-resident attributes, the resident value's length otherwise.
func attributeSize(a Attribute) uint64 {
	if a.Header.NonResident {
		return a.Header.RealSize
	}
	return uint64(len(a.Value))
}

// readAttributeData reads up to length bytes at offset from a. Resident
// attributes are sliced directly; non-resident attributes go through
// the runlist.
func (fs *Filesystem) readAttributeData(ctx context.Context, a Attribute, offset, length uint64) ([]byte, error) {
	size := attributeSize(a)
	if offset >= size {
		return nil, nil
	}
	if offset+length > size {
		length = size - offset
	}
	if !a.Header.NonResident {
		return append([]byte(nil), a.Value[offset:offset+length]...), nil
	}
	return fs.readRunlistRange(ctx, a.Runs, offset, length)
}
