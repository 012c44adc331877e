package engine

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/ext4"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/ntfs"
	"github.com/stretchr/testify/require"
)

type memDevice struct{ buf []byte }

func newMemDevice(size int) *memDevice { return &memDevice{buf: make([]byte, size)} }

func (d *memDevice) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if offset+uint64(len(buf)) > uint64(len(d.buf)) {
		return 0, fsops.New(fsops.KindIo, "memDevice.ReadAt", "")
	}
	copy(buf, d.buf[offset:offset+uint64(len(buf))])
	return len(buf), nil
}

func (d *memDevice) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	if offset+uint64(len(buf)) > uint64(len(d.buf)) {
		return 0, fsops.New(fsops.KindIo, "memDevice.WriteAt", "")
	}
	copy(d.buf[offset:offset+uint64(len(buf))], buf)
	return len(buf), nil
}

func (d *memDevice) Flush(ctx context.Context) error { return nil }
func (d *memDevice) SectorSize() uint32              { return 512 }
func (d *memDevice) Size() uint64                    { return uint64(len(d.buf)) }

func TestFamilyDetectsExt4(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	require.NoError(t, ext4.Format(context.Background(), dev, ext4.FormatOptions{Label: "T"}))

	fam, err := Family(context.Background(), dev, nil)
	require.NoError(t, err)
	require.Equal(t, fsops.FamilyExt4, fam)
}

func TestFamilyDetectsNTFS(t *testing.T) {
	dev := newMemDevice(1024 * 1024)
	require.NoError(t, ntfs.Format(context.Background(), dev, ntfs.FormatOptions{Label: "T"}))

	fam, err := Family(context.Background(), dev, nil)
	require.NoError(t, err)
	require.Equal(t, fsops.FamilyNTFS, fam)
}

func TestOpenRejectsUnrecognizedDevice(t *testing.T) {
	dev := newMemDevice(1024 * 1024)
	_, err := Open(context.Background(), dev, fsops.ReadOnly, nil)
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindNotAFilesystem, kind)
}
