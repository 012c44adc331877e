package blockdev

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

func tempImage(t *testing.T, size int) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "diskfsd-image-*.img")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(size)))
	return f.Name()
}

func TestOpenRegularFileDefaultsSectorSize(t *testing.T) {
	path := tempImage(t, 1<<20)
	h, err := Open(path, OpenOptions{Mode: fsops.ReadWrite})
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, uint32(DefaultSectorSize), h.SectorSize())
	require.Equal(t, uint64(1<<20), h.Size())
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := tempImage(t, 1<<20)
	h, err := Open(path, OpenOptions{Mode: fsops.ReadWrite})
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	buf := make([]byte, DefaultSectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	n, err := h.WriteAt(ctx, DefaultSectorSize, buf)
	require.NoError(t, err)
	require.Equal(t, DefaultSectorSize, n)

	got := make([]byte, DefaultSectorSize)
	n, err = h.ReadAt(ctx, DefaultSectorSize, got)
	require.NoError(t, err)
	require.Equal(t, DefaultSectorSize, n)
	require.Equal(t, buf, got)
}

func TestUnalignedAccessRejected(t *testing.T) {
	path := tempImage(t, 1<<20)
	h, err := Open(path, OpenOptions{Mode: fsops.ReadWrite})
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	buf := make([]byte, 10)
	_, err = h.ReadAt(ctx, 1, buf)
	require.ErrorIs(t, err, fsops.ErrIo)
}

func TestWriteRejectedOnReadOnlyHandle(t *testing.T) {
	path := tempImage(t, 1<<20)
	h, err := Open(path, OpenOptions{Mode: fsops.ReadOnly})
	require.NoError(t, err)
	defer h.Close()

	ctx := context.Background()
	buf := make([]byte, DefaultSectorSize)
	_, err = h.WriteAt(ctx, 0, buf)
	require.ErrorIs(t, err, fsops.ErrReadOnly)
}
