package ext4

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

func TestFormatProducesOpenableFilesystem(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	ctx := context.Background()

	require.NoError(t, Format(ctx, dev, FormatOptions{Label: "TESTVOL"}))

	fs, err := Open(ctx, dev, fsops.ReadOnly, nil)
	require.NoError(t, err)
	require.Equal(t, "TESTVOL", fs.sb.VolumeLabel())
	require.False(t, fs.sb.HasJournal())
	require.True(t, fs.sb.HasExtents())

	ents, err := fs.Readdir(ctx, "/")
	require.NoError(t, err)
	require.Len(t, ents, 0)
}

func TestFormatRejectsTinyDevice(t *testing.T) {
	dev := newMemDevice(8 * 1024)
	err := Format(context.Background(), dev, FormatOptions{})
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindUnsupported, kind)
}
