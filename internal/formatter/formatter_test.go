package formatter

import (
	"context"
	"testing"

	"github.com/dsyntax/diskfsd/internal/ext4"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

type fixedCancel struct{ cancelled bool }

func (c fixedCancel) Cancelled() bool { return c.cancelled }

func TestExecuteRejectsSystemDrive(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	opts := Options{
		Device: fsops.Device{ID: "disk0", SizeBytes: dev.Size(), SystemDrive: true},
		Family: fsops.FamilyExt4,
	}
	_, err := Execute(context.Background(), dev, opts)
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindSafetyRefusal, kind)
}

func TestExecuteRejectsProtectedMountPoint(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	opts := Options{
		Device: fsops.Device{ID: "disk1", SizeBytes: dev.Size(), MountedPaths: []string{"/home"}},
		Family: fsops.FamilyExt4,
	}
	_, err := Execute(context.Background(), dev, opts)
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindSafetyRefusal, kind)
}

func TestDryRunTouchesNothingAndIsDeterministic(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	before := make([]byte, len(dev.buf))
	copy(before, dev.buf)

	opts := Options{
		Device: fsops.Device{ID: "disk2", SizeBytes: dev.Size()},
		Family: fsops.FamilyExt4,
		Label:  "PREVIEW",
		DryRun: true,
	}
	r1, err := Execute(context.Background(), dev, opts)
	require.NoError(t, err)
	r2, err := Execute(context.Background(), dev, opts)
	require.NoError(t, err)

	require.Equal(t, r1, r2)
	require.True(t, r1.DryRun)
	require.Equal(t, before, dev.buf)
}

func TestExecuteRejectsCancelledBeforeDispatch(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	before := make([]byte, len(dev.buf))
	copy(before, dev.buf)

	opts := Options{
		Device: fsops.Device{ID: "disk3", SizeBytes: dev.Size()},
		Family: fsops.FamilyExt4,
		Cancel: fixedCancel{cancelled: true},
	}
	_, err := Execute(context.Background(), dev, opts)
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindCancelled, kind)
	require.Equal(t, before, dev.buf)
}

func TestExecuteDispatchesToExt4(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	opts := Options{
		Device: fsops.Device{ID: "disk4", SizeBytes: dev.Size()},
		Family: fsops.FamilyExt4,
		Label:  "TESTVOL",
	}
	report, err := Execute(context.Background(), dev, opts)
	require.NoError(t, err)
	require.False(t, report.DryRun)
	require.Equal(t, uint64(8*1024*1024), report.BytesWritten)

	fs, err := ext4.Open(context.Background(), dev, fsops.ReadOnly, nil)
	require.NoError(t, err)
	ents, err := fs.Readdir(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, ents, 0)
}

func TestExecuteRejectsUnknownFamily(t *testing.T) {
	dev := newMemDevice(8 * 1024 * 1024)
	opts := Options{
		Device: fsops.Device{ID: "disk5", SizeBytes: dev.Size()},
		Family: fsops.FamilyExFAT,
	}
	_, err := Execute(context.Background(), dev, opts)
	require.Error(t, err)
	kind, ok := fsops.KindOf(err)
	require.True(t, ok)
	require.Equal(t, fsops.KindUnsupported, kind)
}
