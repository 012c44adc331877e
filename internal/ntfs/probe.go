package ntfs

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// prober is the ntfs package's fsops.Prober entry point: Probe inspects
// only the boot sector (no mutation, no MFT walk), Init opens the volume
// fully.
type prober struct {
	Log *logger.Logger
}

func NewProber(log *logger.Logger) fsops.Prober {
	return &prober{Log: log}
}

var _ fsops.Prober = (*prober)(nil)

func (p *prober) Probe(ctx context.Context, dev fsops.BlockDevice) (bool, error) {
	if dev.Size() < BootSectorSize {
		return false, nil
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return false, fsops.Wrap(fsops.KindIo, "ntfs.Probe", "", err)
	}
	if string(buf[3:11]) != OEMID {
		return false, nil
	}
	sig := uint16(buf[0x1FE]) | uint16(buf[0x1FF])<<8
	return sig == 0xAA55, nil
}

func (p *prober) Init(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode) (fsops.FilesystemOps, error) {
	return Open(ctx, dev, mode, p.Log)
}
