package fatfs

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// prober is the fsops.Prober entry point for FAT12/16/32, registered
// separately from exFAT's prober even though both share this package:
// every engine probes independently.
type prober struct {
	Log *logger.Logger
}

func NewProber(log *logger.Logger) fsops.Prober {
	return &prober{Log: log}
}

var _ fsops.Prober = (*prober)(nil)

// Probe validates the 0xAA55 signature and a plausible BPB (nonzero
// sector/cluster size). Recognition never keys off the advisory
// "FAT16"/"FAT32" string; that string is written but not authoritative.
func (p *prober) Probe(ctx context.Context, dev fsops.BlockDevice) (bool, error) {
	if dev.Size() < BootSectorSize {
		return false, nil
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return false, fsops.Wrap(fsops.KindIo, "fatfs.Probe", "", err)
	}
	if checksum.LE16(buf, 0x1FE) != signature {
		return false, nil
	}
	bs, err := DecodeBootSector(buf)
	if err != nil {
		return false, nil
	}
	if bs.BytesPerSector == 0 || bs.SectorsPerCluster == 0 {
		return false, nil
	}
	// exFAT carries the same 0xAA55 signature but a distinct OEM name and
	// an entirely different BPB layout; defer to the exFAT prober for it.
	if string(bs.OEMName[:]) == exfatOEMName {
		return false, nil
	}
	return true, nil
}

func (p *prober) Init(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode) (fsops.FilesystemOps, error) {
	return Open(ctx, dev, mode, p.Log)
}
