package ext4

import (
	"context"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// prober is the fsops.Prober entry point registered with the engine
// dispatcher. It carries no state; Probe/Init each open their own
// superblock view of dev.
type prober struct {
	Log *logger.Logger
}

// NewProber returns the ext2/3/4 fsops.Prober, logging through log (nil
// is accepted and becomes a discard logger).
func NewProber(log *logger.Logger) fsops.Prober {
	return &prober{Log: log}
}

var _ fsops.Prober = (*prober)(nil)

// Probe reads only the fixed superblock region and checks the magic; it
// never mutates dev or instance state, fitting a tagged-variant dispatch
// model where every engine is probed and the first match wins.
func (p *prober) Probe(ctx context.Context, dev fsops.BlockDevice) (bool, error) {
	if dev.Size() < SuperblockOffset+SuperblockSize {
		return false, nil
	}
	buf := make([]byte, SuperblockSize)
	if _, err := dev.ReadAt(ctx, SuperblockOffset, buf); err != nil {
		return false, fsops.Wrap(fsops.KindIo, "ext4.Probe", "", err)
	}
	magic := checksum.LE16(buf, 56)
	return magic == Magic, nil
}

// Init opens dev as an ext2/3/4 instance.
func (p *prober) Init(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode) (fsops.FilesystemOps, error) {
	return Open(ctx, dev, mode, p.Log)
}
