package ntfs

import (
	"context"
	"sync"

	"github.com/dsyntax/diskfsd/internal/alloc"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// Filesystem is an opened NTFS volume: the boot sector, the decoded
// $MFT data-run list (so arbitrary MFT record numbers can be located
// even when $MFT itself is fragmented), and the readers-writer lock
// guarding mutation under the engine's single readers-writer-lock
// scheduling model. Implements fsops.FilesystemOps.
type Filesystem struct {
	dev  fsops.BlockDevice
	bs   *BootSector
	mode fsops.OpenMode
	log  *logger.Logger

	mu       sync.RWMutex
	poisoned bool

	mftRuns     []alloc.Run
	recordCache map[uint64][]byte

	nextFreeCluster uint64
	nextFreeRecord  uint64
	freeClusters    []uint64
	freeRecords     []uint64
}

// Open reads the boot sector and $MFT record 0's $DATA runlist.
func Open(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode, log *logger.Logger) (*Filesystem, error) {
	if log == nil {
		log = logger.New(noopWriter{}, logger.ErrorLevel)
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "ntfs.Open", "", err)
	}
	bs, err := Decode(buf)
	if err != nil {
		return nil, err
	}

	fs := &Filesystem{dev: dev, bs: bs, mode: mode, log: log, recordCache: make(map[uint64][]byte)}

	mftRecordSize := bs.MFTRecordSize()
	mft0Off := bs.MFTLCN * bs.ClusterSize()
	mft0, err := readAndFixup(ctx, dev, mft0Off, mftRecordSize, int(bs.BytesPerSector))
	if err != nil {
		return nil, err
	}
	h, err := DecodeMFTRecordHeader(mft0)
	if err != nil {
		return nil, err
	}
	if string(h.Signature[:]) != MFTSignature {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.Open", "$MFT record 0 missing FILE signature")
	}

	var dataRuns []alloc.Run
	err = WalkAttributes(mft0, int(h.AttrsOffset), func(a Attribute) (bool, error) {
		if a.Header.Type == AttrData && a.Name == "" {
			dataRuns = a.Runs
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if dataRuns == nil {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.Open", "$MFT record 0 has no unnamed $DATA runlist")
	}
	fs.mftRuns = dataRuns

	fs.recordCache[0] = mft0
	fs.computeHighWaterMarks()
	return fs, nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func readAndFixup(ctx context.Context, dev fsops.BlockDevice, offset, length uint64, sectorSize int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := dev.ReadAt(ctx, offset, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "ntfs.readAndFixup", "", err)
	}
	if err := ApplyUSAFixup(buf, sectorSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// resolveMFTRunOffset maps a byte offset within the $MFT's unnamed
// $DATA stream to an absolute device byte offset, requiring the target
// range to lie within a single contiguous run (the scope this engine
// supports for locating MFT records beyond record 0).
func (fs *Filesystem) resolveMFTRunOffset(byteOffset, length uint64) (uint64, error) {
	clusterSize := fs.bs.ClusterSize()
	startCluster := byteOffset / clusterSize
	endCluster := (byteOffset + length - 1) / clusterSize

	var cursor uint64
	for _, run := range fs.mftRuns {
		runEndCluster := cursor + run.Length
		if startCluster >= cursor && endCluster < runEndCluster {
			if run.Sparse {
				return 0, fsops.New(fsops.KindCorruption, "ntfs.resolveMFTRunOffset", "record falls in a sparse $MFT run")
			}
			clusterInRun := startCluster - cursor
			physicalCluster := uint64(run.LCN) + clusterInRun
			return physicalCluster*clusterSize + byteOffset%clusterSize, nil
		}
		cursor = runEndCluster
	}
	return 0, fsops.New(fsops.KindCorruption, "ntfs.resolveMFTRunOffset", "record spans a run boundary or is out of range")
}

// readRecord loads and USA-fixes-up the MFT record numbered recordNum,
// resolving its location through $MFT's own runlist.
func (fs *Filesystem) readRecord(ctx context.Context, recordNum uint64) ([]byte, error) {
	if cached, ok := fs.recordCache[recordNum]; ok {
		return cached, nil
	}
	recordSize := fs.bs.MFTRecordSize()
	byteOffset := recordNum * recordSize
	devOffset, err := fs.resolveMFTRunOffset(byteOffset, recordSize)
	if err != nil {
		return nil, err
	}
	buf, err := readAndFixup(ctx, fs.dev, devOffset, recordSize, int(fs.bs.BytesPerSector))
	if err != nil {
		return nil, err
	}
	fs.recordCache[recordNum] = buf
	return buf, nil
}

func (fs *Filesystem) checkPoisoned(op string) error {
	if fs.poisoned {
		return fsops.New(fsops.KindCorruption, op, "instance poisoned by a prior corruption error")
	}
	return nil
}

func (fs *Filesystem) poison() {
	fs.poisoned = true
}
