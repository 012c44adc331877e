package fatfs

import (
	"context"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/dsyntax/diskfsd/internal/logger"
)

// exFAT is implemented read-only in this engine (see DESIGN.md's Open
// Question on exFAT write support); it shares this package with
// FAT12/16/32 because both are BPB-rooted, cluster-addressed filesystems
// that differ only in their on-disk structure layout, not in their
// overall engine shape.

const exfatOEMName = "EXFAT   "

const (
	exfatEntryEndOfDirectory = 0x00
	exfatEntryAllocBitmap    = 0x81
	exfatEntryUpcaseTable    = 0x82
	exfatEntryVolumeLabel    = 0x83
	exfatEntryFile           = 0x85
	exfatEntryStreamExt      = 0xC0
	exfatEntryFileName       = 0xC1

	exfatEndOfChain      = 0xFFFFFFFF
	exfatBadCluster      = 0xFFFFFFF7
	exfatFirstDataCluster = 2

	exfatAttrReadOnly  = 0x0001
	exfatAttrHidden    = 0x0002
	exfatAttrSystem    = 0x0004
	exfatAttrDirectory = 0x0010
	exfatAttrArchive   = 0x0020

	exfatFlagNoFatChain = 0x02
)

// ExfatBootSector is the decoded exFAT boot sector (grounded on the
// pack's 0xXA-go-exfat and dsoprea-go-exfat reference type definitions),
// generalized from their struct-tag/restruct decode into this repo's
// explicit-offset checksum.LE* style.
type ExfatBootSector struct {
	PartitionOffset   uint64
	VolumeLength      uint64
	FatOffset         uint32
	FatLength         uint32
	ClusterHeapOffset uint32
	ClusterCount      uint32
	RootCluster       uint32
	VolumeSerial      uint32
	FileSystemRev     uint16
	VolumeFlags       uint16
	BytesPerSectorLog uint8
	SectorsPerClusLog uint8
	NumberOfFats      uint8
	PercentInUse      uint8
}

func (b *ExfatBootSector) BytesPerSector() uint64 { return 1 << b.BytesPerSectorLog }
func (b *ExfatBootSector) BytesPerCluster() uint64 {
	return 1 << (b.BytesPerSectorLog + b.SectorsPerClusLog)
}

// DecodeExfatBootSector parses a BootSectorSize-byte exFAT boot sector.
func DecodeExfatBootSector(buf []byte) (*ExfatBootSector, error) {
	if len(buf) < BootSectorSize {
		return nil, fsops.New(fsops.KindNotAFilesystem, "fatfs.DecodeExfat", "boot sector too short")
	}
	if string(buf[3:11]) != exfatOEMName {
		return nil, fsops.New(fsops.KindNotAFilesystem, "fatfs.DecodeExfat", "bad exFAT OEM name")
	}
	if checksum.LE16(buf, 0x1FE) != signature {
		return nil, fsops.New(fsops.KindNotAFilesystem, "fatfs.DecodeExfat", "bad boot sector signature")
	}
	b := &ExfatBootSector{
		PartitionOffset:   checksum.LE64(buf, 64),
		VolumeLength:      checksum.LE64(buf, 72),
		FatOffset:         checksum.LE32(buf, 80),
		FatLength:         checksum.LE32(buf, 84),
		ClusterHeapOffset: checksum.LE32(buf, 88),
		ClusterCount:      checksum.LE32(buf, 92),
		RootCluster:       checksum.LE32(buf, 96),
		VolumeSerial:      checksum.LE32(buf, 100),
		FileSystemRev:     checksum.LE16(buf, 104),
		VolumeFlags:       checksum.LE16(buf, 106),
		BytesPerSectorLog: buf[108],
		SectorsPerClusLog: buf[109],
		NumberOfFats:      buf[110],
		PercentInUse:      buf[112],
	}
	return b, nil
}

// exfatDirent is one normalized exFAT directory entry, folded together
// from its file + stream-extension + filename-overlay entry set.
type exfatDirent struct {
	Name         string
	Attr         uint16
	FirstCluster uint32
	DataLength   uint64
	NoFatChain   bool
}

func (d exfatDirent) IsDir() bool { return d.Attr&exfatAttrDirectory != 0 }

func (d exfatDirent) attributes() fsops.FileAttributes {
	kind := fsops.KindRegular
	if d.IsDir() {
		kind = fsops.KindDirectory
	}
	return fsops.FileAttributes{Size: d.DataLength, Kind: kind, Mode: 0o755}
}

// decodeExfatDirRegion walks a directory region's 32-byte entry slots,
// combining each 0x85 file entry with its trailing stream-extension
// (0xC0) and filename (0xC1) overlay entries.
func decodeExfatDirRegion(buf []byte) []exfatDirent {
	var out []exfatDirent
	for pos := 0; pos+dirEntrySize <= len(buf); {
		e := buf[pos : pos+dirEntrySize]
		typ := e[0]
		if typ == exfatEntryEndOfDirectory {
			break
		}
		if typ != exfatEntryFile {
			pos += dirEntrySize
			continue
		}
		secondaryCount := int(e[1])
		attr := checksum.LE16(e, 4)
		total := (1 + secondaryCount) * dirEntrySize
		if pos+total > len(buf) {
			break
		}

		var d exfatDirent
		d.Attr = attr
		var nameUnits []uint16
		for i := 1; i <= secondaryCount; i++ {
			sub := buf[pos+i*dirEntrySize : pos+(i+1)*dirEntrySize]
			switch sub[0] {
			case exfatEntryStreamExt:
				d.NoFatChain = sub[1]&exfatFlagNoFatChain != 0
				d.DataLength = checksum.LE64(sub, 0x18)
				d.FirstCluster = checksum.LE32(sub, 0x14)
			case exfatEntryFileName:
				for off := 2; off < 32; off += 2 {
					u := checksum.LE16(sub, off)
					if u == 0 {
						break
					}
					nameUnits = append(nameUnits, u)
				}
			}
		}
		d.Name = string(utf16.Decode(nameUnits))
		out = append(out, d)
		pos += total
	}
	return out
}

// ExfatFilesystem is an opened, read-only exFAT instance.
type ExfatFilesystem struct {
	dev fsops.BlockDevice
	bs  *ExfatBootSector
	log *logger.Logger

	mu       sync.RWMutex
	poisoned bool

	fat []byte
}

var _ fsops.FilesystemOps = (*ExfatFilesystem)(nil)

// OpenExfat reads the boot sector and the full FAT region (small enough
// in practice to hold in memory, matching this package's FAT12/16/32
// approach) and returns an opened read-only instance.
func OpenExfat(ctx context.Context, dev fsops.BlockDevice, log *logger.Logger) (*ExfatFilesystem, error) {
	if log == nil {
		log = logger.New(noopWriter{}, logger.ErrorLevel)
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.OpenExfat", "", err)
	}
	bs, err := DecodeExfatBootSector(buf)
	if err != nil {
		return nil, err
	}
	fs := &ExfatFilesystem{dev: dev, bs: bs, log: log}

	fatBytes := uint64(bs.FatLength) * bs.BytesPerSector()
	fat := make([]byte, fatBytes)
	if _, err := dev.ReadAt(ctx, uint64(bs.FatOffset)*bs.BytesPerSector(), fat); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.OpenExfat", "", err)
	}
	fs.fat = fat
	return fs, nil
}

func (fs *ExfatFilesystem) checkPoisoned(op string) error {
	if fs.poisoned {
		return fsops.New(fsops.KindCorruption, op, "instance poisoned by a prior corruption error")
	}
	return nil
}

func (fs *ExfatFilesystem) poison() { fs.poisoned = true }

func (fs *ExfatFilesystem) clusterToOffset(cluster uint32) uint64 {
	return uint64(fs.bs.ClusterHeapOffset)*fs.bs.BytesPerSector() + uint64(cluster-exfatFirstDataCluster)*fs.bs.BytesPerCluster()
}

func (fs *ExfatFilesystem) readCluster(ctx context.Context, cluster uint32) ([]byte, error) {
	buf := make([]byte, fs.bs.BytesPerCluster())
	if _, err := fs.dev.ReadAt(ctx, fs.clusterToOffset(cluster), buf); err != nil {
		return nil, fsops.Wrap(fsops.KindIo, "fatfs.exfat.readCluster", "", err)
	}
	return buf, nil
}

// clusterChain walks the 32-bit exFAT FAT unless d marks the allocation
// NoFatChain (contiguous, spec-permitted fast path every modern exFAT
// writer uses), in which case it derives the run directly from
// DataLength.
func (fs *ExfatFilesystem) clusterChain(d exfatDirent) ([]uint32, error) {
	if d.FirstCluster == 0 {
		return nil, nil
	}
	clusterSize := fs.bs.BytesPerCluster()
	count := (d.DataLength + clusterSize - 1) / clusterSize
	if d.NoFatChain || count <= 1 {
		chain := make([]uint32, count)
		for i := range chain {
			chain[i] = d.FirstCluster + uint32(i)
		}
		return chain, nil
	}

	var chain []uint32
	seen := make(map[uint32]bool)
	cur := d.FirstCluster
	for {
		if seen[cur] {
			return nil, fsops.New(fsops.KindCorruption, "fatfs.exfat.clusterChain", "cluster chain cycle")
		}
		seen[cur] = true
		chain = append(chain, cur)
		off := int(cur) * 4
		if off+4 > len(fs.fat) {
			return nil, fsops.New(fsops.KindCorruption, "fatfs.exfat.clusterChain", "cluster out of range")
		}
		next := checksum.LE32(fs.fat, off)
		if next == exfatBadCluster {
			return nil, fsops.New(fsops.KindIo, "fatfs.exfat.clusterChain", "bad cluster in chain")
		}
		if next >= exfatEndOfChain {
			return chain, nil
		}
		cur = next
	}
}

func (fs *ExfatFilesystem) readDirRegion(ctx context.Context, d exfatDirent) ([]byte, error) {
	chain, err := fs.clusterChain(d)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, uint64(len(chain))*fs.bs.BytesPerCluster())
	for _, c := range chain {
		cb, err := fs.readCluster(ctx, c)
		if err != nil {
			return nil, err
		}
		buf = append(buf, cb...)
	}
	return buf, nil
}

var exfatRootDirent = exfatDirent{Attr: exfatAttrDirectory}

func (fs *ExfatFilesystem) rootDirent() exfatDirent {
	d := exfatRootDirent
	d.FirstCluster = fs.bs.RootCluster
	d.DataLength = uint64(fs.bs.ClusterCount) * fs.bs.BytesPerCluster()
	return d
}

func (fs *ExfatFilesystem) readdirEntries(ctx context.Context, d exfatDirent) ([]exfatDirent, error) {
	buf, err := fs.readDirRegion(ctx, d)
	if err != nil {
		return nil, err
	}
	return decodeExfatDirRegion(buf), nil
}

func (fs *ExfatFilesystem) lookupChild(ctx context.Context, parent exfatDirent, name string) (exfatDirent, error) {
	ents, err := fs.readdirEntries(ctx, parent)
	if err != nil {
		return exfatDirent{}, err
	}
	for _, e := range ents {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return exfatDirent{}, fsops.New(fsops.KindNotFound, "fatfs.exfat.lookupChild", name)
}

func (fs *ExfatFilesystem) resolvePath(ctx context.Context, path string) (exfatDirent, error) {
	if path == "/" {
		return fs.rootDirent(), nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := fs.rootDirent()
	for _, seg := range segments {
		if !current.IsDir() {
			return exfatDirent{}, fsops.New(fsops.KindNotFound, "fatfs.exfat.resolvePath", path)
		}
		next, err := fs.lookupChild(ctx, current, seg)
		if err != nil {
			return exfatDirent{}, err
		}
		current = next
	}
	return current, nil
}

func (fs *ExfatFilesystem) Info(ctx context.Context) (fsops.FilesystemInfo, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("info"); err != nil {
		return fsops.FilesystemInfo{}, err
	}
	return fsops.FilesystemInfo{
		Family:     fsops.FamilyExFAT,
		TotalBytes: fs.bs.VolumeLength * fs.bs.BytesPerSector(),
		ReadOnly:   true,
	}, nil
}

func (fs *ExfatFilesystem) Stat(ctx context.Context, path string) (fsops.FileAttributes, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("stat"); err != nil {
		return fsops.FileAttributes{}, err
	}
	clean, err := fsops.Clean(path)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return fsops.FileAttributes{}, err
	}
	return d.attributes(), nil
}

func (fs *ExfatFilesystem) Readdir(ctx context.Context, path string) ([]fsops.DirEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("readdir"); err != nil {
		return nil, err
	}
	clean, err := fsops.Clean(path)
	if err != nil {
		return nil, err
	}
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return nil, err
	}
	if !d.IsDir() {
		return nil, fsops.New(fsops.KindNotFound, "readdir", path)
	}
	ents, err := fs.readdirEntries(ctx, d)
	if err != nil {
		return nil, err
	}
	out := make([]fsops.DirEntry, 0, len(ents))
	for _, e := range ents {
		out = append(out, fsops.DirEntry{Name: e.Name, Attributes: e.attributes(), Ref: uint64(e.FirstCluster)})
	}
	return out, nil
}

func (fs *ExfatFilesystem) Read(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if err := fs.checkPoisoned("read"); err != nil {
		return 0, err
	}
	clean, err := fsops.Clean(path)
	if err != nil {
		return 0, err
	}
	d, err := fs.resolvePath(ctx, clean)
	if err != nil {
		return 0, err
	}
	if d.IsDir() {
		return 0, fsops.New(fsops.KindUnsupported, "read", path)
	}
	if offset >= d.DataLength {
		return 0, nil
	}
	if uint64(len(buf)) > d.DataLength-offset {
		buf = buf[:d.DataLength-offset]
	}
	chain, err := fs.clusterChain(d)
	if err != nil {
		return 0, err
	}
	clusterSize := fs.bs.BytesPerCluster()
	total := 0
	for total < len(buf) {
		abs := offset + uint64(total)
		ci := int(abs / clusterSize)
		clusterOff := abs % clusterSize
		if ci >= len(chain) {
			break
		}
		cb, err := fs.readCluster(ctx, chain[ci])
		if err != nil {
			return total, err
		}
		n := clusterSize - clusterOff
		if n > uint64(len(buf)-total) {
			n = uint64(len(buf) - total)
		}
		copy(buf[total:total+int(n)], cb[clusterOff:clusterOff+n])
		total += int(n)
	}
	return total, nil
}

func (fs *ExfatFilesystem) Write(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	return 0, fsops.New(fsops.KindReadOnly, "write", path)
}

func (fs *ExfatFilesystem) Create(ctx context.Context, path string, kind fsops.FileKind, mode uint32) error {
	return fsops.New(fsops.KindReadOnly, "create", path)
}

func (fs *ExfatFilesystem) Mkdir(ctx context.Context, path string, mode uint32) error {
	return fsops.New(fsops.KindReadOnly, "mkdir", path)
}

func (fs *ExfatFilesystem) Unlink(ctx context.Context, path string) error {
	return fsops.New(fsops.KindReadOnly, "unlink", path)
}

func (fs *ExfatFilesystem) Rename(ctx context.Context, from, to string) error {
	return fsops.New(fsops.KindReadOnly, "rename", from)
}

func (fs *ExfatFilesystem) Sync(ctx context.Context) error { return nil }

func (fs *ExfatFilesystem) Close(ctx context.Context) error { return nil }

// exfatProber is the fsops.Prober entry point for exFAT, registered
// separately from FAT12/16/32's prober.
type exfatProber struct {
	Log *logger.Logger
}

func NewExfatProber(log *logger.Logger) fsops.Prober {
	return &exfatProber{Log: log}
}

var _ fsops.Prober = (*exfatProber)(nil)

func (p *exfatProber) Probe(ctx context.Context, dev fsops.BlockDevice) (bool, error) {
	if dev.Size() < BootSectorSize {
		return false, nil
	}
	buf := make([]byte, BootSectorSize)
	if _, err := dev.ReadAt(ctx, 0, buf); err != nil {
		return false, fsops.Wrap(fsops.KindIo, "fatfs.exfat.Probe", "", err)
	}
	if string(buf[3:11]) != exfatOEMName {
		return false, nil
	}
	return checksum.LE16(buf, 0x1FE) == signature, nil
}

func (p *exfatProber) Init(ctx context.Context, dev fsops.BlockDevice, mode fsops.OpenMode) (fsops.FilesystemOps, error) {
	return OpenExfat(ctx, dev, p.Log)
}
