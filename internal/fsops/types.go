package fsops

import "time"

// OpenMode selects how an engine instance is attached to a device.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

// Family is the closed universe of filesystem variants a probe can report.
// Dispatch across engines is by this tag, never by interface embedding or
// inheritance.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyExt2
	FamilyExt3
	FamilyExt4
	FamilyNTFS
	FamilyFAT12
	FamilyFAT16
	FamilyFAT32
	FamilyExFAT
)

func (f Family) String() string {
	switch f {
	case FamilyExt2:
		return "ext2"
	case FamilyExt3:
		return "ext3"
	case FamilyExt4:
		return "ext4"
	case FamilyNTFS:
		return "ntfs"
	case FamilyFAT12:
		return "fat12"
	case FamilyFAT16:
		return "fat16"
	case FamilyFAT32:
		return "fat32"
	case FamilyExFAT:
		return "exfat"
	default:
		return "unknown"
	}
}

// FileKind is the closed set of node kinds stat/readdir can report.
type FileKind int

const (
	KindRegular FileKind = iota
	KindDirectory
	KindSymlink
	KindSpecial
)

// Device is an immutable logical handle identifying a block-addressable
// target, as surfaced by device enumeration (external to the core,
// consumed here as a plain value).
type Device struct {
	ID            string
	Name          string
	SizeBytes     uint64
	SectorSize    uint32
	Removable     bool
	SystemDrive   bool
	MountedPaths  []string
}

// FilesystemInfo describes an identified filesystem instance, derived from
// its on-disk superblock/boot sector.
type FilesystemInfo struct {
	Family     Family
	Label      string
	TotalBytes uint64
	UsedBytes  uint64
	ReadOnly   bool
	Features   uint64
	VolumeID   string
}

// FileAttributes is the uniform stat result across every engine.
type FileAttributes struct {
	Size      uint64
	Kind      FileKind
	Mode      uint32 // POSIX-style permission bits; translated from security descriptors on NTFS
	ModTime   time.Time
	AccTime   time.Time
	ChgTime   time.Time
	CrTime    time.Time
	Owner     uint32
	Group     uint32
	LinkCount uint32
}

// DirEntry is one readdir result: a name plus its attributes plus the
// engine-specific reference (inode number, MFT record number, cluster
// number of the directory entry) used to resolve it without a re-lookup.
type DirEntry struct {
	Name       string
	Attributes FileAttributes
	Ref        uint64
}
