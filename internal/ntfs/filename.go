package ntfs

import (
	"time"

	"github.com/dsyntax/diskfsd/internal/checksum"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// ntfsEpoch is 1601-01-01 00:00:00 UTC, the NTFS FILETIME epoch.
var ntfsEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// filetimeToTime converts a FILETIME (100ns intervals since the NTFS
// epoch) to a time.Time.
func filetimeToTime(ft uint64) time.Time {
	return ntfsEpoch.Add(time.Duration(ft) * 100)
}

// FileNameAttr is the decoded $FILE_NAME (0x30) attribute value: the
// parent directory reference, timestamps, allocated/real size, and the
// entry's name (case-preserving; the namespace byte tells whether a
// short 8.3 alias also exists).
type FileNameAttr struct {
	ParentRef      uint64
	CreationTime   time.Time
	ModifiedTime   time.Time
	MFTChangedTime time.Time
	AccessTime     time.Time
	AllocatedSize  uint64
	RealSize       uint64
	Flags          uint32
	Namespace      uint8
	Name           string
}

// DecodeFileName parses a resident $FILE_NAME attribute's value.
func DecodeFileName(buf []byte) (*FileNameAttr, error) {
	if len(buf) < 66 {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.DecodeFileName", "FILE_NAME value too short")
	}
	fn := &FileNameAttr{
		ParentRef:      checksum.LE64(buf, 0x00),
		CreationTime:   filetimeToTime(checksum.LE64(buf, 0x08)),
		ModifiedTime:   filetimeToTime(checksum.LE64(buf, 0x10)),
		MFTChangedTime: filetimeToTime(checksum.LE64(buf, 0x18)),
		AccessTime:     filetimeToTime(checksum.LE64(buf, 0x20)),
		AllocatedSize:  checksum.LE64(buf, 0x28),
		RealSize:       checksum.LE64(buf, 0x30),
		Flags:          checksum.LE32(buf, 0x38),
	}
	nameLen := int(buf[0x40])
	fn.Namespace = buf[0x41]
	nameStart := 0x42
	nameEnd := nameStart + nameLen*2
	if nameEnd > len(buf) {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.DecodeFileName", "name runs past attribute value")
	}
	runes := make([]rune, 0, nameLen)
	for i := 0; i < nameLen; i++ {
		runes = append(runes, rune(checksum.LE16(buf, nameStart+i*2)))
	}
	fn.Name = string(runes)
	return fn, nil
}

// StandardInformation is the decoded $STANDARD_INFORMATION (0x10)
// attribute value this engine needs for stat: timestamps and the DOS
// permission bits.
type StandardInformation struct {
	CreationTime   time.Time
	ModifiedTime   time.Time
	MFTChangedTime time.Time
	AccessTime     time.Time
	FileAttributes uint32
}

// DecodeStandardInformation parses a resident $STANDARD_INFORMATION value.
func DecodeStandardInformation(buf []byte) (*StandardInformation, error) {
	if len(buf) < 48 {
		return nil, fsops.New(fsops.KindCorruption, "ntfs.DecodeStandardInformation", "value too short")
	}
	return &StandardInformation{
		CreationTime:   filetimeToTime(checksum.LE64(buf, 0x00)),
		ModifiedTime:   filetimeToTime(checksum.LE64(buf, 0x08)),
		MFTChangedTime: filetimeToTime(checksum.LE64(buf, 0x10)),
		AccessTime:     filetimeToTime(checksum.LE64(buf, 0x18)),
		FileAttributes: checksum.LE32(buf, 0x20),
	}, nil
}

func fileKindFromRecord(isDirectoryRecord bool) fsops.FileKind {
	if isDirectoryRecord {
		return fsops.KindDirectory
	}
	return fsops.KindRegular
}
