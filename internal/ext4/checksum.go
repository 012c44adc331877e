package ext4

import "github.com/dsyntax/diskfsd/internal/checksum"

// SuperblockChecksum computes the metadata_csum-feature superblock
// checksum: CRC32c over the UUID, continued over bytes [0, 1020) of the
// serialized superblock record (the checksum field itself at 1020 is
// excluded): CRC32c over bytes 0..1019 seeded with the UUID's CRC32c,
// implemented as one continuous CRC32c run across UUID||prefix using
// internal/checksum's seed-chaining CRC32c (crc32.Update's seed
// parameter composes associatively, so this is equivalent to a single
// CRC32c pass over the concatenation).
func SuperblockChecksum(uuid [16]byte, sbBuf []byte) uint32 {
	seed := checksum.CRC32c(0, uuid[:])
	return checksum.CRC32c(seed, sbBuf[:1020])
}

// GroupDescChecksum computes the CRC16 group-descriptor checksum: CRC16
// over (UUID || group-number-LE || descriptor-with-checksum-field-zeroed).
func GroupDescChecksum(uuid [16]byte, group uint32, descBuf []byte, checksumFieldOffset int) uint16 {
	zeroed := make([]byte, len(descBuf))
	copy(zeroed, descBuf)
	zeroed[checksumFieldOffset] = 0
	zeroed[checksumFieldOffset+1] = 0

	var groupLE [4]byte
	groupLE[0] = byte(group)
	groupLE[1] = byte(group >> 8)
	groupLE[2] = byte(group >> 16)
	groupLE[3] = byte(group >> 24)

	crc := checksum.CRC16(0, uuid[:])
	crc = checksum.CRC16(crc, groupLE[:])
	crc = checksum.CRC16(crc, zeroed)
	return crc
}
