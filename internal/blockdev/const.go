package blockdev

// DefaultSectorSize is assumed for regular files/images and whenever a
// device's true sector size cannot be determined.
const DefaultSectorSize = 512
