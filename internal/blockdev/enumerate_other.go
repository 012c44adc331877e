//go:build !linux && !windows

package blockdev

// candidateDevicePaths has no enumeration source on this platform; `list`
// still works against an explicit image-file path, it just can't discover
// devices on its own here.
func candidateDevicePaths() ([]string, error) { return nil, nil }

func isRemovable(path string) bool { return false }

func mountedPaths(path string) []string { return nil }
