//go:build linux

package blockdev

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// candidateDevicePaths lists whole disks under /sys/class/block. Kernel
// partitions also appear there as top-level entries; each carries a
// `partition` file, and those entries are skipped.
func candidateDevicePaths() ([]string, error) {
	entries, err := os.ReadDir("/sys/class/block")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if _, err := os.Stat(filepath.Join("/sys/class/block", name, "partition")); err == nil {
			continue
		}
		paths = append(paths, "/dev/"+name)
	}
	return paths, nil
}

func isRemovable(path string) bool {
	name := strings.TrimPrefix(path, "/dev/")
	data, err := os.ReadFile(filepath.Join("/sys/class/block", name, "removable"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// mountedPaths returns every mount point /proc/mounts reports for path,
// by exact device-field match (mounts against a partition list the
// partition node itself, never the whole disk).
func mountedPaths(path string) []string {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == path {
			out = append(out, fields[1])
		}
	}
	return out
}
