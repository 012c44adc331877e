package fatfs

import (
	"context"
	"strings"

	"github.com/dsyntax/diskfsd/internal/fsops"
)

// rootDirent is the pseudo directory entry standing in for "/", which has
// no directory-entry slot of its own. cluster 0 is the sentinel readDirRegion
// treats as "the root area" on every family (fixed region on FAT12/16,
// RootCluster's chain on FAT32).
var rootDirent = dirent{Attr: attrDir, FirstCluster: 0}

// readdirEntries lists dirCluster's children, skipping the dot entries a
// FAT directory (other than the root) always carries.
func (fs *Filesystem) readdirEntries(ctx context.Context, dirCluster uint32) ([]dirent, error) {
	buf, _, err := fs.readDirRegion(ctx, dirCluster)
	if err != nil {
		return nil, err
	}
	ents, err := decodeDirRegion(buf)
	if err != nil {
		return nil, err
	}
	out := ents[:0]
	for _, e := range ents {
		if e.Name == "." || e.Name == ".." || e.IsVolume() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// lookupChild finds name (case-insensitively, matching FAT's
// case-preserving but case-insensitive comparison rule) among
// dirCluster's children.
func (fs *Filesystem) lookupChild(ctx context.Context, dirCluster uint32, name string) (dirent, error) {
	ents, err := fs.readdirEntries(ctx, dirCluster)
	if err != nil {
		return dirent{}, err
	}
	for _, e := range ents {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return dirent{}, fsops.New(fsops.KindNotFound, "fatfs.lookupChild", name)
}

// resolvePath walks path (already Clean()-ed) from the root, returning the
// terminal dirent.
func (fs *Filesystem) resolvePath(ctx context.Context, path string) (dirent, error) {
	if path == "/" {
		return rootDirent, nil
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	current := rootDirent
	for _, seg := range segments {
		if !current.IsDir() {
			return dirent{}, fsops.New(fsops.KindNotFound, "fatfs.resolvePath", path)
		}
		next, err := fs.lookupChild(ctx, current.FirstCluster, seg)
		if err != nil {
			return dirent{}, err
		}
		current = next
	}
	return current, nil
}

// splitPath divides a Clean()-ed path into its parent directory and base
// name; it rejects "/" since the root has no parent entry.
func splitPath(path string) (parent, base string, err error) {
	if path == "/" {
		return "", "", fsops.New(fsops.KindUnsupported, "fatfs.splitPath", path)
	}
	idx := strings.LastIndexByte(path, '/')
	base = path[idx+1:]
	if idx == 0 {
		parent = "/"
	} else {
		parent = path[:idx]
	}
	return parent, base, nil
}

// resolveWithParent resolves path to its terminal dirent along with its
// parent directory's cluster (the sentinel root cluster 0 when the parent
// is "/"), for operations that must rewrite the parent's directory entry.
func (fs *Filesystem) resolveWithParent(ctx context.Context, path string) (parentCluster uint32, child dirent, err error) {
	parentPath, base, err := splitPath(path)
	if err != nil {
		return 0, dirent{}, err
	}
	parent, err := fs.resolvePath(ctx, parentPath)
	if err != nil {
		return 0, dirent{}, err
	}
	if !parent.IsDir() {
		return 0, dirent{}, fsops.New(fsops.KindNotFound, "fatfs.resolveWithParent", path)
	}
	child, err = fs.lookupChild(ctx, parent.FirstCluster, base)
	if err != nil {
		return 0, dirent{}, err
	}
	return parent.FirstCluster, child, nil
}

func (d dirent) attributes() fsops.FileAttributes {
	return fsops.FileAttributes{
		Size:    uint64(d.Size),
		Kind:    fileKind(d.Attr),
		Mode:    0o755,
		ModTime: d.ModTime,
		AccTime: d.AccTime,
		CrTime:  d.CrTime,
	}
}
