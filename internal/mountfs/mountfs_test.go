//go:build linux
// +build linux

package mountfs

import (
	"context"
	"os"
	"testing"
	"time"

	"bazil.org/fuse"
	"github.com/dsyntax/diskfsd/internal/fsops"
	"github.com/stretchr/testify/require"
)

// fakeOps is a minimal in-memory fsops.FilesystemOps used to exercise the
// Node/FS adapter without a real engine or a live FUSE mount.
type fakeOps struct {
	files map[string]fsops.FileAttributes
	dirs  map[string][]fsops.DirEntry
	data  map[string][]byte
}

func newFakeOps() *fakeOps {
	return &fakeOps{
		files: map[string]fsops.FileAttributes{
			"/": {Kind: fsops.KindDirectory, Mode: 0755},
		},
		dirs: map[string][]fsops.DirEntry{"/": nil},
		data: map[string][]byte{},
	}
}

func (f *fakeOps) Info(ctx context.Context) (fsops.FilesystemInfo, error) {
	return fsops.FilesystemInfo{Family: fsops.FamilyExt4}, nil
}

func (f *fakeOps) Stat(ctx context.Context, path string) (fsops.FileAttributes, error) {
	attrs, ok := f.files[path]
	if !ok {
		return fsops.FileAttributes{}, fsops.New(fsops.KindNotFound, "stat", path)
	}
	return attrs, nil
}

func (f *fakeOps) Readdir(ctx context.Context, path string) ([]fsops.DirEntry, error) {
	ents, ok := f.dirs[path]
	if !ok {
		return nil, fsops.New(fsops.KindNotFound, "readdir", path)
	}
	return ents, nil
}

func (f *fakeOps) Read(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	content, ok := f.data[path]
	if !ok {
		return 0, fsops.New(fsops.KindNotFound, "read", path)
	}
	if offset >= uint64(len(content)) {
		return 0, nil
	}
	n := copy(buf, content[offset:])
	return n, nil
}

func (f *fakeOps) Write(ctx context.Context, path string, offset uint64, buf []byte) (int, error) {
	content := f.data[path]
	end := offset + uint64(len(buf))
	if end > uint64(len(content)) {
		grown := make([]byte, end)
		copy(grown, content)
		content = grown
	}
	copy(content[offset:], buf)
	f.data[path] = content
	return len(buf), nil
}

func (f *fakeOps) Create(ctx context.Context, path string, kind fsops.FileKind, mode uint32) error {
	f.files[path] = fsops.FileAttributes{Kind: kind, Mode: mode}
	dir, name := fsops.Split(path)
	f.dirs[dir] = append(f.dirs[dir], fsops.DirEntry{Name: name, Attributes: f.files[path]})
	return nil
}

func (f *fakeOps) Mkdir(ctx context.Context, path string, mode uint32) error {
	f.files[path] = fsops.FileAttributes{Kind: fsops.KindDirectory, Mode: mode}
	f.dirs[path] = nil
	dir, name := fsops.Split(path)
	f.dirs[dir] = append(f.dirs[dir], fsops.DirEntry{Name: name, Attributes: f.files[path]})
	return nil
}

func (f *fakeOps) Unlink(ctx context.Context, path string) error {
	if _, ok := f.files[path]; !ok {
		return fsops.New(fsops.KindNotFound, "unlink", path)
	}
	delete(f.files, path)
	delete(f.data, path)
	dir, name := fsops.Split(path)
	ents := f.dirs[dir]
	for i, e := range ents {
		if e.Name == name {
			f.dirs[dir] = append(ents[:i], ents[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeOps) Rename(ctx context.Context, from, to string) error {
	attrs, ok := f.files[from]
	if !ok {
		return fsops.New(fsops.KindNotFound, "rename", from)
	}
	f.files[to] = attrs
	f.data[to] = f.data[from]
	return f.Unlink(ctx, from)
}

func (f *fakeOps) Sync(ctx context.Context) error  { return nil }
func (f *fakeOps) Close(ctx context.Context) error { return nil }

func TestNodeLookupAndAttr(t *testing.T) {
	ops := newFakeOps()
	require.NoError(t, ops.Create(context.Background(), "/hello.txt", fsops.KindRegular, 0644))
	ops.files["/hello.txt"] = fsops.FileAttributes{Kind: fsops.KindRegular, Mode: 0644, Size: 5, ModTime: time.Unix(1000, 0)}

	root := &Node{fs: &FS{Ops: ops}, path: "/"}
	child, err := root.Lookup(context.Background(), "hello.txt")
	require.NoError(t, err)

	var a fuse.Attr
	require.NoError(t, child.(*Node).Attr(context.Background(), &a))
	require.Equal(t, uint64(5), a.Size)
	require.Zero(t, a.Mode&os.ModeDir)
}

func TestNodeLookupMissingReturnsENOENT(t *testing.T) {
	ops := newFakeOps()
	root := &Node{fs: &FS{Ops: ops}, path: "/"}
	_, err := root.Lookup(context.Background(), "missing")
	require.Equal(t, fuse.ENOENT, err)
}

func TestNodeReadWriteRoundTrip(t *testing.T) {
	ops := newFakeOps()
	require.NoError(t, ops.Create(context.Background(), "/data.bin", fsops.KindRegular, 0644))
	n := &Node{fs: &FS{Ops: ops}, path: "/data.bin"}

	wresp := &fuse.WriteResponse{}
	require.NoError(t, n.Write(context.Background(), &fuse.WriteRequest{Data: []byte("hello")}, wresp))
	require.Equal(t, 5, wresp.Size)

	rresp := &fuse.ReadResponse{}
	require.NoError(t, n.Read(context.Background(), &fuse.ReadRequest{Size: 5}, rresp))
	require.Equal(t, "hello", string(rresp.Data))
}

func TestNodeMkdirThenReadDirAll(t *testing.T) {
	ops := newFakeOps()
	root := &Node{fs: &FS{Ops: ops}, path: "/"}
	_, err := root.Mkdir(context.Background(), &fuse.MkdirRequest{Name: "sub"})
	require.NoError(t, err)

	ents, err := root.ReadDirAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ents, 1)
	require.Equal(t, "sub", ents[0].Name)
	require.Equal(t, fuse.DT_Dir, ents[0].Type)
}

func TestDirentTypeMapping(t *testing.T) {
	require.Equal(t, fuse.DT_Dir, direntType(fsops.KindDirectory))
	require.Equal(t, fuse.DT_Link, direntType(fsops.KindSymlink))
	require.Equal(t, fuse.DT_File, direntType(fsops.KindRegular))
}

func TestTranslateErrMapsKinds(t *testing.T) {
	require.Equal(t, fuse.ENOENT, translateErr(fsops.New(fsops.KindNotFound, "stat", "/x")))
	require.Equal(t, fuse.EPERM, translateErr(fsops.New(fsops.KindAccessDenied, "stat", "/x")))
	require.Equal(t, fuse.EIO, translateErr(fsops.New(fsops.KindCorruption, "stat", "/x")))
}
