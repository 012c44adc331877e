//go:build linux
// +build linux

// Copyright (c) 2025 Stefano Scafiti
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package mountfs adapts an open fsops.FilesystemOps instance to
// bazil.org/fuse's fs.FS/fs.Node/fs.Handle* callbacks, so any engine that
// satisfies the C7 contract can be mounted as a real directory tree.
//
// A Node carries nothing but the path it names and a reference to the
// shared FilesystemOps; every callback re-resolves through Stat/Readdir/
// Read/Write rather than caching content, so there is no coherency problem
// between a Node and the engine's own in-memory state.
package mountfs

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dsyntax/diskfsd/internal/fsops"
)

// FS is the fs.FS root: one mounted fsops.FilesystemOps instance.
type FS struct {
	Ops fsops.FilesystemOps
}

func (f *FS) Root() (fs.Node, error) {
	return &Node{fs: f, path: "/"}, nil
}

// Node is both fs.Node and the handle returned for reads, writes and
// directory listings against path — there is no separate open/handle
// state beyond the path itself: handles stay thin and cache no content.
type Node struct {
	fs   *FS
	path string
}

var (
	_ fs.Node              = (*Node)(nil)
	_ fs.NodeStringLookuper = (*Node)(nil)
	_ fs.HandleReadDirAller = (*Node)(nil)
	_ fs.HandleReader       = (*Node)(nil)
	_ fs.HandleWriter       = (*Node)(nil)
	_ fs.NodeCreater        = (*Node)(nil)
	_ fs.NodeMkdirer        = (*Node)(nil)
	_ fs.NodeRemover        = (*Node)(nil)
	_ fs.NodeRenamer        = (*Node)(nil)
)

func (n *Node) Attr(ctx context.Context, a *fuse.Attr) error {
	attrs, err := n.fs.Ops.Stat(ctx, n.path)
	if err != nil {
		return translateErr(err)
	}
	fillAttr(a, attrs)
	return nil
}

func fillAttr(a *fuse.Attr, attrs fsops.FileAttributes) {
	a.Size = attrs.Size
	a.Mode = os.FileMode(attrs.Mode & 0o7777)
	switch attrs.Kind {
	case fsops.KindDirectory:
		a.Mode |= os.ModeDir
	case fsops.KindSymlink:
		a.Mode |= os.ModeSymlink
	}
	a.Mtime = attrs.ModTime
	a.Atime = attrs.AccTime
	a.Ctime = attrs.ChgTime
	a.Crtime = attrs.CrTime
	a.Uid = attrs.Owner
	a.Gid = attrs.Group
	a.Nlink = attrs.LinkCount
	if a.Nlink == 0 {
		a.Nlink = 1
	}
}

func (n *Node) child(name string) *Node {
	return &Node{fs: n.fs, path: fsops.Join(n.path, name)}
}

func (n *Node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := n.child(name)
	if _, err := n.fs.Ops.Stat(ctx, child.path); err != nil {
		return nil, translateErr(err)
	}
	return child, nil
}

func (n *Node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents, err := n.fs.Ops.Readdir(ctx, n.path)
	if err != nil {
		return nil, translateErr(err)
	}
	out := make([]fuse.Dirent, len(ents))
	for i, e := range ents {
		out[i] = fuse.Dirent{
			Inode: e.Ref,
			Name:  e.Name,
			Type:  direntType(e.Attributes.Kind),
		}
	}
	return out, nil
}

func direntType(kind fsops.FileKind) fuse.DirentType {
	switch kind {
	case fsops.KindDirectory:
		return fuse.DT_Dir
	case fsops.KindSymlink:
		return fuse.DT_Link
	default:
		return fuse.DT_File
	}
}

func (n *Node) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	nread, err := n.fs.Ops.Read(ctx, n.path, uint64(req.Offset), buf)
	if err != nil {
		return translateErr(err)
	}
	resp.Data = buf[:nread]
	return nil
}

func (n *Node) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	nwritten, err := n.fs.Ops.Write(ctx, n.path, uint64(req.Offset), req.Data)
	if err != nil {
		return translateErr(err)
	}
	resp.Size = nwritten
	return nil
}

func (n *Node) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	child := n.child(req.Name)
	if err := n.fs.Ops.Create(ctx, child.path, fsops.KindRegular, uint32(req.Mode.Perm())); err != nil {
		return nil, nil, translateErr(err)
	}
	return child, child, nil
}

func (n *Node) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	child := n.child(req.Name)
	if err := n.fs.Ops.Mkdir(ctx, child.path, uint32(req.Mode.Perm())); err != nil {
		return nil, translateErr(err)
	}
	return child, nil
}

func (n *Node) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child := n.child(req.Name)
	if err := n.fs.Ops.Unlink(ctx, child.path); err != nil {
		return translateErr(err)
	}
	return nil
}

func (n *Node) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fs.Node) error {
	destDir, ok := newDir.(*Node)
	if !ok {
		return fuse.EIO
	}
	from := n.child(req.OldName)
	to := fsops.Join(destDir.path, req.NewName)
	if err := n.fs.Ops.Rename(ctx, from.path, to); err != nil {
		return translateErr(err)
	}
	return nil
}

func translateErr(err error) error {
	kind, ok := fsops.KindOf(err)
	if !ok {
		return fuse.EIO
	}
	switch kind {
	case fsops.KindNotFound:
		return fuse.ENOENT
	case fsops.KindAccessDenied, fsops.KindSafetyRefusal:
		return fuse.EPERM
	case fsops.KindReadOnly:
		return fuse.Errno(syscall.EROFS)
	case fsops.KindBusy:
		return fuse.Errno(syscall.EBUSY)
	case fsops.KindNoSpace:
		return fuse.Errno(syscall.ENOSPC)
	default:
		return fuse.EIO
	}
}
