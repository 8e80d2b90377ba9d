package main

import (
	"context"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/nufs-fs/nufs/errno"
	"github.com/nufs-fs/nufs/internal/inode"
	"github.com/nufs-fs/nufs/internal/storage"
)

// node is the thin go-fuse InodeEmbedder wrapping one path in a mounted
// image. Everything it does is translate between fuse's callback shapes and
// storage.FileSystem's path-oriented calls; it holds no filesystem state of
// its own beyond the path.
type node struct {
	fs.Inode
	fsys *storage.FileSystem
	path string
}

var (
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReader    = (*node)(nil)
	_ fs.NodeWriter    = (*node)(nil)
	_ fs.NodeCreater   = (*node)(nil)
	_ fs.NodeMkdirer   = (*node)(nil)
	_ fs.NodeUnlinker  = (*node)(nil)
	_ fs.NodeRmdirer   = (*node)(nil)
	_ fs.NodeRenamer   = (*node)(nil)
	_ fs.NodeLinker    = (*node)(nil)
	_ fs.NodeSetattrer = (*node)(nil)
)

func toErrno(err error) syscall.Errno {
	return errno.Code(err)
}

func (n *node) child(name string) *node {
	return &node{fsys: n.fsys, path: path.Join(n.path, name)}
}

func fillAttr(out *fuse.Attr, a *storage.Attr) {
	out.Ino = a.Ino
	out.Mode = a.Mode
	out.Size = uint64(a.Size)
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Nlink = a.Nlink
	out.Blocks = uint64(a.Blocks)
	out.SetTimes(&a.Atime, &a.Mtime, &a.Mtime)
}

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.fsys.Stat(n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)
	attr, err := n.fsys.Stat(childPath)
	if err != nil {
		return nil, toErrno(err)
	}

	fillAttr(&out.Attr, attr)
	mode := uint32(fuse.S_IFREG)
	if attr.Mode&uint32(inode.ModeDir) != 0 {
		mode = fuse.S_IFDIR
	}

	child := n.child(name)
	stable := fs.StableAttr{Mode: mode, Ino: attr.Ino}
	return n.NewInode(ctx, child, stable), 0
}

type dirStream struct {
	names []string
	i     int
}

func (d *dirStream) HasNext() bool { return d.i < len(d.names) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	name := d.names[d.i]
	d.i++
	return fuse.DirEntry{Name: name}, 0
}
func (d *dirStream) Close() {}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := n.fsys.List(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	return &dirStream{names: names}, 0
}

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *node) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.fsys.Read(n.path, dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *node) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nWritten, err := n.fsys.Write(n.path, data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(nWritten), 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := path.Join(n.path, name)
	if err := n.fsys.Mknod(childPath, uint32(inode.ModeReg)|(mode&uint32(inode.PermMask))); err != nil {
		return nil, nil, 0, toErrno(err)
	}

	attr, err := n.fsys.Stat(childPath)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	fillAttr(&out.Attr, attr)

	child := n.child(name)
	stable := fs.StableAttr{Mode: fuse.S_IFREG, Ino: attr.Ino}
	return n.NewInode(ctx, child, stable), nil, 0, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := path.Join(n.path, name)
	if err := n.fsys.Mkdir(childPath, mode&uint32(inode.PermMask)); err != nil {
		return nil, toErrno(err)
	}

	attr, err := n.fsys.Stat(childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, attr)

	child := n.child(name)
	stable := fs.StableAttr{Mode: fuse.S_IFDIR, Ino: attr.Ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.Unlink(path.Join(n.path, name)))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.Rmdir(path.Join(n.path, name)))
}

func (n *node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newParentNode, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	from := path.Join(n.path, name)
	to := path.Join(newParentNode.path, newName)
	return toErrno(n.fsys.Rename(from, to))
}

func (n *node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	targetNode, ok := target.(*node)
	if !ok {
		return nil, syscall.EXDEV
	}
	childPath := path.Join(n.path, name)
	if err := n.fsys.Link(targetNode.path, childPath); err != nil {
		return nil, toErrno(err)
	}

	attr, err := n.fsys.Stat(childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, attr)

	child := n.child(name)
	stable := fs.StableAttr{Mode: fuse.S_IFREG, Ino: attr.Ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := n.fsys.Truncate(n.path, int64(size)); err != nil {
			return toErrno(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.fsys.Chmod(n.path, mode); err != nil {
			return toErrno(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		if mtime, ok := in.GetMTime(); ok {
			if err := n.fsys.Utimens(n.path, atime, mtime); err != nil {
				return toErrno(err)
			}
		}
	}

	attr, err := n.fsys.Stat(n.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}
