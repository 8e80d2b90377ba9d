// Package storage is the path-oriented façade over the block, inode, and
// directory layers: the single entry point FUSE (or anything else) talks to.
package storage

import (
	"time"

	"github.com/nufs-fs/nufs/errno"
	"github.com/nufs-fs/nufs/internal/block"
	"github.com/nufs-fs/nufs/internal/directory"
	"github.com/nufs-fs/nufs/internal/inode"
)

// FileSystem is an open, mounted image plus the layers composed over it.
type FileSystem struct {
	img    *block.Image
	inodes *inode.Table
	dir    *directory.Dir
}

// Mount opens path (creating a fresh zero-filled image if needed) and
// ensures the inode table and root directory are initialized.
func Mount(path string) (*FileSystem, error) {
	img, err := block.Open(path)
	if err != nil {
		return nil, err
	}

	inodes := inode.New(img)
	inodes.Init()
	dir := directory.New(img, inodes)
	if err := dir.InitRoot(); err != nil {
		img.Close()
		return nil, err
	}

	return &FileSystem{img: img, inodes: inodes, dir: dir}, nil
}

// Close unmaps and closes the backing image.
func (fs *FileSystem) Close() error {
	return fs.img.Close()
}

// Raw returns the whole mapped image, for offline inspection tools.
func (fs *FileSystem) Raw() []byte {
	return fs.img.Raw()
}

// Attr mirrors the subset of POSIX stat(2) fields this engine tracks.
type Attr struct {
	Ino    uint64
	Mode   uint32
	Size   int64
	Uid    uint32
	Gid    uint32
	Nlink  uint32
	Atime  time.Time
	Mtime  time.Time
	Blocks int64
}

// Stat fills an Attr for the file or directory at path.
func (fs *FileSystem) Stat(path string) (*Attr, error) {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return nil, err
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return nil, errno.NoEntry
	}

	return &Attr{
		Ino:    uint64(inum),
		Mode:   uint32(rec.Mode),
		Size:   int64(rec.Size),
		Uid:    uint32(rec.Uid),
		Gid:    uint32(rec.Gid),
		Nlink:  uint32(rec.Refs),
		Atime:  time.Unix(int64(rec.Atime), 0),
		Mtime:  time.Unix(int64(rec.Mtime), 0),
		Blocks: (int64(rec.Size) + 511) / 512,
	}, nil
}

// Read copies up to len(buf) bytes starting at offset into buf, returning
// the number actually read (0 at or past end of file, never an error for
// a short read).
func (fs *FileSystem) Read(path string, buf []byte, offset int64) (int, error) {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return 0, err
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return 0, errno.NoEntry
	}

	size := int64(rec.Size)
	if offset >= size {
		return 0, nil
	}
	want := len(buf)
	if offset+int64(want) > size {
		want = int(size - offset)
	}

	read := 0
	for read < want {
		fileBlock := int(offset) + read
		blockIndex := fileBlock / block.Size
		blockOffset := fileBlock % block.Size

		phys, err := fs.inodes.LogicalToPhysical(rec, blockIndex)
		if err != nil {
			break
		}

		toRead := block.Size - blockOffset
		if toRead > want-read {
			toRead = want - read
		}
		data := fs.img.Block(phys)
		copy(buf[read:read+toRead], data[blockOffset:blockOffset+toRead])
		read += toRead
	}

	rec.Atime = int32(time.Now().Unix())
	fs.inodes.Save(int(inum), rec)
	return read, nil
}

// Write copies buf into the file at offset, growing it first if the write
// extends past the current size.
func (fs *FileSystem) Write(path string, buf []byte, offset int64) (int, error) {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return 0, err
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return 0, errno.NoEntry
	}

	end := offset + int64(len(buf))
	if end > int64(rec.Size) {
		if err := fs.inodes.Grow(int(inum), rec, int32(end)); err != nil {
			return 0, errno.NoSpace
		}
	}

	written := 0
	for written < len(buf) {
		fileBlock := int(offset) + written
		blockIndex := fileBlock / block.Size
		blockOffset := fileBlock % block.Size

		phys, err := fs.inodes.LogicalToPhysical(rec, blockIndex)
		if err != nil {
			break
		}

		toWrite := block.Size - blockOffset
		if toWrite > len(buf)-written {
			toWrite = len(buf) - written
		}
		data := fs.img.Block(phys)
		copy(data[blockOffset:blockOffset+toWrite], buf[written:written+toWrite])
		written += toWrite
	}

	rec.Mtime = int32(time.Now().Unix())
	fs.inodes.Save(int(inum), rec)
	return written, nil
}

// Truncate grows or shrinks the file at path to exactly size bytes.
func (fs *FileSystem) Truncate(path string, size int64) error {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return err
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return errno.NoEntry
	}

	if size > int64(rec.Size) {
		return fs.inodes.Grow(int(inum), rec, int32(size))
	} else if size < int64(rec.Size) {
		return fs.inodes.Shrink(int(inum), rec, int32(size))
	}
	return nil
}

// Mknod creates a new file or directory at path with the given mode,
// which must include the S_IFREG or S_IFDIR type bit.
func (fs *FileSystem) Mknod(path string, mode uint32) error {
	if _, err := fs.dir.TreeLookup(path); err == nil {
		return errno.Exists
	}

	parentInum, err := fs.dir.TreeLookupParent(path)
	if err != nil {
		return errno.NoEntry
	}
	parentRec, err := fs.inodes.Get(int(parentInum))
	if err != nil {
		return errno.NoEntry
	}

	newInum, newRec, err := fs.inodes.Alloc(0, 0)
	if err != nil {
		return errno.NoSpace
	}
	newRec.Mode = int32(mode)

	if mode&uint32(inode.TypeMask) == uint32(inode.ModeDir) {
		if err := fs.inodes.Grow(newInum, newRec, block.Size); err != nil {
			fs.inodes.Free(newInum)
			return err
		}
	} else if err := fs.inodes.Save(newInum, newRec); err != nil {
		fs.inodes.Free(newInum)
		return err
	}

	name := directory.Basename(path)
	if err := fs.dir.Put(int(parentInum), parentRec, name, uint32(newInum)); err != nil {
		fs.inodes.Free(newInum)
		return errno.NoSpace
	}
	return nil
}

// Mkdir is Mknod with the directory type bit forced on.
func (fs *FileSystem) Mkdir(path string, perm uint32) error {
	return fs.Mknod(path, uint32(inode.ModeDir)|(perm&uint32(inode.PermMask)))
}

// Unlink removes path's directory entry and frees its inode once no links
// remain.
func (fs *FileSystem) Unlink(path string) error {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return errno.NoEntry
	}

	parentInum, err := fs.dir.TreeLookupParent(path)
	if err != nil {
		return errno.NoEntry
	}
	parentRec, err := fs.inodes.Get(int(parentInum))
	if err != nil {
		return errno.NoEntry
	}

	name := directory.Basename(path)
	if err := fs.dir.Delete(parentRec, name); err != nil {
		return errno.NoEntry
	}

	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return errno.NoEntry
	}
	rec.Refs--
	if rec.Refs <= 0 {
		return fs.inodes.Free(int(inum))
	}
	return fs.inodes.Save(int(inum), rec)
}

// Rmdir removes an empty directory. Non-empty directories return
// errno.NotEmpty.
func (fs *FileSystem) Rmdir(path string) error {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return errno.NoEntry
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return errno.NoEntry
	}
	if !rec.IsDir() {
		return errno.NotADirectory
	}

	names, err := fs.dir.List(rec)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return errno.NotEmpty
	}

	return fs.Unlink(path)
}

// Link creates a new directory entry "to" pointing at the same inode as
// "from", incrementing its reference count.
func (fs *FileSystem) Link(from, to string) error {
	fromInum, err := fs.dir.TreeLookup(from)
	if err != nil {
		return errno.NoEntry
	}
	if _, err := fs.dir.TreeLookup(to); err == nil {
		return errno.Exists
	}

	parentInum, err := fs.dir.TreeLookupParent(to)
	if err != nil {
		return errno.NoEntry
	}
	parentRec, err := fs.inodes.Get(int(parentInum))
	if err != nil {
		return errno.NoEntry
	}

	name := directory.Basename(to)
	if err := fs.dir.Put(int(parentInum), parentRec, name, fromInum); err != nil {
		return errno.NoSpace
	}

	rec, err := fs.inodes.Get(int(fromInum))
	if err != nil {
		return errno.NoEntry
	}
	rec.Refs++
	return fs.inodes.Save(int(fromInum), rec)
}

// Rename moves the entry at from to to, replacing any existing entry at to.
// Renaming a path onto itself is a no-op success.
func (fs *FileSystem) Rename(from, to string) error {
	if from == to {
		if _, err := fs.dir.TreeLookup(from); err != nil {
			return errno.NoEntry
		}
		return nil
	}

	fromInum, err := fs.dir.TreeLookup(from)
	if err != nil {
		return errno.NoEntry
	}

	if _, err := fs.dir.TreeLookup(to); err == nil {
		if err := fs.Unlink(to); err != nil {
			return err
		}
	}

	fromParentInum, err := fs.dir.TreeLookupParent(from)
	if err != nil {
		return errno.NoEntry
	}
	toParentInum, err := fs.dir.TreeLookupParent(to)
	if err != nil {
		return errno.NoEntry
	}
	fromParentRec, err := fs.inodes.Get(int(fromParentInum))
	if err != nil {
		return errno.NoEntry
	}
	toParentRec, err := fs.inodes.Get(int(toParentInum))
	if err != nil {
		return errno.NoEntry
	}

	toName := directory.Basename(to)
	if err := fs.dir.Put(int(toParentInum), toParentRec, toName, fromInum); err != nil {
		return errno.NoSpace
	}

	fromName := directory.Basename(from)
	return fs.dir.Delete(fromParentRec, fromName)
}

// Utimens sets the access and modification times of path.
func (fs *FileSystem) Utimens(path string, atime, mtime time.Time) error {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return errno.NoEntry
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return errno.NoEntry
	}
	rec.Atime = int32(atime.Unix())
	rec.Mtime = int32(mtime.Unix())
	return fs.inodes.Save(int(inum), rec)
}

// List returns the non-empty entry names of the directory at path, in
// storage order.
func (fs *FileSystem) List(path string) ([]string, error) {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return nil, errno.NoEntry
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return nil, errno.NoEntry
	}
	return fs.dir.List(rec)
}

// Chmod updates path's permission bits, preserving its type bits.
func (fs *FileSystem) Chmod(path string, mode uint32) error {
	inum, err := fs.dir.TreeLookup(path)
	if err != nil {
		return errno.NoEntry
	}
	rec, err := fs.inodes.Get(int(inum))
	if err != nil {
		return errno.NoEntry
	}
	rec.Mode = (rec.Mode & inode.TypeMask) | int32(mode&^uint32(inode.TypeMask))
	return fs.inodes.Save(int(inum), rec)
}
