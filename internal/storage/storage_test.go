package storage_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/nufs-fs/nufs/errno"
	"github.com/nufs-fs/nufs/internal/inode"
	"github.com/nufs-fs/nufs/internal/storage"
	"github.com/stretchr/testify/require"
)

func mount(t *testing.T) *storage.FileSystem {
	t.Helper()
	fs, err := storage.Mount(filepath.Join(t.TempDir(), "image.nufs"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	return fs
}

func TestFreshMountStatsRoot(t *testing.T) {
	fs := mount(t)

	attr, err := fs.Stat("/")
	require.NoError(t, err)
	require.EqualValues(t, 0, attr.Ino)
	require.EqualValues(t, 4096, attr.Size)
	require.True(t, attr.Mode&uint32(inode.ModeDir) != 0)

	require.NoError(t, fs.Check())
}

func TestMknodWriteReadRoundTrip(t *testing.T) {
	fs := mount(t)

	require.NoError(t, fs.Mknod("/hello", uint32(inode.ModeReg)|0o644))

	n, err := fs.Write("/hello", []byte("world"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = fs.Read("/hello", buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	attr, err := fs.Stat("/hello")
	require.NoError(t, err)
	require.EqualValues(t, 5, attr.Size)
	require.EqualValues(t, 1, attr.Blocks)

	require.NoError(t, fs.Check())
}

func TestMkdirMknodList(t *testing.T) {
	fs := mount(t)

	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Mknod("/d/a", uint32(inode.ModeReg)|0o644))

	names, err := fs.List("/d")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)

	rootNames, err := fs.List("/")
	require.NoError(t, err)
	require.Contains(t, rootNames, "d")

	require.NoError(t, fs.Check())
}

func TestHardLinks(t *testing.T) {
	fs := mount(t)

	require.NoError(t, fs.Mknod("/x", uint32(inode.ModeReg)|0o644))
	require.NoError(t, fs.Link("/x", "/y"))

	attrX, err := fs.Stat("/x")
	require.NoError(t, err)
	require.EqualValues(t, 2, attrX.Nlink)

	require.NoError(t, fs.Unlink("/x"))
	attrY, err := fs.Stat("/y")
	require.NoError(t, err)
	require.EqualValues(t, 1, attrY.Nlink)

	_, err = fs.Stat("/x")
	require.Error(t, err)

	require.NoError(t, fs.Check())
}

func TestWriteAcrossIndirectBoundary(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))

	data := bytes.Repeat([]byte{0xAB}, 5000)
	n, err := fs.Write("/a", data, 0)
	require.NoError(t, err)
	require.Equal(t, 5000, n)

	attr, err := fs.Stat("/a")
	require.NoError(t, err)
	require.EqualValues(t, 5000, attr.Size)

	buf := make([]byte, 904)
	n, err = fs.Read("/a", buf, 4096)
	require.NoError(t, err)
	require.Equal(t, 904, n)
	require.Equal(t, bytes.Repeat([]byte{0xAB}, 904), buf)

	require.NoError(t, fs.Check())
}

func TestRenameMovesInodeAndFreesDestination(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))
	require.NoError(t, fs.Mknod("/b", uint32(inode.ModeReg)|0o644))

	oldAAttr, err := fs.Stat("/a")
	require.NoError(t, err)

	require.NoError(t, fs.Rename("/a", "/b"))

	_, err = fs.Stat("/a")
	require.Error(t, err)

	newBAttr, err := fs.Stat("/b")
	require.NoError(t, err)
	require.Equal(t, oldAAttr.Ino, newBAttr.Ino)

	require.NoError(t, fs.Check())
}

func TestRenameOntoSelfIsNoop(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))

	before, err := fs.Stat("/a")
	require.NoError(t, err)

	require.NoError(t, fs.Rename("/a", "/a"))

	after, err := fs.Stat("/a")
	require.NoError(t, err)
	require.Equal(t, before.Ino, after.Ino)
}

func TestTruncateThenStatReflectsSize(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))
	require.NoError(t, fs.Truncate("/a", 10000))

	attr, err := fs.Stat("/a")
	require.NoError(t, err)
	require.EqualValues(t, 10000, attr.Size)

	require.NoError(t, fs.Truncate("/a", 3))
	attr, err = fs.Stat("/a")
	require.NoError(t, err)
	require.EqualValues(t, 3, attr.Size)

	require.NoError(t, fs.Check())
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Mknod("/d/a", uint32(inode.ModeReg)|0o644))

	err := fs.Rmdir("/d")
	require.Error(t, err)
	require.Equal(t, errno.NotEmpty.Errno, errno.Code(err))

	names, err := fs.List("/d")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, names)
}

func TestRmdirRemovesEmptyDirectory(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mkdir("/d", 0o755))
	require.NoError(t, fs.Rmdir("/d"))

	_, err := fs.Stat("/d")
	require.Error(t, err)

	require.NoError(t, fs.Check())
}

func TestNameTooLongFails(t *testing.T) {
	fs := mount(t)
	longName := bytes.Repeat([]byte("a"), 48)
	err := fs.Mknod("/"+string(longName), uint32(inode.ModeReg)|0o644)
	require.Error(t, err)
}

func TestMknodExistingPathFailsWithExists(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))
	err := fs.Mknod("/a", uint32(inode.ModeReg)|0o644)
	require.Error(t, err)
	require.Equal(t, errno.Exists.Errno, errno.Code(err))
}

func TestChmodPreservesTypeBits(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))
	require.NoError(t, fs.Chmod("/a", 0o600))

	attr, err := fs.Stat("/a")
	require.NoError(t, err)
	require.EqualValues(t, uint32(inode.ModeReg)|0o600, attr.Mode)
}

func TestFormatReinitializesRoot(t *testing.T) {
	fs := mount(t)
	require.NoError(t, fs.Mknod("/a", uint32(inode.ModeReg)|0o644))

	require.NoError(t, fs.Format())

	_, err := fs.Stat("/a")
	require.Error(t, err)

	attr, err := fs.Stat("/")
	require.NoError(t, err)
	require.EqualValues(t, 0, attr.Ino)

	require.NoError(t, fs.Check())
}
