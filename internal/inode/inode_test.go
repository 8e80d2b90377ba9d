package inode_test

import (
	"path/filepath"
	"testing"

	"github.com/nufs-fs/nufs/internal/block"
	"github.com/nufs-fs/nufs/internal/inode"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T) (*block.Image, *inode.Table) {
	t.Helper()
	img, err := block.Open(filepath.Join(t.TempDir(), "image.nufs"))
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	table := inode.New(img)
	table.Init()
	return img, table
}

func TestAllocZeroInitializesWithRefsOne(t *testing.T) {
	_, table := newTable(t)

	inum, rec, err := table.Alloc(1000, 1000)
	require.NoError(t, err)
	require.Equal(t, 0, inum)
	require.EqualValues(t, 1, rec.Refs)
	require.EqualValues(t, 0, rec.Size)
	require.EqualValues(t, 0, rec.Block)
	require.EqualValues(t, 0, rec.Indirect)
}

func TestFreeClearsBitmapAndRecord(t *testing.T) {
	_, table := newTable(t)

	inum, _, err := table.Alloc(0, 0)
	require.NoError(t, err)
	require.NoError(t, table.Free(inum))

	rec, err := table.Get(inum)
	require.NoError(t, err)
	require.False(t, rec.IsAllocated())

	// The freed slot should be reused by the next Alloc.
	again, _, err := table.Alloc(0, 0)
	require.NoError(t, err)
	require.Equal(t, inum, again)
}

func TestGetOutOfRange(t *testing.T) {
	_, table := newTable(t)
	_, err := table.Get(-1)
	require.Error(t, err)
	_, err = table.Get(inode.Count)
	require.Error(t, err)
}

func TestGrowAllocatesDirectThenIndirect(t *testing.T) {
	_, table := newTable(t)
	inum, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)

	require.NoError(t, table.Grow(inum, rec, block.Size))
	require.NotZero(t, rec.Block)
	require.Zero(t, rec.Indirect, "one block should not need an indirect block")

	require.NoError(t, table.Grow(inum, rec, block.Size+1))
	require.NotZero(t, rec.Indirect, "crossing one block must allocate an indirect block")

	phys, err := table.LogicalToPhysical(rec, 1)
	require.NoError(t, err)
	require.NotZero(t, phys)
}

func TestGrowToImageCapacityThenOneMoreBlockFails(t *testing.T) {
	_, table := newTable(t)
	inum, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)

	// block.BitmapBlock and block.InodeTableBlock are already reserved, and
	// one more block is spent on the indirect table itself once the file
	// crosses one block. On this fixed 256-block image that leaves
	// block.Count-3 data blocks as the real maximum a single file can grow
	// to — inode.MaxFileSize (one direct block plus a full indirect block's
	// worth of data, 1025 blocks) is unreachable on an image this size.
	maxDataBlocks := block.Count - 3
	maxSize := int32(maxDataBlocks * block.Size)

	require.NoError(t, table.Grow(inum, rec, maxSize))
	require.EqualValues(t, maxSize, rec.Size)

	err = table.Grow(inum, rec, maxSize+block.Size)
	require.Error(t, err, "growing past the image's last free block must fail with NoSpace")
}

func TestShrinkToZeroClearsSentinels(t *testing.T) {
	_, table := newTable(t)
	inum, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)
	require.NoError(t, table.Grow(inum, rec, block.Size+100))
	require.NotZero(t, rec.Indirect)

	require.NoError(t, table.Shrink(inum, rec, 0))
	require.EqualValues(t, 0, rec.Size)
	require.EqualValues(t, 0, rec.Block)
	require.EqualValues(t, 0, rec.Indirect)
}

func TestShrinkBackToOneBlockFreesIndirect(t *testing.T) {
	_, table := newTable(t)
	inum, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)
	require.NoError(t, table.Grow(inum, rec, block.Size+100))

	require.NoError(t, table.Shrink(inum, rec, 10))
	require.EqualValues(t, 0, rec.Indirect)
	require.NotZero(t, rec.Block)
}

func TestLogicalToPhysicalZeroUsesDirectBlock(t *testing.T) {
	_, table := newTable(t)
	inum, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)
	require.NoError(t, table.Grow(inum, rec, 10))

	phys, err := table.LogicalToPhysical(rec, 0)
	require.NoError(t, err)
	require.EqualValues(t, rec.Block, phys)
}

func TestLogicalToPhysicalUnallocatedFails(t *testing.T) {
	_, table := newTable(t)
	_, rec, err := table.Alloc(0, 0)
	require.NoError(t, err)

	_, err = table.LogicalToPhysical(rec, 0)
	require.Error(t, err)
}
