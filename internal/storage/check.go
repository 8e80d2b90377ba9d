package storage

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/nufs-fs/nufs/internal/block"
	"github.com/nufs-fs/nufs/internal/inode"
)

// Check walks the whole image and reports every invariant violation it
// finds, rather than stopping at the first one. It is the "fsck" entry
// point: a round-trip test or a CLI subcommand can call it after a
// sequence of façade operations to confirm nothing drifted.
func (fs *FileSystem) Check() error {
	var result *multierror.Error

	expectedBlocks := map[int]bool{block.BitmapBlock: true, block.InodeTableBlock: true}
	inodeRefs := make(map[int]int32)
	seenBlocks := make(map[int]int)

	for i := 0; i < inode.Count; i++ {
		rec, err := fs.inodes.Get(i)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("inode %d: %w", i, err))
			continue
		}
		if !fs.img.InodeBitmap().Get(i) {
			if rec.IsAllocated() {
				result = multierror.Append(result, fmt.Errorf(
					"inode %d has refs=%d but its bitmap bit is clear", i, rec.Refs))
			}
			continue
		}
		if !rec.IsAllocated() {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d's bitmap bit is set but refs=%d", i, rec.Refs))
		}

		if rec.Size == 0 && (rec.Block != 0 || rec.Indirect != 0) {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d has size 0 but block=%d indirect=%d", i, rec.Block, rec.Indirect))
		}
		if rec.Size != 0 && rec.Block == 0 {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d has size %d but no direct block", i, rec.Size))
		}
		if rec.Size <= block.Size && rec.Indirect != 0 {
			result = multierror.Append(result, fmt.Errorf(
				"inode %d has size %d (fits in one block) but has an indirect block", i, rec.Size))
		}

		for _, b := range blocksOf(fs, rec) {
			expectedBlocks[b] = true
			seenBlocks[b]++
			if seenBlocks[b] > 1 {
				result = multierror.Append(result, fmt.Errorf(
					"block %d is claimed by more than one inode", b))
			}
		}
	}

	refCounts, err := fs.walkTree()
	if err != nil {
		result = multierror.Append(result, err)
	} else {
		for inum, count := range refCounts {
			inodeRefs[inum] = count
		}
		for i := 0; i < inode.Count; i++ {
			rec, err := fs.inodes.Get(i)
			if err != nil || !rec.IsAllocated() {
				continue
			}
			if _, referenced := inodeRefs[i]; !referenced && i != directoryRootInum {
				result = multierror.Append(result, fmt.Errorf(
					"inode %d is allocated but unreachable from root", i))
				continue
			}
			if rec.Refs != inodeRefs[i] && i != directoryRootInum {
				result = multierror.Append(result, fmt.Errorf(
					"inode %d has refs=%d but %d directory entries reference it", i, rec.Refs, inodeRefs[i]))
			}
		}
	}

	for i := 0; i < block.Count; i++ {
		set := fs.img.BlockBitmap().Get(i)
		if set != expectedBlocks[i] {
			result = multierror.Append(result, fmt.Errorf(
				"block %d bitmap bit is %v, expected %v", i, set, expectedBlocks[i]))
		}
	}

	return result.ErrorOrNil()
}

const directoryRootInum = 0

func blocksOf(fs *FileSystem, rec *inode.Record) []int {
	var blocks []int
	if rec.Block != 0 {
		blocks = append(blocks, int(rec.Block))
	}
	if rec.Indirect != 0 {
		blocks = append(blocks, int(rec.Indirect))
		indirectBlock := fs.img.Block(int(rec.Indirect))
		n := block.BytesToBlocks(int(rec.Size)) - 1
		if n > inode.EntriesPerIndirect {
			n = inode.EntriesPerIndirect
		}
		for i := 0; i < n; i++ {
			ptr := int(indirectBlock[i*4]) | int(indirectBlock[i*4+1])<<8 |
				int(indirectBlock[i*4+2])<<16 | int(indirectBlock[i*4+3])<<24
			if ptr != 0 {
				blocks = append(blocks, ptr)
			}
		}
	}
	return blocks
}

// walkTree descends the whole reachable directory tree from the root,
// returning, for each inode number, how many directory entries reference it.
func (fs *FileSystem) walkTree() (map[int]int32, error) {
	refCounts := map[int]int32{directoryRootInum: 1}

	var visit func(path string, inum int) error
	visit = func(path string, inum int) error {
		rec, err := fs.inodes.Get(inum)
		if err != nil {
			return err
		}
		if !rec.IsDir() {
			return nil
		}

		entries, err := fs.dir.List(rec)
		if err != nil {
			return err
		}
		for _, name := range entries {
			childInum, err := fs.dir.Lookup(rec, name)
			if err != nil {
				continue
			}
			refCounts[int(childInum)]++

			childRec, err := fs.inodes.Get(int(childInum))
			if err == nil && childRec.IsDir() {
				if err := visit(path+"/"+name, int(childInum)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := visit("", directoryRootInum); err != nil {
		return nil, err
	}
	return refCounts, nil
}
