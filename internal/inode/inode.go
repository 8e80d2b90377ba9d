// Package inode manages the inode table in block 1: allocation, the
// direct+single-indirect block pointer scheme, and variable-length growth
// and shrinkage of a file's data.
package inode

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/nufs-fs/nufs/errno"
	"github.com/nufs-fs/nufs/internal/block"
)

const (
	// Count is the fixed number of inode table slots.
	Count = 128
	// RecordSize is the on-disk stride of a single inode record, in bytes.
	// 128 records at this stride exactly fill block 1, keeping the inode
	// table a single block and data blocks starting at a clean block
	// boundary (byte 8192). Timestamps are narrowed to 32-bit epoch seconds
	// and uid/gid to 16 bits to land the record at exactly 32 bytes with no
	// compiler padding.
	RecordSize = 32

	// EntriesPerIndirect is the number of 32-bit block pointers that fit in
	// one indirect block.
	EntriesPerIndirect = block.Size / 4

	// MaxFileSize is the largest representable file: one direct block plus
	// a full indirect block's worth of data blocks.
	MaxFileSize = (1 + block.Size/4) * block.Size

	// Mode type bits, POSIX-compatible.
	TypeMask = 0o170000
	ModeDir  = 0o040000
	ModeReg  = 0o100000
	PermMask = 0o007777
)

// Record is the in-memory form of one inode table entry.
type Record struct {
	Refs     int32
	Mode     int32
	Size     int32
	Block    int32
	Indirect int32
	Atime    int32
	Mtime    int32
	Uid      uint16
	Gid      uint16
}

// IsDir reports whether the record's mode has the directory type bit set.
func (r *Record) IsDir() bool {
	return r.Mode&TypeMask == ModeDir
}

// IsAllocated reports whether this record currently has a nonzero reference
// count, i.e. it was returned by Alloc and not yet freed.
func (r *Record) IsAllocated() bool {
	return r.Refs > 0
}

func encode(r *Record) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

func decode(data []byte) *Record {
	var r Record
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &r)
	return &r
}

// Table is the dense array of inode records stored in block 1.
type Table struct {
	img *block.Image
}

// New wraps img's inode table. It performs no I/O; callers run Init once per
// fresh image.
func New(img *block.Image) *Table {
	return &Table{img: img}
}

func (t *Table) slot(inum int) []byte {
	tableBlock := t.img.Block(block.InodeTableBlock)
	off := inum * RecordSize
	return tableBlock[off : off+RecordSize]
}

// Init marks block 1 allocated in the block bitmap. Idempotent.
func (t *Table) Init() {
	t.img.BlockBitmap().Set(block.InodeTableBlock, true)
}

// Get returns the inode record for inum.
func (t *Table) Get(inum int) (*Record, error) {
	if inum < 0 || inum >= Count {
		return nil, errno.OutOfRange.WithMessage("inode number out of range")
	}
	return decode(t.slot(inum)), nil
}

// Save writes rec back to inum's slot in the table.
func (t *Table) Save(inum int, rec *Record) error {
	if inum < 0 || inum >= Count {
		return errno.OutOfRange.WithMessage("inode number out of range")
	}
	copy(t.slot(inum), encode(rec))
	return nil
}

// Alloc finds the lowest clear inode bit, sets it, zero-initializes the
// record with Refs=1, and stamps uid/gid/atime/mtime from now/the caller.
func (t *Table) Alloc(uid, gid uint16) (int, *Record, error) {
	bm := t.img.InodeBitmap()
	for i := 0; i < Count; i++ {
		if !bm.Get(i) {
			bm.Set(i, true)
			now := int32(time.Now().Unix())
			rec := &Record{Refs: 1, Uid: uid, Gid: gid, Atime: now, Mtime: now}
			if err := t.Save(i, rec); err != nil {
				return 0, nil, err
			}
			return i, rec, nil
		}
	}
	return 0, nil, errno.NoSpace.WithMessage("no free inodes")
}

// Free releases every data block owned by the inode at inum (direct block,
// indirect block, and all nonzero entries in the indirect table), zero-clears
// the record, and clears the inode bitmap bit.
func (t *Table) Free(inum int) error {
	rec, err := t.Get(inum)
	if err != nil {
		return err
	}

	if rec.Block != 0 {
		t.img.FreeBlock(int(rec.Block))
	}
	if rec.Indirect != 0 {
		indirectBlock := t.img.Block(int(rec.Indirect))
		n := indirectEntryCount(rec.Size)
		for i := 0; i < n; i++ {
			ptr := readIndirectEntry(indirectBlock, i)
			if ptr != 0 {
				t.img.FreeBlock(int(ptr))
			}
		}
		t.img.FreeBlock(int(rec.Indirect))
	}

	if err := t.Save(inum, &Record{}); err != nil {
		return err
	}
	t.img.InodeBitmap().Set(inum, false)
	return nil
}

// indirectEntryCount returns how many indirect-table entries a file of the
// given size can possibly have populated: max(0, blocksUsed-1), capped at
// EntriesPerIndirect.
func indirectEntryCount(size int32) int {
	n := block.BytesToBlocks(int(size)) - 1
	if n < 0 {
		n = 0
	}
	if n > EntriesPerIndirect {
		n = EntriesPerIndirect
	}
	return n
}

func readIndirectEntry(indirectBlock []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(indirectBlock[i*4 : i*4+4]))
}

func writeIndirectEntry(indirectBlock []byte, i int, value int32) {
	binary.LittleEndian.PutUint32(indirectBlock[i*4:i*4+4], uint32(value))
}

// LogicalToPhysical translates logical block index i of rec to a physical
// block index.
func (t *Table) LogicalToPhysical(rec *Record, i int) (int, error) {
	if i == 0 {
		if rec.Block == 0 {
			return 0, errno.NoEntry.WithMessage("block not allocated")
		}
		return int(rec.Block), nil
	}

	if rec.Indirect == 0 || i-1 >= EntriesPerIndirect {
		return 0, errno.OutOfRange.WithMessage("logical block index out of range")
	}
	indirectBlock := t.img.Block(int(rec.Indirect))
	ptr := readIndirectEntry(indirectBlock, i-1)
	if ptr == 0 {
		return 0, errno.NoEntry.WithMessage("block not allocated")
	}
	return int(ptr), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Grow extends rec to newSize, allocating direct/indirect data blocks as
// needed. Partial progress on allocation failure is left in place; growth
// is not required to be atomic.
func (t *Table) Grow(inum int, rec *Record, newSize int32) error {
	current := block.BytesToBlocks(int(rec.Size))
	target := block.BytesToBlocks(int(newSize))

	for i := current; i < target; i++ {
		newBlock, err := t.img.AllocBlock()
		if err != nil {
			// Whatever blocks were already linked in this loop stay linked
			// (no rollback) but size/mtime are not advanced, matching the
			// original grow_inode returning before its final node->size
			// assignment.
			t.Save(inum, rec)
			return err
		}
		zero(t.img.Block(newBlock))

		if i == 0 {
			rec.Block = int32(newBlock)
		} else {
			if rec.Indirect == 0 {
				indirectIdx, err := t.img.AllocBlock()
				if err != nil {
					t.img.FreeBlock(newBlock)
					t.Save(inum, rec)
					return err
				}
				zero(t.img.Block(indirectIdx))
				rec.Indirect = int32(indirectIdx)
			}
			indirectBlock := t.img.Block(int(rec.Indirect))
			writeIndirectEntry(indirectBlock, i-1, int32(newBlock))
		}
	}

	rec.Size = newSize
	rec.Mtime = int32(time.Now().Unix())
	return t.Save(inum, rec)
}

// Shrink reduces rec to newSize, freeing direct/indirect data blocks that
// fall outside the new extent and releasing the indirect block itself if it
// is no longer needed.
func (t *Table) Shrink(inum int, rec *Record, newSize int32) error {
	current := block.BytesToBlocks(int(rec.Size))
	target := block.BytesToBlocks(int(newSize))

	for i := current - 1; i >= target; i-- {
		if i == 0 {
			if rec.Block != 0 {
				t.img.FreeBlock(int(rec.Block))
				rec.Block = 0
			}
			continue
		}
		if rec.Indirect == 0 {
			continue
		}
		indirectBlock := t.img.Block(int(rec.Indirect))
		ptr := readIndirectEntry(indirectBlock, i-1)
		if ptr != 0 {
			t.img.FreeBlock(int(ptr))
			writeIndirectEntry(indirectBlock, i-1, 0)
		}
	}

	if target <= 1 && rec.Indirect != 0 {
		t.img.FreeBlock(int(rec.Indirect))
		rec.Indirect = 0
	}

	rec.Size = newSize
	rec.Mtime = int32(time.Now().Unix())
	return t.Save(inum, rec)
}
