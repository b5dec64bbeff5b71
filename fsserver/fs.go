package fsserver

import (
	"github.com/hycheng/yalnix/internal/metrics"
)

type blockEntry struct {
	data  [BlockSize]byte
	dirty bool
}

type inodeEntry struct {
	inode Inode
	dirty bool
}

// FS is the on-disk filesystem engine: a Disk, its two caches, and the
// free-inode/free-block bitmaps built by scanning every inode at boot.
// It has no concurrency control of its own — Server serializes every
// call through the single-threaded dispatch loop, so each request is
// atomic with respect to every other.
type FS struct {
	disk   Disk
	header Header

	blocks *Cache[uint32, *blockEntry]
	inodes *Cache[uint32, *inodeEntry]

	freeBlocks []bool // true = in use
	freeInodes []bool // true = in use

	metrics *metrics.Registry
}

// Options configures cache sizes and the metrics registry for
// Boot/Format; the backing disk is passed separately.
type Options struct {
	BlockCacheSize int
	InodeCacheSize int
	Metrics        *metrics.Registry
}

const (
	defaultBlockCacheSize = 64
	defaultInodeCacheSize = 64
)

// Boot reads an existing filesystem image's header and rebuilds the
// free-inode/free-block bitmaps by scanning every inode.
func Boot(disk Disk, opts Options) (*FS, error) {
	if opts.BlockCacheSize == 0 {
		opts.BlockCacheSize = defaultBlockCacheSize
	}
	if opts.InodeCacheSize == 0 {
		opts.InodeCacheSize = defaultInodeCacheSize
	}

	hdrBlock, err := disk.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	header := decodeHeader(hdrBlock[:])

	fs := &FS{disk: disk, header: header, metrics: opts.Metrics}
	fs.blocks = NewCache[uint32, *blockEntry](opts.BlockCacheSize, fs.evictBlock)
	fs.inodes = NewCache[uint32, *inodeEntry](opts.InodeCacheSize, fs.evictInode)

	if err := fs.rebuildBitmaps(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Format lays out a brand-new filesystem image of numBlocks blocks
// with numInodes inodes: boot header, zeroed inode blocks, and a root
// directory containing "." and "..".
func Format(disk Disk, numBlocks, numInodes uint32, opts Options) (*FS, error) {
	hdr := encodeHeader(Header{NumBlocks: numBlocks, NumInodes: numInodes})
	if err := disk.WriteBlock(0, hdr); err != nil {
		return nil, err
	}

	inodeBlocks := (numInodes + InodesPerBlock - 1) / InodesPerBlock
	var zero [BlockSize]byte
	for b := uint32(1); b < 1+inodeBlocks; b++ {
		if err := disk.WriteBlock(b, zero); err != nil {
			return nil, err
		}
	}

	fs, err := Boot(disk, opts)
	if err != nil {
		return nil, err
	}

	root, rootReuse, err := fs.allocateInode()
	if err != nil {
		return nil, err
	}
	if root != RootInum {
		return nil, ErrFatal
	}
	ino := Inode{Type: TypeDirectory, NLink: 2, Reuse: rootReuse}
	if err := fs.putInode(root, ino); err != nil {
		return nil, err
	}
	if err := fs.addDirEntry(root, ".", root); err != nil {
		return nil, err
	}
	if err := fs.addDirEntry(root, "..", root); err != nil {
		return nil, err
	}
	return fs, nil
}

// rebuildBitmaps scans every inode slot, marking it used iff its type
// is non-FREE, and marks every block it references via direct[]/
// indirect[] as used, plus the boot block and every inode block.
func (fs *FS) rebuildBitmaps() error {
	fs.freeBlocks = make([]bool, fs.header.NumBlocks)
	fs.freeInodes = make([]bool, fs.header.NumInodes)

	fs.freeBlocks[0] = true // boot block
	inodeBlocks := (fs.header.NumInodes + InodesPerBlock - 1) / InodesPerBlock
	for b := uint32(1); b < 1+inodeBlocks; b++ {
		if b < uint32(len(fs.freeBlocks)) {
			fs.freeBlocks[b] = true
		}
	}
	fs.freeInodes[HeaderInum] = true // inode 0 is reserved, never allocatable

	for inum := uint32(1); inum < fs.header.NumInodes; inum++ {
		ino, err := fs.getInode(inum)
		if err != nil {
			return err
		}
		if ino.Type == TypeFree {
			continue
		}
		fs.freeInodes[inum] = true
		for _, bn := range ino.Direct {
			if bn != 0 && bn < uint32(len(fs.freeBlocks)) {
				fs.freeBlocks[bn] = true
			}
		}
		if ino.Indirect != 0 {
			if ino.Indirect < uint32(len(fs.freeBlocks)) {
				fs.freeBlocks[ino.Indirect] = true
			}
			ptrs, err := fs.readIndirect(ino.Indirect)
			if err != nil {
				return err
			}
			for _, bn := range ptrs {
				if bn != 0 && bn < uint32(len(fs.freeBlocks)) {
					fs.freeBlocks[bn] = true
				}
			}
		}
	}
	return nil
}

// --- block cache ---

func (fs *FS) getBlock(n uint32) (*blockEntry, error) {
	if e, ok := fs.blocks.Get(n); ok {
		fs.metrics.AddCacheHit("block")
		return e, nil
	}
	fs.metrics.AddCacheMiss("block")
	data, err := fs.disk.ReadBlock(n)
	if err != nil {
		return nil, err
	}
	e := &blockEntry{data: data}
	fs.blocks.Put(n, e)
	return e, nil
}

func (fs *FS) markBlockDirty(n uint32, e *blockEntry) {
	e.dirty = true
	fs.blocks.Put(n, e) // re-Put promotes to LRU head
}

func (fs *FS) evictBlock(n uint32, e *blockEntry) {
	if e.dirty {
		fs.disk.WriteBlock(n, e.data)
	}
}

// --- inode cache ---

func (fs *FS) getInode(inum uint32) (Inode, error) {
	if e, ok := fs.inodes.Get(inum); ok {
		fs.metrics.AddCacheHit("inode")
		return e.inode, nil
	}
	fs.metrics.AddCacheMiss("inode")
	block, off := inodeBlockAndOffset(inum)
	be, err := fs.getBlock(block)
	if err != nil {
		return Inode{}, err
	}
	ino := decodeInode(be.data[off : off+InodeSize])
	fs.inodes.Put(inum, &inodeEntry{inode: ino})
	return ino, nil
}

func (fs *FS) putInode(inum uint32, ino Inode) error {
	fs.inodes.Put(inum, &inodeEntry{inode: ino, dirty: true})
	return nil
}

// evictInode writes an evicted dirty inode back into its containing
// block in the block cache, marking that block dirty.
func (fs *FS) evictInode(inum uint32, e *inodeEntry) {
	if !e.dirty {
		return
	}
	block, off := inodeBlockAndOffset(inum)
	be, err := fs.getBlock(block)
	if err != nil {
		return
	}
	enc := encodeInode(e.inode)
	copy(be.data[off:off+InodeSize], enc[:])
	fs.markBlockDirty(block, be)
}

// Sync flushes every dirty inode (to the block cache) then every
// dirty block (to the disk), in that order so inode write-backs land
// before their blocks go out.
func (fs *FS) Sync() error {
	fs.inodes.Purge()
	fs.blocks.Purge()
	return nil
}

// --- allocation ---

// allocateInode returns the lowest-numbered free inode along with the
// Reuse value the caller must stamp into its fresh Inode: one past
// whatever this slot last held, so Reuse strictly increases across
// every (re)allocation of the same inode number. Stale-handle
// detection depends on this never resetting back to a value a stale
// client might still hold.
func (fs *FS) allocateInode() (inum uint32, reuse uint32, err error) {
	for i := uint32(1); i < uint32(len(fs.freeInodes)); i++ {
		if !fs.freeInodes[i] {
			prev, err := fs.getInode(i)
			if err != nil {
				return 0, 0, err
			}
			fs.freeInodes[i] = true
			return i, prev.Reuse + 1, nil
		}
	}
	return 0, 0, ErrNoMemory
}

// freeInode releases inum back to the free list. The caller has
// already putInode'd the slot as TypeFree; that dirty cache entry is
// deliberately left in place so eviction/Sync writes the FREE marking
// through to disk and a later Boot's bitmap scan sees it.
func (fs *FS) freeInode(inum uint32) {
	fs.freeInodes[inum] = false
}

// allocateBlock returns the lowest-numbered free block, zeroed in
// cache so freshly mapped file contents read back as zeros.
func (fs *FS) allocateBlock() (uint32, error) {
	for i := uint32(0); i < uint32(len(fs.freeBlocks)); i++ {
		if !fs.freeBlocks[i] {
			fs.freeBlocks[i] = true
			e := &blockEntry{dirty: true}
			fs.blocks.Put(i, e)
			return i, nil
		}
	}
	return 0, ErrNoMemory
}

func (fs *FS) freeBlock(n uint32) {
	fs.freeBlocks[n] = false
	fs.blocks.Remove(n)
}

func (fs *FS) readIndirect(block uint32) ([PtrsPerBlock]uint32, error) {
	var ptrs [PtrsPerBlock]uint32
	be, err := fs.getBlock(block)
	if err != nil {
		return ptrs, err
	}
	for i := 0; i < PtrsPerBlock; i++ {
		ptrs[i] = getU32(be.data[i*4 : i*4+4])
	}
	return ptrs, nil
}

func (fs *FS) writeIndirectEntry(block uint32, idx int, value uint32) error {
	be, err := fs.getBlock(block)
	if err != nil {
		return err
	}
	putU32(be.data[idx*4:idx*4+4], value)
	fs.markBlockDirty(block, be)
	return nil
}

// blockForOffset returns the block number holding byte offset off
// within ino, allocating it (and, if needed, the indirect block) when
// grow is true and the slot is currently unmapped.
func (fs *FS) blockForOffset(ino *Inode, off uint32, grow bool) (uint32, error) {
	idx := int(off / BlockSize)
	if idx < NumDirect {
		if ino.Direct[idx] == 0 && grow {
			bn, err := fs.allocateBlock()
			if err != nil {
				return 0, err
			}
			ino.Direct[idx] = bn
		}
		return ino.Direct[idx], nil
	}

	pidx := idx - NumDirect
	if pidx >= PtrsPerBlock {
		return 0, ErrInvalid
	}
	if ino.Indirect == 0 {
		if !grow {
			return 0, nil
		}
		bn, err := fs.allocateBlock()
		if err != nil {
			return 0, err
		}
		ino.Indirect = bn
	}
	ptrs, err := fs.readIndirect(ino.Indirect)
	if err != nil {
		return 0, err
	}
	if ptrs[pidx] == 0 && grow {
		bn, err := fs.allocateBlock()
		if err != nil {
			return 0, err
		}
		if err := fs.writeIndirectEntry(ino.Indirect, pidx, bn); err != nil {
			return 0, err
		}
		return bn, nil
	}
	return ptrs[pidx], nil
}

// truncate walks direct[] and indirect[] freeing every referenced
// block, frees the indirect block itself, and resets size to zero.
func (fs *FS) truncate(ino *Inode) error {
	for i := range ino.Direct {
		if ino.Direct[i] != 0 {
			fs.freeBlock(ino.Direct[i])
			ino.Direct[i] = 0
		}
	}
	if ino.Indirect != 0 {
		ptrs, err := fs.readIndirect(ino.Indirect)
		if err != nil {
			return err
		}
		for _, bn := range ptrs {
			if bn != 0 {
				fs.freeBlock(bn)
			}
		}
		fs.freeBlock(ino.Indirect)
		ino.Indirect = 0
	}
	ino.Size = 0
	return nil
}
