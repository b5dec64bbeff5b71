package fsserver

// forEachDirEntry walks every directory-entry slot of the directory
// inode dirInum in logical index order, direct blocks then the
// indirect block, calling fn with the entry's logical
// index, its DirEntry, and the block/offset it lives at. Iteration
// stops early if fn returns true.
func (fs *FS) forEachDirEntry(dirInum uint32, fn func(idx int, de DirEntry, block uint32, off int) bool) error {
	ino, err := fs.getInode(dirInum)
	if err != nil {
		return err
	}
	entriesPerBlock := BlockSize / DirEntrySize
	numEntries := blocksFor(ino.Size) * entriesPerBlock
	// Always scan at least one block's worth of slots so a freshly
	// allocated, still-empty directory can be found to have room.
	if numEntries == 0 {
		numEntries = entriesPerBlock
	}

	for idx := 0; idx < numEntries; idx++ {
		off := (idx % entriesPerBlock) * DirEntrySize
		block, err := fs.blockForOffset(&ino, uint32((idx/entriesPerBlock)*BlockSize), false)
		if err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		be, err := fs.getBlock(block)
		if err != nil {
			return err
		}
		de := decodeDirEntry(be.data[off : off+DirEntrySize])
		if fn(idx, de, block, off) {
			return nil
		}
	}
	return nil
}

// lookupInDir finds name within directory dirInum, returning its inum
// and true on success.
func (fs *FS) lookupInDir(dirInum uint32, name string) (uint32, bool, error) {
	var found uint32
	var ok bool
	err := fs.forEachDirEntry(dirInum, func(idx int, de DirEntry, block uint32, off int) bool {
		if de.Inum != 0 && de.Name == name {
			found, ok = de.Inum, true
			return true
		}
		return false
	})
	return found, ok, err
}

// addDirEntry writes a new {name -> inum} record into the first free
// slot of directory dirInum, growing it by one block if every existing
// slot is occupied.
func (fs *FS) addDirEntry(dirInum uint32, name string, inum uint32) error {
	ino, err := fs.getInode(dirInum)
	if err != nil {
		return err
	}
	entriesPerBlock := BlockSize / DirEntrySize

	placed := false
	numSlots := blocksFor(ino.Size) * entriesPerBlock
	for idx := 0; idx < numSlots && !placed; idx++ {
		off := (idx % entriesPerBlock) * DirEntrySize
		block, err := fs.blockForOffset(&ino, uint32((idx/entriesPerBlock)*BlockSize), false)
		if err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		be, err := fs.getBlock(block)
		if err != nil {
			return err
		}
		de := decodeDirEntry(be.data[off : off+DirEntrySize])
		if de.Inum == 0 {
			enc := encodeDirEntry(DirEntry{Inum: inum, Name: name})
			copy(be.data[off:off+DirEntrySize], enc[:])
			fs.markBlockDirty(block, be)
			placed = true
		}
	}

	if !placed {
		// Grow the directory by exactly one more block's worth of slots.
		idx := numSlots
		off := (idx % entriesPerBlock) * DirEntrySize
		block, err := fs.blockForOffset(&ino, uint32((idx/entriesPerBlock)*BlockSize), true)
		if err != nil {
			return err
		}
		be, err := fs.getBlock(block)
		if err != nil {
			return err
		}
		enc := encodeDirEntry(DirEntry{Inum: inum, Name: name})
		copy(be.data[off:off+DirEntrySize], enc[:])
		fs.markBlockDirty(block, be)
		ino.Size = uint32(idx+1) * uint32(DirEntrySize)
	}

	return fs.putInode(dirInum, ino)
}

// removeDirEntry frees the slot matching name by zeroing its inum.
func (fs *FS) removeDirEntry(dirInum uint32, name string) error {
	var rerr error
	found := false
	err := fs.forEachDirEntry(dirInum, func(idx int, de DirEntry, block uint32, off int) bool {
		if de.Inum != 0 && de.Name == name {
			be, err := fs.getBlock(block)
			if err != nil {
				rerr = err
				return true
			}
			var zero [DirEntrySize]byte
			copy(be.data[off:off+DirEntrySize], zero[:])
			fs.markBlockDirty(block, be)
			found = true
			return true
		}
		return false
	})
	if err != nil {
		return err
	}
	if rerr != nil {
		return rerr
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// dirIsEmpty reports whether dirInum contains only "." and ".." among
// its non-free entries.
func (fs *FS) dirIsEmpty(dirInum uint32) (bool, error) {
	empty := true
	err := fs.forEachDirEntry(dirInum, func(idx int, de DirEntry, block uint32, off int) bool {
		if de.Inum == 0 {
			return false
		}
		if de.Name != "." && de.Name != ".." {
			empty = false
			return true
		}
		return false
	})
	return empty, err
}
