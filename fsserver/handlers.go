package fsserver

import "strings"

// splitPath divides path into its containing directory and final
// component, e.g. "/a/b/c" -> ("/a/b", "c"), "name" -> (".", "name").
func splitPath(path string) (dir, base string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ".", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

func reservedName(name string) bool {
	return name == "." || name == ".." || name == ""
}

func (fs *FS) checkReuse(inum, reuse uint32) (Inode, error) {
	ino, err := fs.getInode(inum)
	if err != nil {
		return Inode{}, err
	}
	if ino.Type == TypeFree || ino.Reuse != reuse {
		return Inode{}, ErrStaleHandle
	}
	return ino, nil
}

// Open resolves path (following a trailing symlink) from cwd and
// returns its inum/reuse pair.
func (fs *FS) Open(cwd uint32, path string) (inum, reuse uint32, err error) {
	r, err := fs.resolvePath(cwd, path, true)
	if err != nil {
		return 0, 0, err
	}
	return r.Inum, r.Inode.Reuse, nil
}

// Create implements the Create handler: an existing regular file is
// truncated, an existing symlink is followed and the create retried
// against its target, a nonexistent name gets a fresh REGULAR inode.
// Trailing slashes are trimmed before the final
// component is split off, so Create("/a/b/c/") behaves like
// Create("/a/b/c") — and if c is a symlink, like a create of c's
// target.
func (fs *FS) Create(cwd uint32, path string) (inum, reuse uint32, err error) {
	return fs.createDepth(cwd, path, 0)
}

func (fs *FS) createDepth(cwd uint32, path string, depth int) (inum, reuse uint32, err error) {
	if depth > MaxSymlinks {
		return 0, 0, ErrSymlinkLoop
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		// Bare "/" (or empty): cannot create the root.
		return 0, 0, ErrInvalid
	}

	dir, base := splitPath(path)
	if reservedName(base) {
		return 0, 0, ErrInvalid
	}

	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return 0, 0, err
	}
	if dr.Inode.Type != TypeDirectory {
		return 0, 0, ErrNotDirectory
	}

	existingInum, ok, err := fs.lookupInDir(dr.Inum, base)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		existing, err := fs.getInode(existingInum)
		if err != nil {
			return 0, 0, err
		}
		switch existing.Type {
		case TypeDirectory:
			return 0, 0, ErrIsDirectory
		case TypeSymlink:
			target, err := fs.readSymlinkTarget(existingInum, existing)
			if err != nil {
				return 0, 0, err
			}
			return fs.createDepth(dr.Inum, target, depth+1)
		default:
			if err := fs.truncate(&existing); err != nil {
				return 0, 0, err
			}
			if err := fs.putInode(existingInum, existing); err != nil {
				return 0, 0, err
			}
			return existingInum, existing.Reuse, nil
		}
	}

	newInum, newReuse, err := fs.allocateInode()
	if err != nil {
		return 0, 0, err
	}
	ino := Inode{Type: TypeRegular, NLink: 1, Reuse: newReuse}
	if err := fs.putInode(newInum, ino); err != nil {
		return 0, 0, err
	}
	if err := fs.addDirEntry(dr.Inum, base, newInum); err != nil {
		return 0, 0, err
	}
	return newInum, ino.Reuse, nil
}

// Read copies up to len(buf) bytes starting at off into buf, splitting
// the transfer across direct/indirect blocks.
func (fs *FS) Read(inum, reuse uint32, off uint32, buf []byte) (int, error) {
	ino, err := fs.checkReuse(inum, reuse)
	if err != nil {
		return 0, err
	}
	if ino.Type == TypeDirectory {
		return 0, ErrIsDirectory
	}
	if off >= ino.Size {
		return 0, nil
	}
	n := uint32(len(buf))
	if off+n > ino.Size {
		n = ino.Size - off
	}

	read := uint32(0)
	for read < n {
		cur := off + read
		block, err := fs.blockForOffset(&ino, cur, false)
		if err != nil {
			return int(read), err
		}
		blockOff := cur % BlockSize
		chunk := BlockSize - blockOff
		if chunk > n-read {
			chunk = n - read
		}
		if block == 0 {
			// A hole: reads as zero.
			for i := uint32(0); i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			be, err := fs.getBlock(block)
			if err != nil {
				return int(read), err
			}
			copy(buf[read:read+chunk], be.data[blockOff:blockOff+chunk])
		}
		read += chunk
	}
	return int(read), nil
}

// Write copies data into the file starting at off, growing it (and
// zero-filling any gap between the old size and off) as needed.
func (fs *FS) Write(inum, reuse uint32, off uint32, data []byte) (int, error) {
	ino, err := fs.checkReuse(inum, reuse)
	if err != nil {
		return 0, err
	}
	if ino.Type == TypeDirectory {
		return 0, ErrIsDirectory
	}

	written := uint32(0)
	n := uint32(len(data))
	for written < n {
		cur := off + written
		block, err := fs.blockForOffset(&ino, cur, true)
		if err != nil {
			return int(written), err
		}
		blockOff := cur % BlockSize
		chunk := BlockSize - blockOff
		if chunk > n-written {
			chunk = n - written
		}
		be, err := fs.getBlock(block)
		if err != nil {
			return int(written), err
		}
		copy(be.data[blockOff:blockOff+chunk], data[written:written+chunk])
		fs.markBlockDirty(block, be)
		written += chunk
	}

	if off+written > ino.Size {
		ino.Size = off + written
	}
	if err := fs.putInode(inum, ino); err != nil {
		return int(written), err
	}
	return int(written), nil
}

// Seek whence values, mirroring SEEK_SET/CUR/END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek computes a new offset; a negative result is an error, but an
// offset beyond EOF is allowed.
func (fs *FS) Seek(inum, reuse uint32, cur int64, delta int64, whence int) (int64, error) {
	ino, err := fs.checkReuse(inum, reuse)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekSet:
		base = 0
	case SeekCur:
		base = cur
	case SeekEnd:
		base = int64(ino.Size)
	default:
		return 0, ErrInvalid
	}
	newOff := base + delta
	if newOff < 0 {
		return 0, ErrInvalid
	}
	return newOff, nil
}

// Link adds a new directory entry for old's inode, incrementing nlink.
// oldname must be non-directory; newname must not already exist.
func (fs *FS) Link(cwd uint32, oldPath, newPath string) error {
	old, err := fs.resolvePath(cwd, oldPath, true)
	if err != nil {
		return err
	}
	if old.Inode.Type == TypeDirectory {
		return ErrIsDirectory
	}

	dir, base := splitPath(newPath)
	if reservedName(base) {
		return ErrInvalid
	}
	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return err
	}
	if _, ok, err := fs.lookupInDir(dr.Inum, base); err != nil {
		return err
	} else if ok {
		return ErrAlreadyExists
	}

	if err := fs.addDirEntry(dr.Inum, base, old.Inum); err != nil {
		return err
	}
	old.Inode.NLink++
	return fs.putInode(old.Inum, old.Inode)
}

// Unlink removes path's directory entry, decrementing nlink and
// freeing the inode once it reaches zero. path must not be a directory.
func (fs *FS) Unlink(cwd uint32, path string) error {
	dir, base := splitPath(path)
	if reservedName(base) {
		return ErrInvalid
	}
	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return err
	}
	inum, ok, err := fs.lookupInDir(dr.Inum, base)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	ino, err := fs.getInode(inum)
	if err != nil {
		return err
	}
	if ino.Type == TypeDirectory {
		return ErrIsDirectory
	}

	if err := fs.removeDirEntry(dr.Inum, base); err != nil {
		return err
	}
	ino.NLink--
	if ino.NLink <= 0 {
		if err := fs.truncate(&ino); err != nil {
			return err
		}
		ino.Type = TypeFree
		if err := fs.putInode(inum, ino); err != nil {
			return err
		}
		fs.freeInode(inum)
		return nil
	}
	return fs.putInode(inum, ino)
}

// SymLink allocates a SYMLINK inode whose single data block holds
// oldPath verbatim, and adds a directory entry for it at newPath.
func (fs *FS) SymLink(cwd uint32, oldPath, newPath string) error {
	dir, base := splitPath(newPath)
	if reservedName(base) {
		return ErrInvalid
	}
	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return err
	}
	if _, ok, err := fs.lookupInDir(dr.Inum, base); err != nil {
		return err
	} else if ok {
		return ErrAlreadyExists
	}
	if len(oldPath) > BlockSize {
		return ErrInvalid
	}

	inum, reuse, err := fs.allocateInode()
	if err != nil {
		return err
	}
	block, err := fs.allocateBlock()
	if err != nil {
		fs.freeInode(inum)
		return err
	}
	be, err := fs.getBlock(block)
	if err != nil {
		return err
	}
	copy(be.data[:], oldPath)
	fs.markBlockDirty(block, be)

	ino := Inode{Type: TypeSymlink, NLink: 1, Reuse: reuse, Size: uint32(len(oldPath))}
	ino.Direct[0] = block
	if err := fs.putInode(inum, ino); err != nil {
		return err
	}
	return fs.addDirEntry(dr.Inum, base, inum)
}

// ReadLink resolves path without following its final symlink and
// copies out its target.
func (fs *FS) ReadLink(cwd uint32, path string, buf []byte) (int, error) {
	r, err := fs.resolvePath(cwd, path, false)
	if err != nil {
		return 0, err
	}
	if r.Inode.Type != TypeSymlink {
		return 0, ErrNotSymlink
	}
	target, err := fs.readSymlinkTarget(r.Inum, r.Inode)
	if err != nil {
		return 0, err
	}
	n := copy(buf, target)
	return n, nil
}

// MkDir creates a new directory with "." and ".." entries.
func (fs *FS) MkDir(cwd uint32, path string) error {
	dir, base := splitPath(path)
	if reservedName(base) {
		return ErrInvalid
	}
	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return err
	}
	if dr.Inode.Type != TypeDirectory {
		return ErrNotDirectory
	}
	if _, ok, err := fs.lookupInDir(dr.Inum, base); err != nil {
		return err
	} else if ok {
		return ErrAlreadyExists
	}

	inum, reuse, err := fs.allocateInode()
	if err != nil {
		return err
	}
	ino := Inode{Type: TypeDirectory, NLink: 2, Reuse: reuse}
	if err := fs.putInode(inum, ino); err != nil {
		return err
	}
	if err := fs.addDirEntry(inum, ".", inum); err != nil {
		return err
	}
	if err := fs.addDirEntry(inum, "..", dr.Inum); err != nil {
		return err
	}
	if err := fs.addDirEntry(dr.Inum, base, inum); err != nil {
		return err
	}
	dr.Inode.NLink++
	return fs.putInode(dr.Inum, dr.Inode)
}

// RmDir removes an empty directory other than "/", ".", "..".
func (fs *FS) RmDir(cwd uint32, path string) error {
	dir, base := splitPath(path)
	if reservedName(base) {
		return ErrInvalid
	}
	dr, err := fs.resolvePath(cwd, dir, true)
	if err != nil {
		return err
	}
	inum, ok, err := fs.lookupInDir(dr.Inum, base)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if inum == RootInum {
		return ErrInvalid
	}
	ino, err := fs.getInode(inum)
	if err != nil {
		return err
	}
	if ino.Type != TypeDirectory {
		return ErrNotDirectory
	}
	empty, err := fs.dirIsEmpty(inum)
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	if err := fs.truncate(&ino); err != nil {
		return err
	}
	ino.Type = TypeFree
	if err := fs.putInode(inum, ino); err != nil {
		return err
	}
	fs.freeInode(inum)

	if err := fs.removeDirEntry(dr.Inum, base); err != nil {
		return err
	}
	dr.Inode.NLink--
	return fs.putInode(dr.Inum, dr.Inode)
}

// ChDir resolves path and requires it to be a directory.
func (fs *FS) ChDir(cwd uint32, path string) (inum, reuse uint32, err error) {
	r, err := fs.resolvePath(cwd, path, true)
	if err != nil {
		return 0, 0, err
	}
	if r.Inode.Type != TypeDirectory {
		return 0, 0, ErrNotDirectory
	}
	return r.Inum, r.Inode.Reuse, nil
}

// Stat resolves path without following a final symlink.
func (fs *FS) Stat(cwd uint32, path string) (inum uint32, typ InodeType, size uint32, nlink int32, err error) {
	r, err := fs.resolvePath(cwd, path, false)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return r.Inum, r.Inode.Type, r.Inode.Size, r.Inode.NLink, nil
}
