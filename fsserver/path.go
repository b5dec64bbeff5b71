package fsserver

import "strings"

// resolved is what path resolution returns: the resolved inode plus
// enough of its parent directory context for callers that need to
// mutate the entry they just found (Create, Unlink, RmDir, ...).
type resolved struct {
	Inum       uint32
	Inode      Inode
	ParentInum uint32
	Name       string // final path component, as looked up in ParentInum
}

// resolvePath resolves path from startInum, following symlinks on
// every component including the last when followLast is true.
// Trailing slashes normalize to a trailing "/."; a leading
// "/" restarts at the root inode; empty components are skipped.
func (fs *FS) resolvePath(startInum uint32, path string, followLast bool) (resolved, error) {
	return fs.resolvePathDepth(startInum, path, followLast, 0)
}

func (fs *FS) resolvePathDepth(startInum uint32, path string, followLast bool, depth int) (resolved, error) {
	if len(path) > MaxPathNameLen {
		return resolved{}, ErrInvalid
	}
	if depth > MaxSymlinks {
		return resolved{}, ErrSymlinkLoop
	}

	cur := startInum
	if strings.HasPrefix(path, "/") {
		cur = RootInum
	}
	if strings.HasSuffix(path, "/") {
		path += "."
	}

	comps := strings.Split(path, "/")
	var compsFiltered []string
	for _, c := range comps {
		if c != "" {
			compsFiltered = append(compsFiltered, c)
		}
	}
	if len(compsFiltered) == 0 {
		ino, err := fs.getInode(cur)
		if err != nil {
			return resolved{}, err
		}
		return resolved{Inum: cur, Inode: ino, ParentInum: cur, Name: "."}, nil
	}

	parent := cur
	for i, comp := range compsFiltered {
		last := i == len(compsFiltered)-1

		parentIno, err := fs.getInode(parent)
		if err != nil {
			return resolved{}, err
		}
		if parentIno.Type != TypeDirectory {
			return resolved{}, ErrNotDirectory
		}

		childInum, ok, err := fs.lookupInDir(parent, comp)
		if err != nil {
			return resolved{}, err
		}
		if !ok {
			if last {
				return resolved{ParentInum: parent, Name: comp}, ErrNotFound
			}
			return resolved{}, ErrNotFound
		}

		childIno, err := fs.getInode(childInum)
		if err != nil {
			return resolved{}, err
		}

		if childIno.Type == TypeSymlink && (!last || followLast) {
			target, err := fs.readSymlinkTarget(childInum, childIno)
			if err != nil {
				return resolved{}, err
			}
			startFrom := parent // relative symlink targets resolve from the containing directory
			r, err := fs.resolvePathDepth(startFrom, target, true, depth+1)
			if err != nil {
				return resolved{}, err
			}
			if last {
				return r, nil
			}
			parent = r.Inum
			continue
		}

		if last {
			return resolved{Inum: childInum, Inode: childIno, ParentInum: parent, Name: comp}, nil
		}
		parent = childInum
	}

	// Unreachable: the loop always returns on its last iteration.
	return resolved{}, ErrFatal
}

// readSymlinkTarget returns a symlink inode's target path, stored
// verbatim in direct[0] up to Size bytes.
func (fs *FS) readSymlinkTarget(inum uint32, ino Inode) (string, error) {
	if ino.Type != TypeSymlink {
		return "", ErrNotSymlink
	}
	if ino.Direct[0] == 0 || ino.Size == 0 {
		return "", nil
	}
	be, err := fs.getBlock(ino.Direct[0])
	if err != nil {
		return "", err
	}
	n := ino.Size
	if n > BlockSize {
		n = BlockSize
	}
	return string(be.data[:n]), nil
}
