package fsserver

import "testing"

func TestResolvePathDotAndDotDot(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	if err := fs.MkDir(RootInum, "a"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	aInum, _, err := fs.Open(RootInum, "a")
	if err != nil {
		t.Fatalf("Open(a): %v", err)
	}

	r, err := fs.resolvePath(aInum, "..", true)
	if err != nil {
		t.Fatalf("resolvePath(..): %v", err)
	}
	if r.Inum != RootInum {
		t.Fatalf("resolvePath(..) = %d, want root %d", r.Inum, RootInum)
	}

	r2, err := fs.resolvePath(RootInum, "a/.", true)
	if err != nil {
		t.Fatalf("resolvePath(a/.): %v", err)
	}
	if r2.Inum != aInum {
		t.Fatalf("resolvePath(a/.) = %d, want %d", r2.Inum, aInum)
	}
}

func TestResolvePathLeadingSlashRestartsAtRoot(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	if err := fs.MkDir(RootInum, "a"); err != nil {
		t.Fatalf("MkDir a: %v", err)
	}
	if err := fs.MkDir(RootInum, "b"); err != nil {
		t.Fatalf("MkDir b: %v", err)
	}
	aInum, _, _ := fs.Open(RootInum, "a")

	// Resolving "/b" starting from inside "a" must land in root's "b",
	// not look for "b" inside "a".
	r, err := fs.resolvePath(aInum, "/b", true)
	if err != nil {
		t.Fatalf("resolvePath(/b): %v", err)
	}
	want, _, _ := fs.Open(RootInum, "b")
	if r.Inum != want {
		t.Fatalf("resolvePath(/b) = %d, want %d", r.Inum, want)
	}
}

func TestResolvePathTrailingSlashRequiresDirectory(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	if _, _, err := fs.Create(RootInum, "f"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := fs.resolvePath(RootInum, "f/", true); err != ErrNotDirectory {
		t.Fatalf("resolvePath(\"f/\") on a regular file = %v, want ErrNotDirectory", err)
	}

	if err := fs.MkDir(RootInum, "d"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	r, err := fs.resolvePath(RootInum, "d/", true)
	if err != nil {
		t.Fatalf("resolvePath(\"d/\"): %v", err)
	}
	if r.Inode.Type != TypeDirectory {
		t.Fatalf("resolvePath(\"d/\") resolved to non-directory")
	}
}

func TestResolvePathSymlinkFollowedOnIntermediateComponent(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	if err := fs.MkDir(RootInum, "real"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	realInum, _, _ := fs.Open(RootInum, "real")
	if _, _, err := fs.Create(realInum, "file"); err != nil {
		t.Fatalf("Create real/file: %v", err)
	}
	if err := fs.SymLink(RootInum, "real", "link"); err != nil {
		t.Fatalf("SymLink: %v", err)
	}

	r, err := fs.resolvePath(RootInum, "link/file", true)
	if err != nil {
		t.Fatalf("resolvePath(link/file): %v", err)
	}
	want, _, _ := fs.Open(realInum, "file")
	if r.Inum != want {
		t.Fatalf("resolvePath(link/file) = %d, want %d", r.Inum, want)
	}
}

func TestResolvePathSymlinkLoopDetected(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	if err := fs.SymLink(RootInum, "b", "a"); err != nil {
		t.Fatalf("SymLink a->b: %v", err)
	}
	if err := fs.SymLink(RootInum, "a", "b"); err != nil {
		t.Fatalf("SymLink b->a: %v", err)
	}

	if _, err := fs.resolvePath(RootInum, "a", true); err != ErrSymlinkLoop {
		t.Fatalf("resolvePath(a) with a<->b loop = %v, want ErrSymlinkLoop", err)
	}
}

func TestResolvePathNotFoundCarriesParentForCreate(t *testing.T) {
	fs := newTestFS(t, 64, 32)
	r, err := fs.resolvePath(RootInum, "missing", true)
	if err != ErrNotFound {
		t.Fatalf("resolvePath(missing) = %v, want ErrNotFound", err)
	}
	if r.ParentInum != RootInum || r.Name != "missing" {
		t.Fatalf("resolvePath(missing) parent context = %+v", r)
	}
}
