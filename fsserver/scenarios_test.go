package fsserver

import (
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

// statResult mirrors the fields Stat replies with, so assertions get
// a single readable diff instead of several separate comparisons.
type statResult struct {
	Type  InodeType
	Size  uint32
	NLink int32
}

// A create through a chain of directories and a relative symlink:
// after MkDir("/a"), MkDir("/a/b"), SymLink("d/f.txt","/a/b/c"),
// MkDir("/a/b/d"), a Create("/a/b/c/") lands at /a/b/d/f.txt as a
// regular empty file — the trailing slash is trimmed and the final
// symlink followed.
func TestCreateThroughSymlinkChain(t *testing.T) {
	fs := newTestFS(t, 256, 64)

	if err := fs.MkDir(RootInum, "/a"); err != nil {
		t.Fatalf("MkDir(/a): %v", err)
	}
	if err := fs.MkDir(RootInum, "/a/b"); err != nil {
		t.Fatalf("MkDir(/a/b): %v", err)
	}
	if err := fs.SymLink(RootInum, "d/f.txt", "/a/b/c"); err != nil {
		t.Fatalf("SymLink: %v", err)
	}
	if err := fs.MkDir(RootInum, "/a/b/d"); err != nil {
		t.Fatalf("MkDir(/a/b/d): %v", err)
	}

	if _, _, err := fs.Create(RootInum, "/a/b/c/"); err != nil {
		t.Fatalf("Create(/a/b/c/): %v", err)
	}

	inum, typ, size, nlink, err := fs.Stat(RootInum, "/a/b/d/f.txt")
	if err != nil {
		t.Fatalf("Stat(/a/b/d/f.txt): %v", err)
	}
	got := statResult{Type: typ, Size: size, NLink: nlink}
	want := statResult{Type: TypeRegular, Size: 0, NLink: 1}
	if diff := pretty.Compare(got, want); diff != "" {
		t.Fatalf("Stat(/a/b/d/f.txt) mismatch (-got +want):\n%s", diff)
	}
	if inum == 0 {
		t.Fatalf("expected a real inode number")
	}
}

// Create("/x"), Write 3 bytes, Create("/x") again returns a handle to
// a size-0 inode — contents discarded, blocks freed.
func TestRecreateTruncatesExistingFile(t *testing.T) {
	fs := newTestFS(t, 256, 64)

	inum1, reuse1, err := fs.Create(RootInum, "/x")
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := fs.Write(inum1, reuse1, 0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	inum2, reuse2, err := fs.Create(RootInum, "/x")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if inum2 != inum1 {
		t.Fatalf("re-Create should reuse the same inode, got %d != %d", inum2, inum1)
	}

	_, _, size, _, err := fs.Stat(RootInum, "/x")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if size != 0 {
		t.Fatalf("size after re-Create = %d, want 0", size)
	}

	buf := make([]byte, 3)
	n, err := fs.Read(inum2, reuse2, 0, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 0 {
		t.Fatalf("Read after re-Create = %d bytes, want 0", n)
	}
}

// A client opens /d/f (inum=I, reuse=R); a second client Unlinks it
// and Creates a new file that reuses inum I with reuse=R+1. The first
// client's Read with reuse=R must fail with a stale handle.
func TestStaleHandleAfterInodeReuse(t *testing.T) {
	fs := newTestFS(t, 256, 64)
	if err := fs.MkDir(RootInum, "/d"); err != nil {
		t.Fatalf("MkDir(/d): %v", err)
	}
	if _, _, err := fs.Create(RootInum, "/d/f"); err != nil {
		t.Fatalf("Create(/d/f): %v", err)
	}

	firstInum, firstReuse, err := fs.Open(RootInum, "/d/f")
	if err != nil {
		t.Fatalf("Open(/d/f): %v", err)
	}

	if err := fs.Unlink(RootInum, "/d/f"); err != nil {
		t.Fatalf("Unlink(/d/f): %v", err)
	}
	newInum, newReuse, err := fs.Create(RootInum, "/d/g")
	if err != nil {
		t.Fatalf("Create(/d/g): %v", err)
	}
	if newInum != firstInum {
		t.Skip("inode allocator did not reuse the freed slot; stale-handle scenario not exercised")
	}
	if newReuse <= firstReuse {
		t.Fatalf("reused inode's Reuse counter = %d, want > %d", newReuse, firstReuse)
	}

	if _, err := fs.Read(firstInum, firstReuse, 0, make([]byte, 4)); err != ErrStaleHandle {
		t.Fatalf("Read with the stale reuse value = %v, want ErrStaleHandle", err)
	}
}
