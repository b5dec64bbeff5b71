package fsclient

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/hycheng/yalnix/fsserver"
	"github.com/hycheng/yalnix/internal/ipc"
)

// newTestClient boots a formatted FS, runs a Server over the channel
// transport in the background, and returns a Client dialed into it.
func newTestClient(t *testing.T) (*Client, context.Context) {
	t.Helper()
	disk := fsserver.NewMemDisk(256)
	fs, err := fsserver.Format(disk, 256, 64, fsserver.Options{})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	srv := fsserver.NewServer(fs)
	ln, conn := ipc.NewChanTransport()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})

	return Dial(conn), ctx
}

func TestClientCreateWriteSeekReadRoundTrip(t *testing.T) {
	c, ctx := newTestClient(t)

	h, err := c.Create(ctx, "/notes.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	data := []byte("write, seek back, read")
	if n, err := c.Write(ctx, h, data); err != nil || n != len(data) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if _, err := c.Seek(ctx, h, 0, fsserver.SeekSet); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	buf := make([]byte, len(data))
	n, err := c.Read(ctx, h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], data) {
		t.Fatalf("Read = %q, want %q", buf[:n], data)
	}
}

func TestClientChDirMakesRelativePathsWork(t *testing.T) {
	c, ctx := newTestClient(t)

	if err := c.MkDir(ctx, "/home"); err != nil {
		t.Fatalf("MkDir: %v", err)
	}
	if err := c.ChDir(ctx, "/home"); err != nil {
		t.Fatalf("ChDir: %v", err)
	}
	if _, err := c.Create(ctx, "f"); err != nil {
		t.Fatalf("Create(relative): %v", err)
	}

	st, err := c.Stat(ctx, "/home/f")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Type != fsserver.TypeRegular || st.Size != 0 || st.NLink != 1 {
		t.Fatalf("Stat = %+v, want a fresh empty regular file", st)
	}
}

func TestClientStaleHandleSurfacesAsErrno(t *testing.T) {
	c, ctx := newTestClient(t)

	h, err := c.Create(ctx, "/victim")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := c.Unlink(ctx, "/victim"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	// A new file reuses the freed inode number with a bumped reuse
	// counter; the old handle must be rejected, not silently read the
	// new file's contents.
	if _, err := c.Create(ctx, "/usurper"); err != nil {
		t.Fatalf("Create(usurper): %v", err)
	}

	_, err = c.Read(ctx, h, make([]byte, 8))
	if err != fsserver.ErrStaleHandle {
		t.Fatalf("Read with stale handle = %v, want ErrStaleHandle", err)
	}
}

func TestClientSymLinkReadLink(t *testing.T) {
	c, ctx := newTestClient(t)

	if err := c.SymLink(ctx, "/target", "/alias"); err != nil {
		t.Fatalf("SymLink: %v", err)
	}
	got, err := c.ReadLink(ctx, "/alias", fsserver.MaxPathNameLen)
	if err != nil {
		t.Fatalf("ReadLink: %v", err)
	}
	if got != "/target" {
		t.Fatalf("ReadLink = %q, want %q", got, "/target")
	}

	// The target does not exist yet, so opening through the link fails;
	// creating the target afterwards makes the same Open succeed.
	if _, err := c.Open(ctx, "/alias"); err != fsserver.ErrNotFound {
		t.Fatalf("Open through dangling symlink = %v, want ErrNotFound", err)
	}
	if _, err := c.Create(ctx, "/target"); err != nil {
		t.Fatalf("Create(/target): %v", err)
	}
	if _, err := c.Open(ctx, "/alias"); err != nil {
		t.Fatalf("Open through symlink after target created: %v", err)
	}
}

func TestClientShutdownStopsServer(t *testing.T) {
	c, ctx := newTestClient(t)
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
