// Package fsclient is the client half of the file-server protocol:
// one Go method per request type (Open/Close/Create/Read/Write/Seek/
// Link/Unlink/SymLink/ReadLink/MkDir/RmDir/ChDir/Stat/Sync/Shutdown),
// plus a client-held (cwd inum, cwd reuse) pair that ChDir updates
// together. Requests carry only the cwd inode number; the cwd reuse
// value is not sent, so the server does not detect a working directory
// that was removed or whose inode was reused.
package fsclient

import (
	"context"
	"encoding/binary"

	"github.com/hycheng/yalnix/fsserver"
	"github.com/hycheng/yalnix/internal/ipc"
)

// Client is one connection to a fsserver.Server, with its own working
// directory state. Open file handles carry their inode's reuse value
// and the server checks it; the working directory's reuse value is
// held here but not checked by the server.
type Client struct {
	conn ipc.Conn

	cwdInum uint32
	cwdReuse uint32
}

// Dial wraps an already-connected ipc.Conn, starting cwd at the root
// (inum 1). cwdReuse starts at zero until the first successful ChDir.
func Dial(conn ipc.Conn) *Client {
	return &Client{conn: conn, cwdInum: fsserver.RootInum}
}

func (c *Client) send(ctx context.Context, msg *ipc.Message) error {
	if err := c.conn.Send(ctx, msg); err != nil {
		return err
	}
	if msg.Type == ipc.TypeError {
		return fsserver.Errno(msg.Data1)
	}
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Handle is a client-held reference to an open file: an inode number
// plus the reuse value observed at Open/Create time, and an
// independent byte offset the client advances itself. Seek never
// touches the server's notion of the file; each Read/Write carries
// its own absolute offset.
type Handle struct {
	Inum  uint32
	Reuse uint32
	off   int64
}

// Open resolves path relative to the client's current directory.
func (c *Client) Open(ctx context.Context, path string) (*Handle, error) {
	msg := &ipc.Message{Type: ipc.TypeOpen, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	if err := c.send(ctx, msg); err != nil {
		return nil, err
	}
	return &Handle{Inum: uint32(msg.Data1), Reuse: uint32(msg.Data2)}, nil
}

// Create opens path for writing, truncating or creating it as needed.
func (c *Client) Create(ctx context.Context, path string) (*Handle, error) {
	msg := &ipc.Message{Type: ipc.TypeCreate, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	if err := c.send(ctx, msg); err != nil {
		return nil, err
	}
	return &Handle{Inum: uint32(msg.Data1), Reuse: uint32(msg.Data2)}, nil
}

// CloseHandle informs the server a handle is no longer in use.
func (c *Client) CloseHandle(ctx context.Context, h *Handle) error {
	msg := &ipc.Message{Type: ipc.TypeClose, Data1: int32(h.Inum), Data2: int32(h.Reuse)}
	return c.send(ctx, msg)
}

// Read fills buf starting at h's current offset, advancing it by the
// number of bytes actually read.
func (c *Client) Read(ctx context.Context, h *Handle, buf []byte) (int, error) {
	msg := &ipc.Message{
		Type:  ipc.TypeRead,
		Data1: int32(h.Inum),
		Data2: int32(h.Reuse),
		Data3: int32(len(buf)),
		Addr1: encodeOffset(h.off),
	}
	if err := c.send(ctx, msg); err != nil {
		return 0, err
	}
	n := copy(buf, msg.Addr2)
	h.off += int64(n)
	return n, nil
}

// Write sends data starting at h's current offset, advancing it by the
// number of bytes actually written.
func (c *Client) Write(ctx context.Context, h *Handle, data []byte) (int, error) {
	msg := &ipc.Message{
		Type:  ipc.TypeWrite,
		Data1: int32(h.Inum),
		Data2: int32(h.Reuse),
		Addr1: encodeOffset(h.off),
		Addr2: data,
	}
	if err := c.send(ctx, msg); err != nil {
		return 0, err
	}
	n := int(msg.Data1)
	h.off += int64(n)
	return n, nil
}

// Seek recomputes h's offset per whence (fsserver.SeekSet/Cur/End).
func (c *Client) Seek(ctx context.Context, h *Handle, delta int64, whence int) (int64, error) {
	args := make([]byte, 16)
	binary.BigEndian.PutUint64(args[0:8], uint64(h.off))
	binary.BigEndian.PutUint64(args[8:16], uint64(delta))
	msg := &ipc.Message{
		Type:  ipc.TypeSeek,
		Data1: int32(h.Inum),
		Data2: int32(h.Reuse),
		Data3: int32(whence),
		Addr1: args,
	}
	if err := c.send(ctx, msg); err != nil {
		return 0, err
	}
	h.off = decodeOffset(msg.Addr1)
	return h.off, nil
}

// Link adds newPath as another name for oldPath's inode.
func (c *Client) Link(ctx context.Context, oldPath, newPath string) error {
	msg := &ipc.Message{Type: ipc.TypeLink, Data1: int32(c.cwdInum), Addr1: []byte(oldPath), Addr2: []byte(newPath)}
	return c.send(ctx, msg)
}

// Unlink removes path's directory entry.
func (c *Client) Unlink(ctx context.Context, path string) error {
	msg := &ipc.Message{Type: ipc.TypeUnlink, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	return c.send(ctx, msg)
}

// SymLink creates newPath as a symbolic link to oldPath.
func (c *Client) SymLink(ctx context.Context, oldPath, newPath string) error {
	msg := &ipc.Message{Type: ipc.TypeSymLink, Data1: int32(c.cwdInum), Addr1: []byte(oldPath), Addr2: []byte(newPath)}
	return c.send(ctx, msg)
}

// ReadLink returns path's symlink target.
func (c *Client) ReadLink(ctx context.Context, path string, maxLen int) (string, error) {
	msg := &ipc.Message{Type: ipc.TypeReadLink, Data1: int32(c.cwdInum), Data2: int32(maxLen), Addr1: []byte(path)}
	if err := c.send(ctx, msg); err != nil {
		return "", err
	}
	return string(msg.Addr2[:msg.Data1]), nil
}

// MkDir creates a new directory at path.
func (c *Client) MkDir(ctx context.Context, path string) error {
	msg := &ipc.Message{Type: ipc.TypeMkDir, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	return c.send(ctx, msg)
}

// RmDir removes an empty directory at path.
func (c *Client) RmDir(ctx context.Context, path string) error {
	msg := &ipc.Message{Type: ipc.TypeRmDir, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	return c.send(ctx, msg)
}

// ChDir resolves path and updates the client's cwd/cwd-reuse pair
// together on success.
func (c *Client) ChDir(ctx context.Context, path string) error {
	msg := &ipc.Message{Type: ipc.TypeChDir, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	if err := c.send(ctx, msg); err != nil {
		return err
	}
	c.cwdInum = uint32(msg.Data1)
	c.cwdReuse = uint32(msg.Data2)
	return nil
}

// Stat is the reply shape for a Stat call.
type Stat struct {
	Inum  uint32
	Type  fsserver.InodeType
	Size  uint32
	NLink int32
}

// Stat resolves path without following a final symlink.
func (c *Client) Stat(ctx context.Context, path string) (Stat, error) {
	msg := &ipc.Message{Type: ipc.TypeStat, Data1: int32(c.cwdInum), Addr1: []byte(path)}
	if err := c.send(ctx, msg); err != nil {
		return Stat{}, err
	}
	nlink := int32(decodeOffset(msg.Addr2))
	return Stat{
		Inum:  uint32(msg.Data1),
		Type:  fsserver.InodeType(msg.Data2),
		Size:  uint32(msg.Data3),
		NLink: nlink,
	}, nil
}

// Sync flushes the server's caches to disk.
func (c *Client) Sync(ctx context.Context) error {
	return c.send(ctx, &ipc.Message{Type: ipc.TypeSync})
}

// Shutdown flushes the server's caches and asks it to stop serving.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.send(ctx, &ipc.Message{Type: ipc.TypeShutdown})
}

func encodeOffset(off int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(off))
	return b
}

func decodeOffset(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}
