package fsserver

import (
	"context"
	"encoding/binary"

	"github.com/jacobsa/reqtrace"

	"github.com/hycheng/yalnix/internal/ipc"
)

// Server runs the single-threaded request/reply dispatch loop over
// FS: one goroutine reads one ipc.Message at a time, dispatches on its
// type, and writes the reply in place. Concurrency is intentionally
// single-threaded — there is no worker pool, so every request is
// atomic with respect to every other.
type Server struct {
	fs *FS
}

// NewServer pairs a Server with the FS it dispatches requests against.
func NewServer(fs *FS) *Server {
	return &Server{fs: fs}
}

// Serve accepts requests from ln until ctx is done, a transport error
// occurs, or a Shutdown request is processed.
func (s *Server) Serve(ctx context.Context, ln ipc.Listener) error {
	for {
		req, err := ln.Accept(ctx)
		if err != nil {
			return err
		}

		reply := s.dispatch(ctx, req.Msg)
		if err := req.Reply(reply); err != nil {
			return err
		}
		if req.Msg.Type == ipc.TypeShutdown {
			return nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *ipc.Message) *ipc.Message {
	_, report := reqtrace.StartSpan(ctx, ipc.TypeName(req.Type))
	reply, err := s.handle(req)
	report(err)

	status := "ok"
	if err != nil {
		status = "error"
	}
	s.fs.metrics.AddRequest(ipc.TypeName(req.Type), status)
	return reply
}

func errorReply(err error) *ipc.Message {
	code := int32(ErrFatal)
	if e, ok := err.(Errno); ok {
		code = int32(e)
	}
	return &ipc.Message{Type: ipc.TypeError, Data1: code}
}

func (s *Server) handle(req *ipc.Message) (*ipc.Message, error) {
	switch req.Type {
	case ipc.TypeOpen:
		inum, reuse, err := s.fs.Open(uint32(req.Data1), string(req.Addr1))
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeOpen, Data1: int32(inum), Data2: int32(reuse)}, nil

	case ipc.TypeClose:
		if _, err := s.fs.checkReuse(uint32(req.Data1), uint32(req.Data2)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeClose}, nil

	case ipc.TypeCreate:
		inum, reuse, err := s.fs.Create(uint32(req.Data1), string(req.Addr1))
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeCreate, Data1: int32(inum), Data2: int32(reuse)}, nil

	case ipc.TypeRead:
		if req.Data3 < 0 {
			return errorReply(ErrInvalid), ErrInvalid
		}
		off := decodeOffset(req.Addr1)
		buf := make([]byte, req.Data3)
		n, err := s.fs.Read(uint32(req.Data1), uint32(req.Data2), off, buf)
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeRead, Data1: int32(n), Addr2: buf[:n]}, nil

	case ipc.TypeWrite:
		off := decodeOffset(req.Addr1)
		n, err := s.fs.Write(uint32(req.Data1), uint32(req.Data2), off, req.Addr2)
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeWrite, Data1: int32(n)}, nil

	case ipc.TypeSeek:
		cur, delta := decodeSeekArgs(req.Addr1)
		newOff, err := s.fs.Seek(uint32(req.Data1), uint32(req.Data2), cur, delta, int(req.Data3))
		if err != nil {
			return errorReply(err), err
		}
		reply := &ipc.Message{Type: ipc.TypeSeek}
		reply.Addr1 = encodeOffset(newOff)
		return reply, nil

	case ipc.TypeLink:
		if err := s.fs.Link(uint32(req.Data1), string(req.Addr1), string(req.Addr2)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeLink}, nil

	case ipc.TypeUnlink:
		if err := s.fs.Unlink(uint32(req.Data1), string(req.Addr1)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeUnlink}, nil

	case ipc.TypeSymLink:
		if err := s.fs.SymLink(uint32(req.Data1), string(req.Addr1), string(req.Addr2)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeSymLink}, nil

	case ipc.TypeReadLink:
		if req.Data2 < 0 {
			return errorReply(ErrInvalid), ErrInvalid
		}
		buf := make([]byte, req.Data2)
		n, err := s.fs.ReadLink(uint32(req.Data1), string(req.Addr1), buf)
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeReadLink, Data1: int32(n), Addr2: buf[:n]}, nil

	case ipc.TypeMkDir:
		if err := s.fs.MkDir(uint32(req.Data1), string(req.Addr1)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeMkDir}, nil

	case ipc.TypeRmDir:
		if err := s.fs.RmDir(uint32(req.Data1), string(req.Addr1)); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeRmDir}, nil

	case ipc.TypeChDir:
		inum, reuse, err := s.fs.ChDir(uint32(req.Data1), string(req.Addr1))
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeChDir, Data1: int32(inum), Data2: int32(reuse)}, nil

	case ipc.TypeStat:
		inum, typ, size, nlink, err := s.fs.Stat(uint32(req.Data1), string(req.Addr1))
		if err != nil {
			return errorReply(err), err
		}
		reply := &ipc.Message{Type: ipc.TypeStat, Data1: int32(inum), Data2: int32(typ), Data3: int32(size)}
		reply.Addr2 = encodeOffset(int64(nlink))
		return reply, nil

	case ipc.TypeSync:
		if err := s.fs.Sync(); err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeSync}, nil

	case ipc.TypeShutdown:
		err := s.fs.Sync()
		if err != nil {
			return errorReply(err), err
		}
		return &ipc.Message{Type: ipc.TypeShutdown}, nil

	default:
		return errorReply(ErrInvalid), ErrInvalid
	}
}

func decodeOffset(b []byte) uint32 {
	if len(b) < 8 {
		return 0
	}
	return uint32(binary.BigEndian.Uint64(b))
}

func encodeOffset(off int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(off))
	return b
}

func decodeSeekArgs(b []byte) (cur, delta int64) {
	if len(b) < 16 {
		return 0, 0
	}
	cur = int64(binary.BigEndian.Uint64(b[0:8]))
	delta = int64(binary.BigEndian.Uint64(b[8:16]))
	return
}
