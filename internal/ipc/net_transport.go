package ipc

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
)

// NetListener serves the fixed-message protocol over accepted
// net.Conns, one goroutine per connection, each connection
// single-request-in-flight at a time (the wire protocol is
// synchronous request/reply, like Yalnix's blocking Send).
type NetListener struct {
	ln       net.Listener
	requests chan *netRequest
	once     sync.Once
	closeErr error
}

type netRequest struct {
	msg    *Message
	conn   net.Conn
	writer *bufio.Writer
}

// Listen opens a listener (e.g. "unix", path) and returns a
// NetListener ready for Accept.
func Listen(network, address string) (*NetListener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	l := &NetListener{ln: ln, requests: make(chan *netRequest)}
	go l.acceptLoop()
	return l, nil
}

func (l *NetListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.serveConn(conn)
	}
}

func (l *NetListener) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		msg, err := decodeMessage(r)
		if err != nil {
			return
		}
		l.requests <- &netRequest{msg: msg, conn: conn, writer: w}
	}
}

func (l *NetListener) Accept(ctx context.Context) (*Request, error) {
	select {
	case nr, ok := <-l.requests:
		if !ok {
			return nil, io.EOF
		}
		return &Request{
			Msg: nr.msg,
			reply: func(reply *Message) error {
				if err := encodeMessage(nr.writer, reply); err != nil {
					return err
				}
				return nr.writer.Flush()
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *NetListener) Close() error {
	l.once.Do(func() { l.closeErr = l.ln.Close() })
	return l.closeErr
}

// Addr returns the listener's network address.
func (l *NetListener) Addr() net.Addr { return l.ln.Addr() }

// netConn is the client side of the socket transport.
type netConn struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial connects to a NetListener's address.
func Dial(network, address string) (Conn, error) {
	c, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return &netConn{conn: c, r: bufio.NewReader(c), w: bufio.NewWriter(c)}, nil
}

func (c *netConn) Send(ctx context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	type result struct {
		msg *Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		if err := encodeMessage(c.w, msg); err != nil {
			done <- result{err: err}
			return
		}
		if err := c.w.Flush(); err != nil {
			done <- result{err: err}
			return
		}
		reply, err := decodeMessage(c.r)
		done <- result{msg: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return res.err
		}
		*msg = *res.msg
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *netConn) Close() error { return c.conn.Close() }

// encodeMessage writes the fixed header followed by length-prefixed
// Addr1/Addr2 payloads, standing in for CopyTo on a real kernel.
func encodeMessage(w io.Writer, m *Message) error {
	header := [4]int32{m.Type, m.Data1, m.Data2, m.Data3}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	for _, payload := range [][]byte{m.Addr1, m.Addr2} {
		if err := binary.Write(w, binary.BigEndian, int32(len(payload))); err != nil {
			return err
		}
		if len(payload) > 0 {
			if _, err := w.Write(payload); err != nil {
				return err
			}
		}
	}
	return nil
}

const maxPayload = 1 << 20

func decodeMessage(r io.Reader) (*Message, error) {
	var header [4]int32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, err
	}
	m := &Message{Type: header[0], Data1: header[1], Data2: header[2], Data3: header[3]}
	for _, dst := range []*[]byte{&m.Addr1, &m.Addr2} {
		var n int32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		if n < 0 || n > maxPayload {
			return nil, fmt.Errorf("ipc: bad payload length %d", n)
		}
		if n == 0 {
			continue
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		*dst = buf
	}
	return m, nil
}
