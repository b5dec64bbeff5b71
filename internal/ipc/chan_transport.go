package ipc

import (
	"context"
	"errors"
)

// envelope carries a request plus the channel its reply is delivered on.
type envelope struct {
	msg   *Message
	reply chan *Message
}

// ChanListener is an in-process Listener/dial pair backed by a Go
// channel, used by cmd/yalnixd's single-binary demo and by tests that
// want the dispatcher loop exercised without a real socket.
type ChanListener struct {
	requests chan envelope
	closed   chan struct{}
}

// NewChanTransport returns a connected (Listener, Conn) pair.
func NewChanTransport() (*ChanListener, Conn) {
	l := &ChanListener{
		requests: make(chan envelope),
		closed:   make(chan struct{}),
	}
	return l, &chanConn{l: l}
}

func (l *ChanListener) Accept(ctx context.Context) (*Request, error) {
	select {
	case env, ok := <-l.requests:
		if !ok {
			return nil, errors.New("ipc: listener closed")
		}
		return &Request{
			Msg: env.msg,
			reply: func(reply *Message) error {
				select {
				case env.reply <- reply:
					return nil
				case <-l.closed:
					return errors.New("ipc: listener closed")
				}
			},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, errors.New("ipc: listener closed")
	}
}

func (l *ChanListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

type chanConn struct {
	l *ChanListener
}

func (c *chanConn) Send(ctx context.Context, msg *Message) error {
	reply := make(chan *Message, 1)
	select {
	case c.l.requests <- envelope{msg: msg, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.l.closed:
		return errors.New("ipc: connection closed")
	}

	select {
	case r := <-reply:
		*msg = *r
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.l.closed:
		return errors.New("ipc: connection closed")
	}
}

func (c *chanConn) Close() error { return nil }
