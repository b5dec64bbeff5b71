package ipc

import "context"

// Conn is one end of a fixed-message-size channel between a file server
// client and the dispatcher. Send blocks until a reply has been
// written back into msg by the peer, mirroring Yalnix's synchronous
// Send(msg, -FILE_SERVER) trap.
type Conn interface {
	// Send transmits msg to the peer and blocks until the peer's reply
	// has been written back into msg, or ctx is done.
	Send(ctx context.Context, msg *Message) error

	Close() error
}

// Listener accepts the server side of a Conn, the file-server
// dispatcher's receive loop.
type Listener interface {
	// Accept blocks until a client has a request ready, returning a
	// Request the dispatcher replies to via Request.Reply.
	Accept(ctx context.Context) (*Request, error)

	Close() error
}

// Request is one inbound message paired with the means to reply to it.
type Request struct {
	Msg   *Message
	reply func(*Message) error
}

// Reply sends msg back to the requesting client.
func (r *Request) Reply(msg *Message) error {
	return r.reply(msg)
}
