// Package ipc implements the fixed-size message transport used between
// fsclient and fsserver, standing in for the kernel Send/Receive trap
// pair described in the file server's wire protocol.
package ipc

import "fmt"

// Request type codes, 1..16, per the wire protocol.
const (
	TypeOpen = 1 + iota
	TypeClose
	TypeCreate
	TypeRead
	TypeWrite
	TypeSeek
	TypeLink
	TypeUnlink
	TypeSymLink
	TypeReadLink
	TypeMkDir
	TypeRmDir
	TypeChDir
	TypeStat
	TypeSync
	TypeShutdown
)

// TypeError overwrites Message.Type in a reply to signal failure; none
// of the request codes above collide with it.
const TypeError = -1

var typeNames = map[int32]string{
	TypeOpen:     "Open",
	TypeClose:    "Close",
	TypeCreate:   "Create",
	TypeRead:     "Read",
	TypeWrite:    "Write",
	TypeSeek:     "Seek",
	TypeLink:     "Link",
	TypeUnlink:   "Unlink",
	TypeSymLink:  "SymLink",
	TypeReadLink: "ReadLink",
	TypeMkDir:    "MkDir",
	TypeRmDir:    "RmDir",
	TypeChDir:    "ChDir",
	TypeStat:     "Stat",
	TypeSync:     "Sync",
	TypeShutdown: "Shutdown",
	TypeError:    "Error",
}

// TypeName renders a request/reply type code for logs and traces.
func TypeName(t int32) string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Message is the fixed 32-byte request/reply envelope: an int type tag,
// three int data fields, and two address fields used to carry
// over-size payloads via CopyTo/CopyFrom on a real kernel, or simply
// as byte-slice handles over this in-process/socket transport.
type Message struct {
	Type  int32
	Data1 int32
	Data2 int32
	Data3 int32
	Addr1 []byte
	Addr2 []byte
}

// Reset clears a message for reuse by a request pool.
func (m *Message) Reset() {
	m.Type, m.Data1, m.Data2, m.Data3 = 0, 0, 0, 0
	m.Addr1, m.Addr2 = nil, nil
}
