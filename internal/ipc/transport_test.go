package ipc

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// echoServe runs a trivial dispatcher over ln: each request is replied
// to with its Data1 incremented, Data2/Data3 returned unchanged, and
// Addr1 echoed into Addr2.
func echoServe(ctx context.Context, ln Listener) {
	for {
		req, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		reply := &Message{
			Type:  req.Msg.Type,
			Data1: req.Msg.Data1 + 1,
			Data2: req.Msg.Data2,
			Data3: req.Msg.Data3,
			Addr2: req.Msg.Addr1,
		}
		if err := req.Reply(reply); err != nil {
			return
		}
	}
}

func TestChanTransportRoundTrip(t *testing.T) {
	ln, conn := NewChanTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoServe(ctx, ln)

	msg := &Message{Type: TypeStat, Data1: 41, Addr1: []byte("/some/path")}
	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := conn.Send(sendCtx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Data1 != 42 {
		t.Fatalf("Data1 = %d, want 42", msg.Data1)
	}
	if string(msg.Addr2) != "/some/path" {
		t.Fatalf("Addr2 = %q, want the echoed payload", msg.Addr2)
	}
}

func TestChanTransportSendAfterCloseFails(t *testing.T) {
	ln, conn := NewChanTransport()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Send(ctx, &Message{Type: TypeSync}); err == nil {
		t.Fatal("Send on a closed transport should fail")
	}
}

func TestNetTransportRoundTripOverUnixSocket(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := Listen("unix", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoServe(ctx, ln)

	conn, err := Dial("unix", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Addr payloads cross the socket length-prefixed in both
	// directions, including a zero-length Addr2 on the way out.
	msg := &Message{Type: TypeWrite, Data1: 7, Data2: 3, Data3: 9, Addr1: []byte("abc")}
	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	if err := conn.Send(sendCtx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Data1 != 8 || msg.Data2 != 3 || msg.Data3 != 9 {
		t.Fatalf("header fields = %d/%d/%d, want 8/3/9", msg.Data1, msg.Data2, msg.Data3)
	}
	if string(msg.Addr2) != "abc" {
		t.Fatalf("Addr2 = %q, want %q", msg.Addr2, "abc")
	}
}

func TestNetTransportSequentialRequestsShareOneConn(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := Listen("unix", addr)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoServe(ctx, ln)

	conn, err := Dial("unix", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := int32(0); i < 10; i++ {
		msg := &Message{Type: TypeRead, Data1: i}
		sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.Send(sendCtx, msg)
		sendCancel()
		if err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
		if msg.Data1 != i+1 {
			t.Fatalf("reply #%d: Data1 = %d, want %d", i, msg.Data1, i+1)
		}
	}
}
