package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"soundd/internal/wire"
)

type fakeMaster struct {
	mu     sync.Mutex
	reason CloseReason
	closed bool
}

func (m *fakeMaster) NotifyClosed(ctx *Context, reason CloseReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.reason = reason
}

func (m *fakeMaster) wait(t *testing.T) CloseReason {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		closed := m.closed
		reason := m.reason
		m.mu.Unlock()
		if closed {
			return reason
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("master was never notified")
	return Aborting
}

func simpleFrameBytes(code wire.SimpleCode) []byte {
	return wire.NewBuilder().WithSimple(code).Construct().Encode()
}

func structuredFrameBytes(msg wire.ClientMessage) []byte {
	payload := wire.MarshalClientMessage(msg)
	return wire.NewBuilder().WithPayload(payload).Construct().Encode()
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	f := wire.NewFramer()
	buf := make([]byte, 64)
	for !f.ParsedAvailable() {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if err := f.Feed(buf[:n]); err != nil {
			t.Fatalf("feed: %v", err)
		}
	}
	return f.Parsed()
}

func TestContextConnectAcknowledges(t *testing.T) {
	client, server := net.Pipe()
	master := &fakeMaster{}
	ctx := NewContext(server, &fakeEngine{}, master, nil)
	go ctx.Serve()

	client.Write(structuredFrameBytes(wire.ClientMessage{Context: &wire.ContextConnect{Name: "test client"}}))
	client.Write(simpleFrameBytes(wire.TRAIL))

	frame := readFrame(t, client)
	if frame.Type != wire.Simple || frame.Simple != wire.ACK {
		t.Fatalf("reply = %+v, want simple ACK", frame)
	}
	trail := readFrame(t, client)
	if trail.Type != wire.Simple || trail.Simple != wire.TRAIL {
		t.Fatalf("trail = %+v, want simple TRAIL", trail)
	}

	client.Close()
	master.wait(t)
}

func TestContextNewStreamConnectAssignsID(t *testing.T) {
	client, server := net.Pipe()
	master := &fakeMaster{}
	ctx := NewContext(server, &fakeEngine{}, master, nil)
	go ctx.Serve()

	cfg := playbackConfig()
	client.Write(structuredFrameBytes(wire.ClientMessage{Stream: &wire.ClientStreamMessage{
		StreamID: wire.NewStreamID,
		Connect:  &cfg,
	}}))
	client.Write(simpleFrameBytes(wire.TRAIL))

	reply := readFrame(t, client)
	if reply.Type != wire.Structured {
		t.Fatalf("reply type = %v, want Structured", reply.Type)
	}
	serverMsg, err := wire.UnmarshalServerMessage(reply.Payload)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if serverMsg.StreamID != 0 {
		t.Fatalf("stream id = %d, want 0 (first stream)", serverMsg.StreamID)
	}
	if serverMsg.ConnectConfirmal == nil || !serverMsg.ConnectConfirmal.Opened {
		t.Fatalf("expected opened confirmal, got %+v", serverMsg)
	}

	readFrame(t, client) // TRAIL
	client.Close()
	master.wait(t)
}

func TestContextUnknownStreamIDAborts(t *testing.T) {
	client, server := net.Pipe()
	master := &fakeMaster{}
	ctx := NewContext(server, &fakeEngine{}, master, nil)
	go ctx.Serve()

	client.Write(structuredFrameBytes(wire.ClientMessage{Stream: &wire.ClientStreamMessage{
		StreamID: 42,
		Close:    true,
	}}))

	reason := master.wait(t)
	if reason != Aborting {
		t.Fatalf("close reason = %v, want Aborting", reason)
	}
	client.Close()
}
