package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// FakeServer is the minimal surface a FakeTransport needs from a stand-in
// server: given a sent frame, produce the reply frame (or none, to simulate
// a dropped/errored connection).
type FakeServer func(sent Frame) (reply Frame, ok bool)

// FakeTransport is an in-memory Transport for deterministic driver tests
// (§2.2/§4.9): it calls a FakeServer synchronously inside Send and delivers
// replies through a single ordered pump goroutine, preserving the real
// transport's "replies arrive asynchronously, but in arrival order per
// session" contract (§5 "Ordering") even though Go's scheduler gives no
// such guarantee to independently-spawned goroutines.
type FakeTransport struct {
	mu      sync.Mutex
	server  FakeServer
	onReply ReplyHandler
	session uuid.UUID
	sent    []Frame
	closed  bool
	replies chan Frame
}

// NewFake constructs a FakeTransport backed by server.
func NewFake(server FakeServer, onReply ReplyHandler) *FakeTransport {
	f := &FakeTransport{
		server:  server,
		onReply: onReply,
		session: uuid.New(),
		replies: make(chan Frame, 256),
	}
	go f.pump()
	return f
}

func (f *FakeTransport) pump() {
	for reply := range f.replies {
		f.onReply(reply)
	}
}

func (f *FakeTransport) SessionID() uuid.UUID { return f.session }

// Sent returns every frame sent so far, for assertions in tests.
func (f *FakeTransport) Sent() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeTransport) Send(ctx context.Context, hdr Header, body []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return context.Canceled
	}
	frame := Frame{Header: hdr, Body: body}
	f.sent = append(f.sent, frame)
	f.mu.Unlock()

	reply, ok := f.server(frame)
	if !ok {
		return nil
	}
	f.replies <- reply
	return nil
}

func (f *FakeTransport) PolledOpen(hdr Header, body []byte, packetID uint64) (Frame, error) {
	hdr.Tag = packetID - 1
	reply, ok := f.server(Frame{Header: hdr, Body: body})
	if !ok {
		return Frame{}, context.DeadlineExceeded
	}
	return reply, nil
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	close(f.replies)
	return nil
}
