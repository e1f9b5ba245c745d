package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctfile/ctengine/internal/ctxerr"
	"github.com/ctfile/ctengine/internal/logging"
)

var log = logging.WithComponent(logging.ComponentNet)

// pollTimeout is the fixed I/O timeout for the synchronous polled open used
// during session establishment (§5 "Cancellation").
const pollTimeout = 20 * time.Second

// ReplyHandler is invoked on the event-loop's behalf whenever a complete
// frame arrives. It must not block; the transport's read goroutine calls it
// directly and then resumes reading.
type ReplyHandler func(Frame)

// Transport is the send/receive surface the engine's drivers and control
// channel depend on. Send writes header+body and returns without waiting
// for the reply; replies arrive later via the ReplyHandler passed to
// Dial/NewFake.
type Transport interface {
	// Send writes one frame. Safe to call from the event-loop goroutine.
	Send(ctx context.Context, hdr Header, body []byte) error
	// PolledOpen performs the synchronous, timeout-bounded open used during
	// session establishment (§4.3 step 1 analogue, §6): it writes the given
	// frame using packetID-1 as its tag and waits (up to 20s) for the
	// matching reply, bypassing the async reply handler.
	PolledOpen(hdr Header, body []byte, packetID uint64) (Frame, error)
	// SessionID is a correlation id for logging, set once per connection.
	SessionID() uuid.UUID
	Close() error
}

// connTransport is the real TCP(+TLS) implementation.
type connTransport struct {
	conn    net.Conn
	onReply ReplyHandler
	session uuid.UUID

	writeMu sync.Mutex
	done    chan struct{}
	closeOnce sync.Once
}

// Dial opens an authenticated session to addr. If tlsConfig is non-nil the
// connection is wrapped in TLS (the "authenticated" half of §1's "the
// authenticated transport").
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, onReply ReplyHandler) (Transport, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ctxerr.Wrap(ctxerr.CodeErrno, addr, err)
	}
	if tlsConfig != nil {
		tconn := tls.Client(conn, tlsConfig)
		if err := tconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, ctxerr.Wrap(ctxerr.CodeErrno, addr, err)
		}
		conn = tconn
	}
	ct := &connTransport{
		conn:    conn,
		onReply: onReply,
		session: uuid.New(),
		done:    make(chan struct{}),
	}
	go ct.readLoop()
	return ct, nil
}

func (c *connTransport) SessionID() uuid.UUID { return c.session }

func (c *connTransport) Send(ctx context.Context, hdr Header, body []byte) error {
	hdr.Version = ProtocolVersion
	hdr.BodySize = uint32(len(body))
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := hdr.Encode(c.conn); err != nil {
		return ctxerr.Wrap(ctxerr.CodeShortWrite, "", err)
	}
	if len(body) == 0 {
		return nil
	}
	n, err := c.conn.Write(body)
	if err != nil {
		return ctxerr.Wrap(ctxerr.CodeShortWrite, "", err)
	}
	if n != len(body) {
		return ctxerr.New(ctxerr.CodeShortWrite, "")
	}
	return nil
}

func (c *connTransport) readLoop() {
	for {
		hdr, err := DecodeHeader(c.conn)
		if err != nil {
			select {
			case <-c.done:
			default:
				log.WithError(err).Warn("transport read loop exiting")
			}
			return
		}
		body := make([]byte, hdr.BodySize)
		if hdr.BodySize > 0 {
			if _, err := readFull(c.conn, body); err != nil {
				log.WithError(err).Warn("short read of frame body")
				return
			}
		}
		c.onReply(Frame{Header: hdr, Body: body})
	}
}

// PolledOpen bypasses the async read loop: it is only used once, before the
// read loop is reading genuinely interleaved traffic, to establish the
// session (§6: "the polled open variant reuses packet_id - 1 as its tag").
func (c *connTransport) PolledOpen(hdr Header, body []byte, packetID uint64) (Frame, error) {
	hdr.Tag = packetID - 1
	c.conn.SetDeadline(time.Now().Add(pollTimeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.Send(context.Background(), hdr, body); err != nil {
		return Frame{}, err
	}
	replyHdr, err := DecodeHeader(c.conn)
	if err != nil {
		return Frame{}, ctxerr.Wrap(ctxerr.CodeShortRead, "", err)
	}
	replyBody := make([]byte, replyHdr.BodySize)
	if replyHdr.BodySize > 0 {
		if _, err := readFull(c.conn, replyBody); err != nil {
			return Frame{}, ctxerr.Wrap(ctxerr.CodeShortRead, "", err)
		}
	}
	return Frame{Header: replyHdr, Body: replyBody}, nil
}

func (c *connTransport) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
