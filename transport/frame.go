// Package transport implements the authenticated, framed transport (§6
// "Transport framing"): every message is a fixed-size header followed by a
// body, multi-byte header fields in network byte order.
//
// This is an out-of-scope external collaborator (§1): the engine only needs
// a send/receive surface, not a specified transport design. It is still
// given a real TCP+TLS body here (grounded on the corpus's dial-with-
// deadline conventions) so the engine runs end to end, plus an in-memory
// FakeTransport for deterministic driver tests.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the wire size of Header in bytes:
// version(1) + opcode(1) + status(1) + flags(1) + exStatus(1) + pad(3) +
// tag(8) + bodySize(4).
const HeaderSize = 20

// ProtocolVersion is the only version this engine speaks.
const ProtocolVersion = 1

// Header is the bit-exact wire header (§6).
type Header struct {
	Version   uint8
	Opcode    uint8
	Status    uint8
	Flags     uint8
	ExStatus  uint8
	Tag       uint64
	BodySize  uint32
}

// Encode writes h in wire format (network byte order) to w.
func (h Header) Encode(w io.Writer) error {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	buf[1] = h.Opcode
	buf[2] = h.Status
	buf[3] = h.Flags
	buf[4] = h.ExStatus
	// buf[5:8] padding, always zero
	binary.BigEndian.PutUint64(buf[8:16], h.Tag)
	binary.BigEndian.PutUint32(buf[16:20], h.BodySize)
	n, err := w.Write(buf[:])
	if err != nil {
		return err
	}
	if n != HeaderSize {
		return fmt.Errorf("transport: short header write (%d of %d)", n, HeaderSize)
	}
	return nil
}

// DecodeHeader reads one wire header from r.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Version:  buf[0],
		Opcode:   buf[1],
		Status:   buf[2],
		Flags:    buf[3],
		ExStatus: buf[4],
		Tag:      binary.BigEndian.Uint64(buf[8:16]),
		BodySize: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// Frame is one decoded header+body pair.
type Frame struct {
	Header Header
	Body   []byte
}
