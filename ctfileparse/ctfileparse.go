// Package ctfileparse stands in for the out-of-scope ctfile parser (§1):
// "streams header, per-file metadata, and SHA records from a local
// manifest". The production binary ctfile format is explicitly a Non-goal
// (§1); this package defines a small, internally-consistent binary layout
// sufficient to exercise archive pre-validation (§4.3 step 1), extract
// writing, and cull's live-SHA collection (§4.7 step 3, "ct_cull_add_shafile"
// in the original).
//
// Layout: a 4-byte magic, a header record (crypto flag + previous-ctfile
// name), then a stream of records each tagged Kind, terminated by EOF.
package ctfileparse

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifies this engine's ctfile format.
var Magic = [4]byte{'C', 'T', 'F', '1'}

// Kind tags each record after the header.
type Kind uint8

// Record kinds.
const (
	KindFile Kind = 1
	KindSha  Kind = 2
)

// Header is the manifest's chain-linking metadata (§3 "Ctfile").
type Header struct {
	Crypto   bool   // whether Sha records below are encrypted (crypto-sha)
	PrevName string // previous backup's ctfile name, or "" if this is a full backup
}

const cryptoFlagBit = 1 << 0

// FileRecord describes one file entry in the backup tree.
type FileRecord struct {
	Name string
}

// ShaRecord is one content-addressed chunk reference. Payload immediately
// follows the record header on the wire; archive pre-validation seeks past
// it without reading it (§4.3 step 1).
type ShaRecord struct {
	Sha        [32]byte
	PayloadLen uint32
}

// ErrBadMagic is returned when the stream does not begin with Magic.
var ErrBadMagic = errors.New("ctfileparse: bad magic, not a ctfile")

// Parser streams a ctfile's header and records from an io.ReadSeeker (it
// needs Seek to skip SHA payloads without reading them, §4.3 step 1).
type Parser struct {
	r      io.ReadSeeker
	br     *bufio.Reader
	Header Header

	pendingPayload uint32 // unread bytes of the most recently read ShaRecord's payload
}

// NewParser reads and validates the magic and header, leaving the stream
// positioned at the first record.
func NewParser(r io.ReadSeeker) (*Parser, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	var flags [1]byte
	if _, err := io.ReadFull(br, flags[:]); err != nil {
		return nil, err
	}
	prevLen, err := readUint16(br)
	if err != nil {
		return nil, err
	}
	prevName := make([]byte, prevLen)
	if prevLen > 0 {
		if _, err := io.ReadFull(br, prevName); err != nil {
			return nil, err
		}
	}
	return &Parser{
		r: r,
		br: br,
		Header: Header{
			Crypto:   flags[0]&cryptoFlagBit != 0,
			PrevName: string(prevName),
		},
	}, nil
}

// Next reads the next record's kind. Callers must call File() or Sha()
// immediately after to retrieve its payload, matching which Kind was
// returned. io.EOF is returned (not wrapped) when the stream is exhausted,
// mirroring the original parser's XS_RET_EOF.
func (p *Parser) Next() (Kind, error) {
	if p.pendingPayload > 0 {
		if err := p.SeekPastPayload(); err != nil {
			return 0, err
		}
	}
	var kindBuf [1]byte
	_, err := io.ReadFull(p.br, kindBuf[:])
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	return Kind(kindBuf[0]), nil
}

// File reads a KindFile record's body. Only valid immediately after Next
// returned KindFile.
func (p *Parser) File() (FileRecord, error) {
	nameLen, err := readUint16(p.br)
	if err != nil {
		return FileRecord{}, err
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(p.br, name); err != nil {
		return FileRecord{}, err
	}
	return FileRecord{Name: string(name)}, nil
}

// Sha reads a KindSha record's header (not its payload). Only valid
// immediately after Next returned KindSha. The payload, if any, must be
// consumed via SeekPastPayload, ReadPayload, or implicitly by the next
// call to Next.
func (p *Parser) Sha() (ShaRecord, error) {
	var rec ShaRecord
	if _, err := io.ReadFull(p.br, rec.Sha[:]); err != nil {
		return ShaRecord{}, err
	}
	payloadLen, err := readUint32(p.br)
	if err != nil {
		return ShaRecord{}, err
	}
	rec.PayloadLen = payloadLen
	p.pendingPayload = payloadLen
	return rec, nil
}

// SeekPastPayload skips the current Sha record's payload without reading
// it, using Seek the way archive pre-validation does (§4.3 step 1: "for
// every SHA record, seek past its payload").
func (p *Parser) SeekPastPayload() error {
	n := int64(p.pendingPayload)
	p.pendingPayload = 0
	if n == 0 {
		return nil
	}
	// The bufio.Reader may have buffered part of the payload already;
	// discard through it before falling back to Seek on the underlying
	// reader for the remainder (the buffer is then reset to the new
	// position).
	buffered := p.br.Buffered()
	if int64(buffered) >= n {
		_, err := p.br.Discard(int(n))
		return err
	}
	if _, err := p.br.Discard(buffered); err != nil {
		return fmt.Errorf("ctfileparse: seek past payload: %w", err)
	}
	if _, err := p.r.Seek(n-int64(buffered), io.SeekCurrent); err != nil {
		return fmt.Errorf("ctfileparse: seek past payload: %w", err)
	}
	p.br.Reset(p.r)
	return nil
}

// ReadPayload reads and returns the current Sha record's payload in full
// (used by extract/archive when the payload must actually be transferred,
// as opposed to pre-validation's seek-only pass).
func (p *Parser) ReadPayload() ([]byte, error) {
	n := p.pendingPayload
	p.pendingPayload = 0
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(p.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
