package ctfileparse

import (
	"encoding/binary"
	"io"
)

// Writer builds a ctfile in this engine's binary layout. Tests use it to
// construct manifest fixtures for the parser and the delete and cull
// drivers; the archive driver ships an existing file and does not use it.
type Writer struct {
	w io.Writer
}

// NewWriter writes the magic and header immediately, then returns a Writer
// ready to accept records.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if _, err := w.Write(Magic[:]); err != nil {
		return nil, err
	}
	var flags byte
	if h.Crypto {
		flags |= cryptoFlagBit
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return nil, err
	}
	if err := writeUint16(w, uint16(len(h.PrevName))); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, h.PrevName); err != nil {
		return nil, err
	}
	return &Writer{w: w}, nil
}

// WriteFile appends a KindFile record.
func (wr *Writer) WriteFile(rec FileRecord) error {
	if _, err := wr.w.Write([]byte{byte(KindFile)}); err != nil {
		return err
	}
	if err := writeUint16(wr.w, uint16(len(rec.Name))); err != nil {
		return err
	}
	_, err := io.WriteString(wr.w, rec.Name)
	return err
}

// WriteSha appends a KindSha record followed by its payload.
func (wr *Writer) WriteSha(sha [32]byte, payload []byte) error {
	if _, err := wr.w.Write([]byte{byte(KindSha)}); err != nil {
		return err
	}
	if _, err := wr.w.Write(sha[:]); err != nil {
		return err
	}
	if err := writeUint32(wr.w, uint32(len(payload))); err != nil {
		return err
	}
	_, err := wr.w.Write(payload)
	return err
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}
