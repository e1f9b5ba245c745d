package ctfileparse

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteParseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, Header{Crypto: true, PrevName: "20260101-000000-alice"})
	require.NoError(t, err)
	require.NoError(t, w.WriteFile(FileRecord{Name: "etc/passwd"}))
	require.NoError(t, w.WriteSha([32]byte{1, 2, 3}, []byte("chunk-one")))
	require.NoError(t, w.WriteSha([32]byte{4, 5, 6}, []byte("chunk-two")))

	p, err := NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.True(t, p.Header.Crypto)
	assert.Equal(t, "20260101-000000-alice", p.Header.PrevName)

	kind, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, KindFile, kind)
	f, err := p.File()
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", f.Name)

	kind, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, KindSha, kind)
	sha, err := p.Sha()
	require.NoError(t, err)
	assert.Equal(t, [32]byte{1, 2, 3}, sha.Sha)
	assert.EqualValues(t, len("chunk-one"), sha.PayloadLen)

	// Don't read the payload; Next must seek past it automatically.
	kind, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, KindSha, kind)
	sha2, err := p.Sha()
	require.NoError(t, err)
	assert.Equal(t, [32]byte{4, 5, 6}, sha2.Sha)
	payload, err := p.ReadPayload()
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk-two"), payload)

	_, err = p.Next()
	assert.Equal(t, io.EOF, err)
}

func TestParserRejectsBadMagic(t *testing.T) {
	_, err := NewParser(bytes.NewReader([]byte("not-a-ctfile-at-all-")))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestParserNoPreviousName(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, Header{})
	require.NoError(t, err)
	p, err := NewParser(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.False(t, p.Header.Crypto)
	assert.Equal(t, "", p.Header.PrevName)
	_, err = p.Next()
	assert.Equal(t, io.EOF, err)
}
