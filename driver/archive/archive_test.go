package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/transport"
	"github.com/ctfile/ctengine/xmlproto"
)

func newTestEngine(t *testing.T) *engine.GlobalState {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Transfer.MaxBlockSize = 8
	cfg.Cache.Directory = dir
	store, err := chunkstore.NewFSStore(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	db, err := ctdb.Open(filepath.Join(dir, "ct.db"))
	require.NoError(t, err)
	return engine.New(cfg, store, db)
}

func TestArchiveStreamsFileAndCloses(t *testing.T) {
	gs := newTestEngine(t)

	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.ctfile")
	require.NoError(t, os.WriteFile(localPath, []byte("0123456789abcdefghij"), 0o644))

	var opened, closed bool
	var chunks [][]byte
	server := func(sent transport.Frame) (transport.Frame, bool) {
		switch sent.Header.Opcode {
		case trans.OpWriteChunk:
			chunks = append(chunks, append([]byte(nil), sent.Body...))
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}}, true
		default:
			// XML control message: decide by trying each shape.
			var open xmlproto.Open
			if err := xmlproto.Unmarshal(sent.Body, &open); err == nil && open.File != "" {
				opened = true
				body, _ := xmlproto.Marshal(&xmlproto.OpenReply{File: open.File})
				return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
			}
			var closeMsg xmlproto.Close
			if err := xmlproto.Unmarshal(sent.Body, &closeMsg); err == nil {
				closed = true
				body, _ := xmlproto.Marshal(&xmlproto.CloseReply{})
				return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
			}
		}
		return transport.Frame{}, false
	}

	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{LocalPath: localPath, RemoteName: "20260101-000000-alice"})
	gs.Queue.Add(op)

	err := gs.Run()
	require.NoError(t, err)

	assert.True(t, opened)
	assert.True(t, closed)
	assert.NotEmpty(t, chunks)

	var total []byte
	for _, c := range chunks {
		total = append(total, c...)
	}
	assert.Equal(t, "0123456789abcdefghij", string(total))

	size, inUse := gs.Pool.Stats()
	assert.Equal(t, 0, inUse)
	assert.Equal(t, 32, size)
}

func TestArchiveRejectsInvalidRemoteName(t *testing.T) {
	gs := newTestEngine(t)
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.ctfile")
	require.NoError(t, os.WriteFile(localPath, []byte("x"), 0o644))

	fake := transport.NewFake(func(transport.Frame) (transport.Frame, bool) {
		return transport.Frame{}, false
	}, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{LocalPath: localPath, RemoteName: "bad/name"})
	gs.Queue.Add(op)

	err := gs.Run()
	require.Error(t, err)
}
