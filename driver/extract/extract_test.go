package extract

import (
	"os"
	"path/filepath"
	"sync"
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
	cfg.Cache.Directory = dir
	store, err := chunkstore.NewFSStore(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	db, err := ctdb.Open(filepath.Join(dir, "ct.db"))
	require.NoError(t, err)
	return engine.New(cfg, store, db)
}

// TestExtractWritesChunksAndCloses simulates a server that answers a fixed
// number of reads with data then signals EOF on the next, exercising the
// EOF-to-close conversion (§4.4 "EOF handling").
func TestExtractWritesChunksAndCloses(t *testing.T) {
	gs := newTestEngine(t)
	destDir := t.TempDir()

	var mu sync.Mutex
	reads := 0
	var closed bool
	payload := []byte("abcd")

	server := func(sent transport.Frame) (transport.Frame, bool) {
		switch sent.Header.Opcode {
		case trans.OpReadChunk:
			mu.Lock()
			defer mu.Unlock()
			reads++
			if reads <= 3 {
				return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: payload}, true
			}
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusError)}}, true
		default:
			var open xmlproto.Open
			if err := xmlproto.Unmarshal(sent.Body, &open); err == nil && open.File != "" {
				body, _ := xmlproto.Marshal(&xmlproto.OpenReply{File: open.File})
				return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
			}
			var closeMsg xmlproto.Close
			if err := xmlproto.Unmarshal(sent.Body, &closeMsg); err == nil {
				mu.Lock()
				closed = true
				mu.Unlock()
				body, _ := xmlproto.Marshal(&xmlproto.CloseReply{})
				return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
			}
		}
		return transport.Frame{}, false
	}

	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{RemoteName: "20260101-000000-alice", DestDir: destDir})
	gs.Queue.Add(op)

	err := gs.Run()
	require.NoError(t, err)
	assert.True(t, closed)

	out, err := os.ReadFile(filepath.Join(destDir, "20260101-000000-alice"))
	require.NoError(t, err)
	assert.Equal(t, "abcdabcdabcd", string(out))

	size, inUse := gs.Pool.Stats()
	assert.Equal(t, 0, inUse)
	_ = size
}

func TestExtractRejectsBadRemoteName(t *testing.T) {
	gs := newTestEngine(t)
	fake := transport.NewFake(func(transport.Frame) (transport.Frame, bool) {
		return transport.Frame{}, false
	}, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{RemoteName: "bad name", DestDir: t.TempDir()})
	gs.Queue.Add(op)

	err := gs.Run()
	require.Error(t, err)
}
