package list

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/trans"
	"github.com/ctfile/ctengine/match"
	"github.com/ctfile/ctengine/transport"
	"github.com/ctfile/ctengine/xmlproto"
)

func newTestEngine(t *testing.T) *engine.GlobalState {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	store, err := chunkstore.NewFSStore(filepath.Join(dir, "chunks"))
	require.NoError(t, err)
	db, err := ctdb.Open(filepath.Join(dir, "ct.db"))
	require.NoError(t, err)
	return engine.New(cfg, store, db)
}

func TestListFiltersByPattern(t *testing.T) {
	gs := newTestEngine(t)
	names := []string{"20260101-000000-alice", "20260102-000000-bob", "20260103-000000-alice"}

	server := func(sent transport.Frame) (transport.Frame, bool) {
		body, _ := xmlproto.Marshal(&xmlproto.ListReply{Files: names})
		return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
	}
	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	var into []string
	op := New(gs, Args{Include: []string{"*alice"}, Syntax: match.Glob, Into: &into})
	gs.Queue.Add(op)

	err := gs.Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"20260101-000000-alice", "20260103-000000-alice"}, into)
}
