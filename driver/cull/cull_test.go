package cull

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/ctfileparse"
	"github.com/ctfile/ctengine/engine"
	"github.com/ctfile/ctengine/internal/trans"
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

func ctfileName(daysAgo int, suffix string) string {
	return time.Now().UTC().AddDate(0, 0, -daysAgo).Format("20060102-150405") + "-" + suffix
}

func writeManifest(t *testing.T, path, prev string, shas [][32]byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var buf bytes.Buffer
	w, err := ctfileparse.NewWriter(&buf, ctfileparse.Header{PrevName: prev})
	require.NoError(t, err)
	for _, sha := range shas {
		require.NoError(t, w.WriteSha(sha, nil))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// TestCullForceKeepsDependency covers S6: keep_days=7 over {file_t-10,
// file_t-3}, where file_t-3 names file_t-10 as its predecessor. file_t-10
// must be force-kept, no delete scheduled, and the full cull-setup /
// cull-shas / cull-complete exchange must still occur.
func TestCullForceKeepsDependency(t *testing.T) {
	gs := newTestEngine(t)
	cacheDir := t.TempDir()

	old := ctfileName(10, "old")
	recent := ctfileName(3, "recent")
	oldSha := [32]byte{1}
	recentSha := [32]byte{2}

	writeManifest(t, filepath.Join(cacheDir, old), "", [][32]byte{oldSha})
	writeManifest(t, filepath.Join(cacheDir, recent), old, [][32]byte{recentSha})

	var mu sync.Mutex
	var deleted []string
	var setupSent, completeSent bool
	var setupMode, completeMode xmlproto.CullMode
	var shasSeen []string

	server := func(sent transport.Frame) (transport.Frame, bool) {
		var list xmlproto.List
		if err := xmlproto.Unmarshal(sent.Body, &list); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.ListReply{Files: []string{old, recent}})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var del xmlproto.Delete
		if err := xmlproto.Unmarshal(sent.Body, &del); err == nil && del.File != "" {
			mu.Lock()
			deleted = append(deleted, del.File)
			mu.Unlock()
			body, _ := xmlproto.Marshal(&xmlproto.DeleteReply{File: del.File})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var setup xmlproto.CullSetup
		if err := xmlproto.Unmarshal(sent.Body, &setup); err == nil {
			mu.Lock()
			setupSent = true
			setupMode = setup.Mode
			mu.Unlock()
			body, _ := xmlproto.Marshal(&xmlproto.CullSetupReply{})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var shas xmlproto.CullShas
		if err := xmlproto.Unmarshal(sent.Body, &shas); err == nil {
			mu.Lock()
			shasSeen = append(shasSeen, shas.Shas...)
			mu.Unlock()
			body, _ := xmlproto.Marshal(&xmlproto.CullShasReply{})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var complete xmlproto.CullComplete
		if err := xmlproto.Unmarshal(sent.Body, &complete); err == nil {
			mu.Lock()
			completeSent = true
			completeMode = complete.Mode
			mu.Unlock()
			body, _ := xmlproto.Marshal(&xmlproto.CullCompleteReply{Generation: 42})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		return transport.Frame{}, false
	}
	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op, err := New(gs, Args{CacheDir: cacheDir, KeepDays: 7, ShaPerPacket: 1000})
	require.NoError(t, err)
	gs.Queue.Add(op)

	err = gs.Run()
	require.NoError(t, err)

	assert.Empty(t, deleted)
	assert.True(t, setupSent)
	assert.True(t, completeSent)
	assert.Equal(t, xmlproto.CullPrecious, setupMode)
	assert.Equal(t, xmlproto.CullProcess, completeMode)
	assert.ElementsMatch(t, []string{ctdb.ShaHex(oldSha), ctdb.ShaHex(recentSha)}, shasSeen)

	gen, err := gs.DB.CurrentGeneration()
	require.NoError(t, err)
	assert.Equal(t, int64(42), gen)
}
