package delete

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctfile/ctengine/chunkstore"
	"github.com/ctfile/ctengine/config"
	"github.com/ctfile/ctengine/ctdb"
	"github.com/ctfile/ctengine/ctfileparse"
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

func writeManifest(t *testing.T, path, prev string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var buf bytes.Buffer
	w, err := ctfileparse.NewWriter(&buf, ctfileparse.Header{PrevName: prev})
	require.NoError(t, err)
	require.NoError(t, w.WriteFile(ctfileparse.FileRecord{Name: "data"}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// TestDeleteSchedulesMatchingFiles covers S4's positive sibling: two
// unrelated manifests, one retained and one matched for deletion, no
// dependency conflict.
func TestDeleteSchedulesMatchingFiles(t *testing.T) {
	gs := newTestEngine(t)
	cacheDir := t.TempDir()

	writeManifest(t, filepath.Join(cacheDir, "20260101-000000-keepme"), "")

	var mu sync.Mutex
	var deleted []string
	server := func(sent transport.Frame) (transport.Frame, bool) {
		var del xmlproto.Delete
		if err := xmlproto.Unmarshal(sent.Body, &del); err == nil && del.File != "" {
			mu.Lock()
			deleted = append(deleted, del.File)
			mu.Unlock()
			body, _ := xmlproto.Marshal(&xmlproto.DeleteReply{File: del.File})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var list xmlproto.List
		if err := xmlproto.Unmarshal(sent.Body, &list); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.ListReply{Files: []string{
				"20260101-000000-keepme", "20260102-000000-byebye",
			}})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		return transport.Frame{}, false
	}
	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{Pattern: "*byebye", Syntax: match.Glob, CacheDir: cacheDir})
	gs.Queue.Add(op)

	err := gs.Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"20260102-000000-byebye"}, deleted)
}

// TestDeleteNothingToDeleteWhenPatternMatchesNothing covers S4: an empty
// delete_files set fails fast with no transactions queued beyond the list.
func TestDeleteNothingToDeleteWhenPatternMatchesNothing(t *testing.T) {
	gs := newTestEngine(t)
	cacheDir := t.TempDir()

	server := func(sent transport.Frame) (transport.Frame, bool) {
		var list xmlproto.List
		if err := xmlproto.Unmarshal(sent.Body, &list); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.ListReply{Files: []string{"20260101-000000-keepme"}})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		return transport.Frame{}, false
	}
	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{Pattern: "*nomatch*", Syntax: match.Glob, CacheDir: cacheDir})
	gs.Queue.Add(op)

	err := gs.Run()
	require.Error(t, err)
}

// TestDeleteDependencyConflictBlocksDeletion covers S5: the retained file
// names the to-be-deleted file as its predecessor, so the whole operation
// must fail before any delete is sent.
func TestDeleteDependencyConflictBlocksDeletion(t *testing.T) {
	gs := newTestEngine(t)
	cacheDir := t.TempDir()

	writeManifest(t, filepath.Join(cacheDir, "20260102-000000-child"), "20260101-000000-parent")

	var deleteSent bool
	server := func(sent transport.Frame) (transport.Frame, bool) {
		var del xmlproto.Delete
		if err := xmlproto.Unmarshal(sent.Body, &del); err == nil && del.File != "" {
			deleteSent = true
			body, _ := xmlproto.Marshal(&xmlproto.DeleteReply{File: del.File})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		var list xmlproto.List
		if err := xmlproto.Unmarshal(sent.Body, &list); err == nil {
			body, _ := xmlproto.Marshal(&xmlproto.ListReply{Files: []string{
				"20260101-000000-parent", "20260102-000000-child",
			}})
			return transport.Frame{Header: transport.Header{Tag: sent.Header.Tag, Status: uint8(trans.StatusOK)}, Body: body}, true
		}
		return transport.Frame{}, false
	}
	fake := transport.NewFake(server, gs.OnReply)
	gs.AttachTransport(fake)
	defer fake.Close()

	op := New(gs, Args{Pattern: "*parent", Syntax: match.Glob, CacheDir: cacheDir})
	gs.Queue.Add(op)

	err := gs.Run()
	require.Error(t, err)
	assert.False(t, deleteSent)
}
